package grants

import (
	"context"

	"github.com/dmitrijs2005/fedid/internal/server/models"
)

// Repository stores opaque access tokens issued to lookup clients.
type Repository interface {
	Create(ctx context.Context, token, subject string) error
	Find(ctx context.Context, token string) (*models.AccessGrant, error)
	Delete(ctx context.Context, token string) error
}
