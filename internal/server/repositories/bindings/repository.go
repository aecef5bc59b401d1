package bindings

import (
	"context"

	"github.com/dmitrijs2005/fedid/internal/server/models"
)

// Repository keeps the plaintext identifiers bound by operators. The rows are
// what the default "sql" directory source reads back on every rebuild.
type Repository interface {
	Save(ctx context.Context, rec models.DirectoryRecord) error
	Delete(ctx context.Context, medium, value string) (int64, error)
}
