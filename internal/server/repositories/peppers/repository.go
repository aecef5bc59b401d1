// Package peppers declares the persistence contract for the pepper pair.
package peppers

import (
	"context"

	"github.com/dmitrijs2005/fedid/internal/server/models"
)

// Repository stores the single (current, previous) pepper row.
type Repository interface {
	// Get returns the persisted pair or common.ErrorNotFound.
	Get(ctx context.Context) (*models.PepperState, error)

	// Init stores current as the first pepper unless a row already exists.
	Init(ctx context.Context, current string) error

	// Rotate moves expectedCurrent into previous and stores next as current.
	// It returns common.ErrStalePepper when the row no longer holds
	// expectedCurrent.
	Rotate(ctx context.Context, expectedCurrent, next string) error
}
