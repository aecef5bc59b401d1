// Package hashes declares the repository contract for the local hash
// directory: digests of this server's own users' identifiers.
package hashes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fedid/internal/server/models"
)

// Repository defines the queries issued against the hash directory.
type Repository interface {
	// FindByHashes returns the rows whose hash is in the given set. With
	// activeOnly, inactive rows are not read at all.
	FindByHashes(ctx context.Context, hashes []string, activeOnly bool) ([]*models.HashEntry, error)

	// Upsert inserts rows or refreshes address/active/seen_at of existing ones.
	Upsert(ctx context.Context, entries []*models.HashEntry) error

	// DeleteByHashes removes rows by digest, whatever the pepper.
	DeleteByHashes(ctx context.Context, hashes []string) (int64, error)

	// Prune removes rows whose pepper is not live or that were not confirmed
	// by a directory scan since seenBefore.
	Prune(ctx context.Context, livePeppers []string, seenBefore time.Time) (int64, error)
}
