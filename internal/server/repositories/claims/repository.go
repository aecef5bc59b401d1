// Package claims declares the repository contract of the federation ledger:
// hash→server claims pushed by trusted peers.
package claims

import (
	"context"

	"github.com/dmitrijs2005/fedid/internal/server/models"
)

// Repository defines operations on federated claims. Every mutation is
// scoped by server, so one peer can never touch another peer's rows.
type Repository interface {
	// FindByHashes returns claims for the given digests.
	FindByHashes(ctx context.Context, hashes []string) ([]*models.FederatedClaim, error)

	// DeleteStale removes the server's claims whose pepper is not live.
	DeleteStale(ctx context.Context, server string, livePeppers []string) (int64, error)

	// Insert stores one claim per hash under (server, pepper); existing
	// identical claims are left as they are.
	Insert(ctx context.Context, server, pepper string, hashes []string) error
}
