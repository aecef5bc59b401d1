// Package claims provides the PostgreSQL-backed federation ledger.
package claims

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/models"
)

const batchSize = 500

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByHashes(ctx context.Context, hashes []string) ([]*models.FederatedClaim, error) {
	var result []*models.FederatedClaim
	for _, c := range dbx.Chunk(len(hashes), batchSize) {
		part := hashes[c[0]:c[1]]
		query := `
		SELECT hash, server, pepper
		FROM federated_claims
		WHERE hash IN (` + dbx.Placeholders(1, len(part)) + `)`

		rows, err := r.db.QueryContext(ctx, query, dbx.StringArgs(part)...)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		for rows.Next() {
			var c models.FederatedClaim
			if err := rows.Scan(&c.Hash, &c.Server, &c.Pepper); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan error: %w", err)
			}
			result = append(result, &c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
	}
	return result, nil
}

func (r *PostgresRepository) DeleteStale(ctx context.Context, server string, livePeppers []string) (int64, error) {
	if len(livePeppers) == 0 {
		return 0, fmt.Errorf("delete without live peppers refused")
	}
	query := `
		DELETE FROM federated_claims
		WHERE server = $1
		AND pepper NOT IN (` + dbx.Placeholders(2, len(livePeppers)) + `)`
	args := append([]any{server}, dbx.StringArgs(livePeppers)...)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Insert(ctx context.Context, server, pepper string, hashes []string) error {
	for _, c := range dbx.Chunk(len(hashes), batchSize) {
		part := hashes[c[0]:c[1]]
		query := `
		INSERT INTO federated_claims (hash, server, pepper)
		VALUES ` + dbx.ValuesRows(len(part), 3) + `
		ON CONFLICT (hash, server, pepper) DO NOTHING`

		args := make([]any, 0, len(part)*3)
		for _, h := range part {
			args = append(args, h, server, pepper)
		}
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}
