// Package bindings provides the PostgreSQL-backed store of bound identifiers.
package bindings

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save inserts the record or replaces the address and state of an existing
// (medium, value).
func (r *PostgresRepository) Save(ctx context.Context, rec models.DirectoryRecord) error {
	query := `
		INSERT INTO directory_users (address, medium, value, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (medium, value) DO UPDATE
		SET address = EXCLUDED.address, active = EXCLUDED.active`

	if _, err := r.db.ExecContext(ctx, query, rec.Address, rec.Medium, rec.Value, rec.Active); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, medium, value string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM directory_users WHERE medium = $1 AND value = $2`, medium, value)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
