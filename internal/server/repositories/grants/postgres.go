// Package grants provides the PostgreSQL-backed access token repository.
package grants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create stores a token. An empty subject is stored as NULL.
func (r *PostgresRepository) Create(ctx context.Context, token, subject string) error {
	query := `
		INSERT INTO access_tokens (token, subject)
		VALUES ($1, $2)`

	sub := sql.NullString{String: subject, Valid: subject != ""}
	if _, err := r.db.ExecContext(ctx, query, token, sub); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Find returns the grant for token or common.ErrorNotFound.
func (r *PostgresRepository) Find(ctx context.Context, token string) (*models.AccessGrant, error) {
	query := `SELECT token, subject, created_at FROM access_tokens WHERE token = $1`

	var (
		g   models.AccessGrant
		sub sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, token).Scan(&g.Token, &sub, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	g.Subject = sub.String
	return &g, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
