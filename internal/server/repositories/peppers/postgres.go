// Package peppers provides the PostgreSQL-backed pepper repository.
package peppers

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

func (r *PostgresRepository) Get(ctx context.Context) (*models.PepperState, error) {
	query := `SELECT current, previous, rotated_at FROM peppers WHERE id = 1`

	var (
		s        models.PepperState
		previous sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query).Scan(&s.Current, &previous, &s.RotatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.Previous = previous.String
	return &s, nil
}

func (r *PostgresRepository) Init(ctx context.Context, current string) error {
	query := `
		INSERT INTO peppers (id, current)
		VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, current); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Rotate(ctx context.Context, expectedCurrent, next string) error {
	query := `
		UPDATE peppers
		SET previous = current, current = $2, rotated_at = now()
		WHERE id = 1 AND current = $1`

	res, err := r.db.ExecContext(ctx, query, expectedCurrent, next)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrStalePepper
	}
	return nil
}
