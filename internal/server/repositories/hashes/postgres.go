// Package hashes provides the PostgreSQL-backed hash directory repository.
package hashes

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/models"
)

// batchSize bounds the rows of one multi-row statement.
const batchSize = 500

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByHashes(ctx context.Context, hashes []string, activeOnly bool) ([]*models.HashEntry, error) {
	var result []*models.HashEntry
	for _, c := range dbx.Chunk(len(hashes), batchSize) {
		part := hashes[c[0]:c[1]]
		query := `
		SELECT hash, pepper, address, active
		FROM hashes
		WHERE hash IN (` + dbx.Placeholders(1, len(part)) + `)`
		if activeOnly {
			query += ` AND active`
		}

		rows, err := r.db.QueryContext(ctx, query, dbx.StringArgs(part)...)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		for rows.Next() {
			var e models.HashEntry
			if err := rows.Scan(&e.Hash, &e.Pepper, &e.Address, &e.Active); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan error: %w", err)
			}
			result = append(result, &e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
	}
	return result, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, entries []*models.HashEntry) error {
	for _, c := range dbx.Chunk(len(entries), batchSize) {
		part := entries[c[0]:c[1]]
		query := `
		INSERT INTO hashes (hash, pepper, address, active, seen_at)
		VALUES ` + dbx.ValuesRows(len(part), 5) + `
		ON CONFLICT (hash, pepper)
		DO UPDATE SET
			address = EXCLUDED.address,
			active = EXCLUDED.active,
			seen_at = EXCLUDED.seen_at`

		args := make([]any, 0, len(part)*5)
		for _, e := range part {
			args = append(args, e.Hash, e.Pepper, e.Address, e.Active, e.SeenAt)
		}
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) DeleteByHashes(ctx context.Context, hashes []string) (int64, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	query := `
		DELETE FROM hashes
		WHERE hash IN (` + dbx.Placeholders(1, len(hashes)) + `)`
	res, err := r.db.ExecContext(ctx, query, dbx.StringArgs(hashes)...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Prune(ctx context.Context, livePeppers []string, seenBefore time.Time) (int64, error) {
	if len(livePeppers) == 0 {
		return 0, fmt.Errorf("prune without live peppers refused")
	}
	query := `
		DELETE FROM hashes
		WHERE pepper NOT IN (` + dbx.Placeholders(2, len(livePeppers)) + `)
		OR seen_at < $1`
	args := append([]any{seenBefore}, dbx.StringArgs(livePeppers)...)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
