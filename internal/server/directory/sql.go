package directory

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/models"
)

// SQLSource runs a configured query returning
// (address, medium, value, active) rows.
type SQLSource struct {
	db    dbx.DBTX
	query string
}

func NewSQLSource(db dbx.DBTX, query string) *SQLSource {
	return &SQLSource{db: db, query: query}
}

func (s *SQLSource) Records(ctx context.Context) ([]models.DirectoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("directory query: %w", err)
	}
	defer rows.Close()

	var result []models.DirectoryRecord
	for rows.Next() {
		var r models.DirectoryRecord
		if err := rows.Scan(&r.Address, &r.Medium, &r.Value, &r.Active); err != nil {
			return nil, fmt.Errorf("directory scan: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory query: %w", err)
	}
	return result, nil
}
