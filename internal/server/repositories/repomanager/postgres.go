// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/migrations"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/bindings"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/claims"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/grants"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/hashes"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/peppers"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Hashes returns the local hash directory repository.
func (m *PostgresRepositoryManager) Hashes(db dbx.DBTX) hashes.Repository {
	return hashes.NewPostgresRepository(db)
}

// Claims returns the federation ledger repository.
func (m *PostgresRepositoryManager) Claims(db dbx.DBTX) claims.Repository {
	return claims.NewPostgresRepository(db)
}

// Peppers returns the pepper pair repository.
func (m *PostgresRepositoryManager) Peppers(db dbx.DBTX) peppers.Repository {
	return peppers.NewPostgresRepository(db)
}

// Grants returns the access token repository.
func (m *PostgresRepositoryManager) Grants(db dbx.DBTX) grants.Repository {
	return grants.NewPostgresRepository(db)
}

// Bindings returns the repository of operator-bound identifiers.
func (m *PostgresRepositoryManager) Bindings(db dbx.DBTX) bindings.Repository {
	return bindings.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
