package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/bindings"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/claims"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/grants"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/hashes"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/peppers"
)

// RepositoryManager vends repositories bound to a connection or transaction,
// so services can run several of them inside one dbx.WithTx call.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Hashes(db dbx.DBTX) hashes.Repository
	Claims(db dbx.DBTX) claims.Repository
	Peppers(db dbx.DBTX) peppers.Repository
	Grants(db dbx.DBTX) grants.Repository
	Bindings(db dbx.DBTX) bindings.Repository
}
