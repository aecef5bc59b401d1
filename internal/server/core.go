package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fedid/internal/logging"
	"github.com/dmitrijs2005/fedid/internal/server/config"
	"github.com/dmitrijs2005/fedid/internal/server/directory"
	"github.com/dmitrijs2005/fedid/internal/server/metrics"
	"github.com/dmitrijs2005/fedid/internal/server/pepper"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fedid/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Core is the state shared by the server and the admin commands: a migrated
// database, the loaded pepper pair and the directory service.
type Core struct {
	Config    *config.Config
	Logger    logging.Logger
	DB        *sql.DB
	Repos     repomanager.RepositoryManager
	Peppers   *pepper.Store
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Directory *services.DirectoryService
}

// Open connects to the database, applies migrations and loads the pepper.
func Open(ctx context.Context, c *config.Config) (*Core, error) {
	logger, err := logging.New(c.LogFormat, os.Stdout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store := pepper.NewStore(rm.Peppers(db), logger)
	if err := store.Load(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pepper load error: %w", err)
	}

	src, err := directory.NewSource(ctx, c.Directory, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("directory source error: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	return &Core{
		Config:    c,
		Logger:    logger,
		DB:        db,
		Repos:     rm,
		Peppers:   store,
		Registry:  reg,
		Metrics:   mt,
		Directory: services.NewDirectoryService(db, rm, store, src, mt, logger),
	}, nil
}

func (c *Core) Close() error {
	return c.DB.Close()
}
