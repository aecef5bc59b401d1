package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/logging"
	"github.com/dmitrijs2005/fedid/internal/server/metrics"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/repomanager"
)

// FederationService applies pushes from trusted peers to the federation
// ledger.
type FederationService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	peppers       PepperSource
	acceptUnknown bool
	metrics       *metrics.Metrics
	logger        logging.Logger
}

func NewFederationService(db *sql.DB, m repomanager.RepositoryManager, peppers PepperSource,
	acceptUnknownPepper bool, mt *metrics.Metrics, logger logging.Logger) *FederationService {
	return &FederationService{
		db:            db,
		repomanager:   m,
		peppers:       peppers,
		acceptUnknown: acceptUnknownPepper,
		metrics:       mt,
		logger:        logger.With("module", "federation"),
	}
}

// Ingest first deletes the server's claims under retired peppers, then stores
// one claim per hash under (server, pepper). Both steps commit together or
// not at all.
//
// A pepper that is not live is refused with common.ErrInvalidPepper unless
// the service was built to accept it.
func (s *FederationService) Ingest(ctx context.Context, server, pepper string, hashes []string) error {
	if server == "" {
		return fmt.Errorf("%w: empty server name", common.ErrorValidation)
	}
	if pepper == "" {
		return fmt.Errorf("%w: empty pepper", common.ErrorValidation)
	}

	live := s.peppers.Snapshot()
	if !live.IsLive(pepper) && !s.acceptUnknown {
		s.metrics.PushesRejected.WithLabelValues("pepper").Inc()
		return common.ErrInvalidPepper
	}

	hashes = uniqueNonEmpty(hashes)

	var pruned int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Claims(tx)

		n, err := repo.DeleteStale(ctx, server, live.Live())
		if err != nil {
			return fmt.Errorf("prune stale claims: %w", err)
		}
		pruned = n

		if err := repo.Insert(ctx, server, pepper, hashes); err != nil {
			return fmt.Errorf("insert claims: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.ClaimsPruned.Add(float64(pruned))
	s.metrics.ClaimsIngested.Add(float64(len(hashes)))
	s.logger.Info(ctx, "federation push applied", "server", server, "hashes", len(hashes), "pruned", pruned)
	return nil
}
