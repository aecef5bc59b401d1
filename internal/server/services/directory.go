package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/cryptox"
	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/logging"
	"github.com/dmitrijs2005/fedid/internal/server/directory"
	"github.com/dmitrijs2005/fedid/internal/server/metrics"
	"github.com/dmitrijs2005/fedid/internal/server/models"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/repomanager"
)

// ErrNoDirectorySource is returned by operations that need to enumerate the
// directory when none is configured.
var ErrNoDirectorySource = errors.New("no directory source configured")

// DirectoryService keeps the local hash directory in line with the
// directory backend: full rebuilds on a schedule, bind/unbind in between.
type DirectoryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	peppers     PepperSource
	source      directory.Source
	metrics     *metrics.Metrics
	logger      logging.Logger
	now         func() time.Time
}

// NewDirectoryService builds the service. source may be nil, in which case
// only Bind and Unbind are available.
func NewDirectoryService(db *sql.DB, m repomanager.RepositoryManager, peppers PepperSource,
	source directory.Source, mt *metrics.Metrics, logger logging.Logger) *DirectoryService {
	return &DirectoryService{
		db:          db,
		repomanager: m,
		peppers:     peppers,
		source:      source,
		metrics:     mt,
		logger:      logger.With("module", "directory"),
		now:         time.Now,
	}
}

// HasSource reports whether Rebuild can run.
func (s *DirectoryService) HasSource() bool {
	return s.source != nil
}

// timestamp returns now at the precision PostgreSQL stores, so that a
// written seen_at compares equal to the value it was written with.
func (s *DirectoryService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Rebuild rehashes every directory record under the live peppers and removes
// rows the scan did not confirm. It returns the number of rows written.
func (s *DirectoryService) Rebuild(ctx context.Context) (n int, err error) {
	defer func() { s.metrics.DirectoryRebuilds.WithLabelValues(metrics.Result(err)).Inc() }()

	if s.source == nil {
		return 0, ErrNoDirectorySource
	}

	scanStart := s.timestamp()
	live := s.peppers.Snapshot().Live()

	records, err := s.source.Records(ctx)
	if err != nil {
		return 0, fmt.Errorf("read directory: %w", err)
	}

	entries := hashEntries(records, live, scanStart)

	var pruned int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Hashes(tx)
		if err := repo.Upsert(ctx, entries); err != nil {
			return fmt.Errorf("upsert hashes: %w", err)
		}
		p, err := repo.Prune(ctx, live, scanStart)
		if err != nil {
			return fmt.Errorf("prune hashes: %w", err)
		}
		pruned = p
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.DirectoryEntries.Set(float64(len(entries)))
	s.metrics.DirectoryPruned.Add(float64(pruned))
	s.logger.Info(ctx, "hash directory rebuilt", "records", len(records), "rows", len(entries), "pruned", pruned)
	return len(entries), nil
}

// Bind records the identifier in the bound-identifier table and makes it
// resolvable immediately under every live pepper. Later rebuilds from the
// "sql" source rehash it under each new pepper.
func (s *DirectoryService) Bind(ctx context.Context, rec models.DirectoryRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	rec.Value = cryptox.NormalizeAddress(rec.Medium, rec.Value)
	if rec.Value == "" {
		return fmt.Errorf("%w: value is empty after normalization", common.ErrorValidation)
	}
	entries := hashEntries([]models.DirectoryRecord{rec}, s.peppers.Snapshot().Live(), s.timestamp())

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Bindings(tx).Save(ctx, rec); err != nil {
			return fmt.Errorf("save binding: %w", err)
		}
		if err := s.repomanager.Hashes(tx).Upsert(ctx, entries); err != nil {
			return fmt.Errorf("upsert hashes: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	s.logger.Info(ctx, "identifier bound", "medium", rec.Medium, "address", rec.Address)
	return nil
}

// Unbind removes the identifier's binding and its rows under every live
// pepper. Rows under retired peppers go with the next rebuild. It returns
// common.ErrorNotFound when nothing was removed.
func (s *DirectoryService) Unbind(ctx context.Context, medium, value string) error {
	if medium == "" || value == "" {
		return fmt.Errorf("%w: medium and value are required", common.ErrorValidation)
	}
	normalized := cryptox.NormalizeAddress(medium, value)
	live := s.peppers.Snapshot().Live()
	hashes := make([]string, 0, len(live))
	for _, p := range live {
		hashes = append(hashes, cryptox.Hash3PID(normalized, medium, p))
	}

	var bound, rows int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if bound, err = s.repomanager.Bindings(tx).Delete(ctx, medium, normalized); err != nil {
			return fmt.Errorf("delete binding: %w", err)
		}
		if rows, err = s.repomanager.Hashes(tx).DeleteByHashes(ctx, hashes); err != nil {
			return fmt.Errorf("delete hashes: %w", err)
		}
		if bound == 0 && rows == 0 {
			return common.ErrorNotFound
		}
		return nil
	})
	if errors.Is(err, common.ErrorNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("unbind: %w", err)
	}
	s.logger.Info(ctx, "identifier unbound", "medium", medium, "bindings", bound, "rows", rows)
	return nil
}

// ActiveHashes returns the hashes of all active local identifiers under
// pepper, the form a federation server expects in a push.
func (s *DirectoryService) ActiveHashes(ctx context.Context, pepper string) ([]string, error) {
	if s.source == nil {
		return nil, ErrNoDirectorySource
	}
	records, err := s.source.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, r := range records {
		if !r.Active || validateRecord(r) != nil {
			continue
		}
		h := cryptox.Hash3PID(cryptox.NormalizeAddress(r.Medium, r.Value), r.Medium, pepper)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out, nil
}

func validateRecord(r models.DirectoryRecord) error {
	switch {
	case r.Address == "":
		return fmt.Errorf("%w: address is required", common.ErrorValidation)
	case r.Medium == "":
		return fmt.Errorf("%w: medium is required", common.ErrorValidation)
	case r.Value == "":
		return fmt.Errorf("%w: value is required", common.ErrorValidation)
	}
	return nil
}

// hashEntries expands records into one row per live pepper. Invalid records
// are skipped; when an identifier repeats, an active record wins.
func hashEntries(records []models.DirectoryRecord, live []string, seenAt time.Time) []*models.HashEntry {
	type key struct{ hash, pepper string }
	index := make(map[key]*models.HashEntry, len(records)*len(live))
	out := make([]*models.HashEntry, 0, len(records)*len(live))

	for _, r := range records {
		if validateRecord(r) != nil {
			continue
		}
		normalized := cryptox.NormalizeAddress(r.Medium, r.Value)
		if normalized == "" {
			continue
		}
		for _, p := range live {
			k := key{cryptox.Hash3PID(normalized, r.Medium, p), p}
			if e, dup := index[k]; dup {
				if r.Active && !e.Active {
					e.Address, e.Active = r.Address, true
				}
				continue
			}
			e := &models.HashEntry{Hash: k.hash, Pepper: p, Address: r.Address, Active: r.Active, SeenAt: seenAt}
			index[k] = e
			out = append(out, e)
		}
	}
	return out
}
