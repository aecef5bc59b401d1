// Package pepper holds the rotating pepper pair that salts every lookup hash.
//
// Readers always get one immutable Pair through an atomic pointer, so a read
// never observes a half-rotated state. Rotation is persisted before it is
// published.
package pepper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/cryptox"
	"github.com/dmitrijs2005/fedid/internal/logging"
	"github.com/dmitrijs2005/fedid/internal/server/models"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/peppers"
)

// Pair is one consistent view of the live peppers. Previous is empty when
// there is no grace-window pepper.
type Pair struct {
	Current  string
	Previous string
}

// Live returns the peppers a hash may currently be computed with, current
// first.
func (p Pair) Live() []string {
	if p.Previous == "" {
		return []string{p.Current}
	}
	return []string{p.Current, p.Previous}
}

// IsLive reports whether pepper is one of the live peppers.
func (p Pair) IsLive(pepper string) bool {
	return pepper != "" && (pepper == p.Current || pepper == p.Previous)
}

// newPepper is a seam for tests.
var newPepper = cryptox.NewPepper

// maxGenerateAttempts bounds the retry loop guarding against a generated
// pepper equal to the current one.
const maxGenerateAttempts = 3

type Store struct {
	repo   peppers.Repository
	logger logging.Logger

	pair atomic.Pointer[Pair]

	// rotateMu serializes Load and Rotate. Readers never take it.
	rotateMu sync.Mutex
}

func NewStore(repo peppers.Repository, logger logging.Logger) *Store {
	return &Store{repo: repo, logger: logger.With("module", "pepper")}
}

// Load reads the persisted pair, creating the first pepper when the store is
// empty. It must succeed before the store is read.
func (s *Store) Load(ctx context.Context) error {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	state, err := s.repo.Get(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		first, genErr := newPepper()
		if genErr != nil {
			return fmt.Errorf("generate pepper: %w", genErr)
		}
		if err := s.repo.Init(ctx, first); err != nil {
			return fmt.Errorf("init pepper: %w", err)
		}
		// Another replica may have won the insert; re-read the winner.
		state, err = s.repo.Get(ctx)
	}
	if err != nil {
		return fmt.Errorf("load pepper: %w", err)
	}
	if err := validState(state); err != nil {
		return fmt.Errorf("load pepper: %w", err)
	}

	s.pair.Store(&Pair{Current: state.Current, Previous: state.Previous})
	s.logger.Info(ctx, "pepper loaded", "has_previous", state.Previous != "")
	return nil
}

// validState rejects a persisted row that cannot serve as a live pair.
func validState(state *models.PepperState) error {
	if state == nil || state.Current == "" || state.Current == state.Previous {
		return common.ErrInvalidPepper
	}
	return nil
}

// Snapshot returns the live pair. It panics if called before Load.
func (s *Store) Snapshot() Pair {
	p := s.pair.Load()
	if p == nil {
		panic("pepper: store read before Load")
	}
	return *p
}

func (s *Store) Current() string {
	return s.Snapshot().Current
}

func (s *Store) Previous() (string, bool) {
	p := s.Snapshot()
	return p.Previous, p.Previous != ""
}

// Rotate generates a new current pepper, demoting the old one to previous.
// The new pair becomes visible only after the database accepted it; on any
// failure the prior pair stays authoritative.
func (s *Store) Rotate(ctx context.Context) (Pair, error) {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	old := s.Snapshot()

	var next string
	for i := 0; i < maxGenerateAttempts; i++ {
		candidate, err := newPepper()
		if err != nil {
			return old, fmt.Errorf("generate pepper: %w", err)
		}
		if candidate != old.Current && candidate != "" {
			next = candidate
			break
		}
	}
	if next == "" {
		return old, fmt.Errorf("generate pepper: no distinct value after %d attempts", maxGenerateAttempts)
	}

	if err := s.repo.Rotate(ctx, old.Current, next); err != nil {
		if errors.Is(err, common.ErrStalePepper) {
			s.logger.Warn(ctx, "pepper rotated elsewhere, reloading")
			state, getErr := s.repo.Get(ctx)
			if getErr == nil {
				getErr = validState(state)
			}
			if getErr != nil {
				s.logger.Error(ctx, "pepper reload failed, keeping the current pair", "error", getErr)
			} else {
				s.pair.Store(&Pair{Current: state.Current, Previous: state.Previous})
			}
		}
		return old, fmt.Errorf("persist pepper: %w", err)
	}

	p := &Pair{Current: next, Previous: old.Current}
	s.pair.Store(p)
	s.logger.Info(ctx, "pepper rotated")
	return *p, nil
}
