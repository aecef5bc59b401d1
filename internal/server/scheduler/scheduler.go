// Package scheduler drives the periodic maintenance of the service: pepper
// rotation, directory rebuilds and outbound federation pushes.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/fedid/internal/logging"
	"github.com/dmitrijs2005/fedid/internal/server/metrics"
	"github.com/dmitrijs2005/fedid/internal/server/pepper"
	"github.com/dmitrijs2005/fedid/internal/server/services"
)

// ErrRotationWithoutSource is returned instead of rotating when the directory
// cannot be rebuilt, since bound identifiers would not get rows under the new
// pepper.
var ErrRotationWithoutSource = errors.New("pepper rotation needs a directory source")

type Rotator interface {
	Rotate(ctx context.Context) (pepper.Pair, error)
}

type Rebuilder interface {
	HasSource() bool
	Rebuild(ctx context.Context) (int, error)
}

type Pusher interface {
	PushAll(ctx context.Context) error
}

// Scheduler runs both jobs from a single goroutine, so a rotation and a
// refresh never overlap.
type Scheduler struct {
	rotator       Rotator
	rebuilder     Rebuilder
	pusher        Pusher
	rotationEvery time.Duration
	refreshEvery  time.Duration
	metrics       *metrics.Metrics
	logger        logging.Logger
}

// New builds a Scheduler. A non-positive interval disables that job; a nil
// pusher disables outbound pushes.
func New(r Rotator, b Rebuilder, p Pusher, rotationEvery, refreshEvery time.Duration,
	mt *metrics.Metrics, logger logging.Logger) *Scheduler {
	return &Scheduler{
		rotator:       r,
		rebuilder:     b,
		pusher:        p,
		rotationEvery: rotationEvery,
		refreshEvery:  refreshEvery,
		metrics:       mt,
		logger:        logger.With("module", "scheduler"),
	}
}

func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Run blocks until ctx is cancelled. Failures are logged and retried on the
// next tick.
func (s *Scheduler) Run(ctx context.Context) {
	rotationEvery := s.rotationEvery
	if rotationEvery > 0 && !s.canRebuild() {
		s.logger.Error(ctx, "pepper rotation disabled: no directory source configured", "rotation", rotationEvery)
		rotationEvery = 0
	}
	rotateC, stopRotate := ticker(rotationEvery)
	defer stopRotate()
	refreshC, stopRefresh := ticker(s.refreshEvery)
	defer stopRefresh()

	s.logger.Info(ctx, "Starting scheduler", "rotation", rotationEvery, "refresh", s.refreshEvery)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping scheduler...")
			return
		case <-rotateC:
			if err := s.RotateOnce(ctx); err != nil {
				s.logger.Error(ctx, "pepper rotation cycle failed", "error", err)
			}
		case <-refreshC:
			if err := s.RefreshOnce(ctx); err != nil {
				s.logger.Error(ctx, "directory refresh cycle failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) canRebuild() bool {
	return s.rebuilder != nil && s.rebuilder.HasSource()
}

// RotateOnce rotates the pepper and then refreshes the directory under the
// new pair. Without a directory source it refuses and leaves the pepper as is.
func (s *Scheduler) RotateOnce(ctx context.Context) error {
	if !s.canRebuild() {
		return ErrRotationWithoutSource
	}
	p, err := s.rotator.Rotate(ctx)
	s.metrics.PepperRotations.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "pepper rotated", "has_previous", p.Previous != "")
	return s.RefreshOnce(ctx)
}

// RefreshOnce rebuilds the directory, when a source is configured, and then
// pushes local hashes to the federation. A failed rebuild skips the push.
func (s *Scheduler) RefreshOnce(ctx context.Context) error {
	if s.canRebuild() {
		if _, err := s.rebuilder.Rebuild(ctx); err != nil && !errors.Is(err, services.ErrNoDirectorySource) {
			return err
		}
	}
	if s.pusher == nil {
		return nil
	}
	return s.pusher.PushAll(ctx)
}
