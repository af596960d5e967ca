package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/curvewatch/indexer/internal/storage"
	"github.com/rs/zerolog/log"
)

const DEFAULT_LEASE_TTL = 10 * time.Minute

var (
	ErrRunInProgress = errors.New("run already in progress")
	ErrLeaseLost     = errors.New("lease lost")
)

// singleFlight lets at most one run of a job be active. The local flag covers
// this process; the optional lease covers other replicas sharing the store.
type singleFlight struct {
	name    string
	running atomic.Bool
	lease   storage.ILeaseStorage
	ttl     time.Duration
}

func newSingleFlight(name string, lease storage.ILeaseStorage) *singleFlight {
	return &singleFlight{name: name, lease: lease, ttl: DEFAULT_LEASE_TTL}
}

// Do runs fn unless a run is already active, in which case it returns
// ErrRunInProgress without waiting. The lease is renewed every third of its
// ttl while fn runs; if it is lost, fn's context is cancelled.
func (s *singleFlight) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer s.running.Store(false)

	if s.lease == nil {
		return fn(ctx)
	}
	held, ok, err := s.lease.TryAcquire(ctx, s.name, s.ttl)
	if err != nil {
		return fmt.Errorf("failed to acquire %s lease: %w", s.name, err)
	}
	if !ok {
		return ErrRunInProgress
	}
	defer held.Release()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.keepAlive(runCtx, held, cancel)
	}()

	err = fn(runCtx)
	cancel(nil)
	<-stopped
	if err != nil && errors.Is(context.Cause(runCtx), ErrLeaseLost) {
		return fmt.Errorf("%s: %w: %w", s.name, ErrLeaseLost, err)
	}
	return err
}

func (s *singleFlight) keepAlive(ctx context.Context, held storage.Lease, cancel context.CancelCauseFunc) {
	interval := s.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := held.Renew(ctx, s.ttl)
			if err != nil {
				// the lease may still be valid; try again on the next tick
				log.Warn().Err(err).Str("lease", s.name).Msg("Failed to renew lease")
				continue
			}
			if !ok {
				log.Error().Str("lease", s.name).Msg("Lease lost while running, stopping the run")
				cancel(ErrLeaseLost)
				return
			}
		}
	}
}

func (s *singleFlight) Running() bool {
	return s.running.Load()
}
