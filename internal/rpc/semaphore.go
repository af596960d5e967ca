package rpc

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// SafeSemaphore wraps the weighted semaphore so a double release can never
// push it below zero.
type SafeSemaphore struct {
	sem  *semaphore.Weighted
	mu   sync.Mutex
	held int64
}

func NewSafeSemaphore(maxCapacity int64) *SafeSemaphore {
	return &SafeSemaphore{sem: semaphore.NewWeighted(maxCapacity)}
}

func (s *SafeSemaphore) Acquire(ctx context.Context, n int64) error {
	if err := s.sem.Acquire(ctx, n); err != nil {
		return err
	}
	s.mu.Lock()
	s.held += n
	s.mu.Unlock()
	return nil
}

func (s *SafeSemaphore) Release(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	releaseAmount := n
	if s.held < n {
		releaseAmount = s.held
		log.Warn().
			Int64("requested_release", n).
			Int64("actually_held", s.held).
			Msg("Attempted to release more rpc slots than held")
	}
	if releaseAmount > 0 {
		s.sem.Release(releaseAmount)
		s.held -= releaseAmount
	}
}

func (s *SafeSemaphore) Held() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}
