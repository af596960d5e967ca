package orchestrator

import (
	"context"
	"fmt"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/metrics"
	"github.com/curvewatch/indexer/internal/storage"
	"github.com/rs/zerolog/log"
)

const DEFAULT_RETENTION_MAX_AGE_DAYS = 30

// RetentionSweeper deletes processed logs older than the retention window once
// a month. Unprocessed logs are never removed.
type RetentionSweeper struct {
	logs       storage.ILogStorage
	maxAgeDays int
	now        func() time.Time
}

type RetentionOption func(*RetentionSweeper)

func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(r *RetentionSweeper) {
		r.now = now
	}
}

func NewRetentionSweeper(logs storage.ILogStorage, opts ...RetentionOption) *RetentionSweeper {
	maxAge := config.Cfg.Retention.MaxAgeDays
	if maxAge <= 0 {
		maxAge = DEFAULT_RETENTION_MAX_AGE_DAYS
	}
	r := &RetentionSweeper{
		logs:       logs,
		maxAgeDays: maxAge,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RetentionSweeper) Start(ctx context.Context) {
	for {
		next := nextMonthStart(r.now())
		log.Debug().Msgf("Next retention sweep at %s", next.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Retention sweeper shutting down")
			return
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Retention sweep failed")
			}
		}
	}
}

// RunOnce deletes processed logs older than the retention window and returns
// how many were removed.
func (r *RetentionSweeper) RunOnce(ctx context.Context) (int64, error) {
	now := r.now()
	cutoff := now.Add(-time.Duration(r.maxAgeDays) * 24 * time.Hour)
	deleted, err := r.logs.DeleteProcessedLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete logs processed before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.RetentionDeletedLogs.Add(float64(deleted))
	metrics.RetentionLastRun.Set(float64(now.Unix()))
	log.Info().Msgf("Retention sweep removed %d logs processed before %s", deleted, cutoff.Format(time.RFC3339))
	return deleted, nil
}

// nextMonthStart returns midnight UTC on the first day of the month after t.
func nextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
