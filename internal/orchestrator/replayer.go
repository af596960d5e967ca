package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/replay"
	"github.com/curvewatch/indexer/internal/storage"
	"github.com/rs/zerolog/log"
)

const DEFAULT_REPLAY_INTERVAL = 1000

type IReplayEngine interface {
	Run(ctx context.Context) (replay.RunResult, error)
}

// Replayer drives the replay engine on a fixed schedule. Ticks that arrive
// while a run is active are skipped.
type Replayer struct {
	engine     IReplayEngine
	intervalMs int
	guard      *singleFlight
	wg         sync.WaitGroup
}

type ReplayerOption func(*Replayer)

func WithReplayerLease(lease storage.ILeaseStorage) ReplayerOption {
	return func(r *Replayer) {
		if lease == nil {
			return
		}
		r.guard = newSingleFlight("replay", lease)
	}
}

func NewReplayer(engine IReplayEngine, opts ...ReplayerOption) *Replayer {
	interval := config.Cfg.Replay.Interval
	if interval <= 0 {
		interval = DEFAULT_REPLAY_INTERVAL
	}
	r := &Replayer{
		engine:     engine,
		intervalMs: interval,
		guard:      newSingleFlight("replay", nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Replayer) Start(ctx context.Context) {
	interval := time.Duration(r.intervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Debug().Msgf("Replayer running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			log.Info().Msg("Replayer shutting down")
			return
		case <-ticker.C:
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				_, err := r.RunOnce(ctx)
				if errors.Is(err, ErrRunInProgress) {
					log.Debug().Msg("Replay still running, skipping tick")
					return
				}
				if err != nil {
					log.Error().Err(err).Msg("Replay run failed")
				}
			}()
		}
	}
}

func (r *Replayer) RunOnce(ctx context.Context) (replay.RunResult, error) {
	var result replay.RunResult
	err := r.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = r.engine.Run(ctx)
		return err
	})
	if err == nil && result.Selected > 0 {
		log.Debug().Msgf("Replayed %d logs in %d groups (%d failed, %d skipped)", result.Selected, result.Groups, result.FailedGroups, result.Skipped)
	}
	return result, err
}
