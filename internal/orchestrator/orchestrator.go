package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/rpc"
	"github.com/curvewatch/indexer/internal/storage"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	chain            rpc.IChainClient
	storage          storage.IStorage
	engine           IReplayEngine
	scannerEnabled   bool
	replayEnabled    bool
	retentionEnabled bool
	cancel           context.CancelFunc
}

func NewOrchestrator(chain rpc.IChainClient, s storage.IStorage, engine IReplayEngine) *Orchestrator {
	return &Orchestrator{
		chain:            chain,
		storage:          s,
		engine:           engine,
		scannerEnabled:   config.Cfg.Scanner.Enabled,
		replayEnabled:    config.Cfg.Replay.Enabled && engine != nil,
		retentionEnabled: config.Cfg.Retention.Enabled,
	}
}

func (o *Orchestrator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	var wg sync.WaitGroup

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Msgf("Received signal %v, initiating graceful shutdown", sig)
			o.cancel()
		case <-ctx.Done():
		}
	}()

	o.run(ctx, &wg)
	wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, wg *sync.WaitGroup) {
	if o.scannerEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scanner := NewScanner(o.chain, o.storage.LogStorage, WithScannerLease(o.storage.Lease))
			scanner.Start(ctx)
		}()
	}

	if o.replayEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replayer := NewReplayer(o.engine, WithReplayerLease(o.storage.Lease))
			replayer.Start(ctx)
		}()
	}

	if o.retentionEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper := NewRetentionSweeper(o.storage.LogStorage)
			sweeper.Start(ctx)
		}()
	}
}

func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
}
