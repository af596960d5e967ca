package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/metrics"
	"github.com/curvewatch/indexer/internal/rpc"
	"github.com/curvewatch/indexer/internal/storage"
	"github.com/rs/zerolog/log"
)

const DEFAULT_SCAN_INTERVAL = 5000
const DEFAULT_BLOCKS_PER_BATCH = 10
const DEFAULT_REORG_MARGIN = 2

// Scanner walks the chain in fixed-size block batches and appends the watched
// contract's logs to the log store. The checkpoint only moves after a batch is
// durably stored, so a crash re-fetches at most one batch.
type Scanner struct {
	chain           rpc.IChainClient
	logs            storage.ILogStorage
	contractAddress string
	intervalMs      int
	blocksPerBatch  uint64
	reorgMargin     uint64
	fromBlock       uint64
	forceFromBlock  bool
	floorApplied    bool
	guard           *singleFlight
	wg              sync.WaitGroup
}

type ScannerOption func(*Scanner)

func WithScannerLease(lease storage.ILeaseStorage) ScannerOption {
	return func(s *Scanner) {
		if lease == nil {
			return
		}
		s.guard = newSingleFlight("scanner", lease)
	}
}

func NewScanner(chain rpc.IChainClient, logs storage.ILogStorage, opts ...ScannerOption) *Scanner {
	interval := config.Cfg.Scanner.Interval
	if interval <= 0 {
		interval = DEFAULT_SCAN_INTERVAL
	}
	blocksPerBatch := config.Cfg.Scanner.BlocksPerBatch
	if blocksPerBatch <= 0 {
		blocksPerBatch = DEFAULT_BLOCKS_PER_BATCH
	}
	reorgMargin := config.Cfg.Scanner.ReorgMargin
	if reorgMargin <= 0 {
		reorgMargin = DEFAULT_REORG_MARGIN
	}
	fromBlock := config.Cfg.Scanner.FromBlock
	if fromBlock < 0 {
		fromBlock = 0
	}

	s := &Scanner{
		chain:           chain,
		logs:            logs,
		contractAddress: common.NormalizeAddress(config.Cfg.Contract.Address),
		intervalMs:      interval,
		blocksPerBatch:  uint64(blocksPerBatch),
		reorgMargin:     uint64(reorgMargin),
		fromBlock:       uint64(fromBlock),
		forceFromBlock:  config.Cfg.Scanner.ForceFromBlock,
		guard:           newSingleFlight("scanner", nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) Start(ctx context.Context) {
	interval := time.Duration(s.intervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Debug().Msgf("Scanner running every %s from block %d", interval, s.fromBlock)
	s.trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			log.Info().Msg("Scanner shutting down")
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

func (s *Scanner) trigger(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.Scan(ctx)
		if errors.Is(err, ErrRunInProgress) {
			log.Debug().Msg("Scanner still running, skipping tick")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Scan failed, retrying on next tick")
		}
	}()
}

// Scan catches the log store up to the safe head and returns the last block
// recorded in the checkpoint.
func (s *Scanner) Scan(ctx context.Context) (uint64, error) {
	var cursor uint64
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		cursor, err = s.scan(ctx)
		return err
	})
	return cursor, err
}

func (s *Scanner) scan(ctx context.Context) (uint64, error) {
	cursor, err := s.cursor(ctx)
	if err != nil {
		return 0, err
	}

	head, err := s.chain.GetLatestBlockNumber(ctx)
	if err != nil {
		s.recordError(ctx, err)
		return cursor, fmt.Errorf("failed to get chain head: %w", err)
	}
	metrics.ChainHead.Set(float64(head))
	if head <= s.reorgMargin {
		return cursor, nil
	}
	target := head - s.reorgMargin
	if cursor >= target {
		log.Debug().Msgf("Scanner is at block %d, safe head is %d", cursor, target)
		return cursor, nil
	}

	if err := s.logs.SetSyncing(ctx, true); err != nil {
		log.Warn().Err(err).Msg("Failed to flag checkpoint as syncing")
	}
	defer func() {
		if err := s.logs.SetSyncing(context.WithoutCancel(ctx), false); err != nil {
			log.Warn().Err(err).Msg("Failed to clear checkpoint syncing flag")
		}
	}()

	for cursor < target {
		if err := ctx.Err(); err != nil {
			return cursor, err
		}
		from := cursor + 1
		to := cursor + s.blocksPerBatch
		if to > target {
			to = target
		}
		if err := s.scanBatch(ctx, from, to); err != nil {
			metrics.ScannerBatchFailures.Inc()
			s.recordError(ctx, err)
			return cursor, fmt.Errorf("failed to scan blocks %d-%d: %w", from, to, err)
		}
		cursor = to
	}
	return cursor, nil
}

// cursor returns the durable checkpoint, creating it at the configured floor
// on first run. forceFromBlock moves it to the floor once per process.
func (s *Scanner) cursor(ctx context.Context) (uint64, error) {
	cp, err := s.logs.GetCheckpoint(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	reset := false
	switch {
	case cp == nil:
		log.Info().Msgf("No checkpoint found, starting from block %d", s.fromBlock)
		reset = true
	case s.forceFromBlock && !s.floorApplied:
		log.Warn().Msgf("Forcing scanner checkpoint from %d to block %d", cp.LastProcessedBlock, s.fromBlock)
		reset = true
	case cp.LastProcessedBlock < s.fromBlock:
		reset = true
	}
	if !reset {
		s.floorApplied = true
		return cp.LastProcessedBlock, nil
	}
	if err := s.logs.ResetCheckpoint(ctx, s.fromBlock); err != nil {
		return 0, err
	}
	s.floorApplied = true
	return s.fromBlock, nil
}

func (s *Scanner) scanBatch(ctx context.Context, from, to uint64) error {
	logs, err := s.chain.GetLogs(ctx, from, to, s.contractAddress)
	if err != nil {
		return err
	}

	txs := make(map[string]struct{})
	blockSet := make(map[uint64]struct{})
	for _, l := range logs {
		blockSet[l.BlockNumber] = struct{}{}
		txs[l.TransactionHash] = struct{}{}
	}
	if len(blockSet) > 0 {
		blocks := make([]uint64, 0, len(blockSet))
		for b := range blockSet {
			blocks = append(blocks, b)
		}
		sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

		timestamps, err := s.chain.GetBlockTimestamps(ctx, blocks)
		if err != nil {
			return err
		}
		for i := range logs {
			ts, ok := timestamps[logs[i].BlockNumber]
			if !ok {
				return fmt.Errorf("missing timestamp for block %d", logs[i].BlockNumber)
			}
			logs[i].BlockTimestamp = ts
		}
	}

	inserted := 0
	if len(logs) > 0 {
		startTime := time.Now()
		inserted, err = s.logs.InsertLogs(ctx, logs)
		if err != nil {
			return fmt.Errorf("failed to insert logs: %w", err)
		}
		log.Debug().Str("metric", "insert_duration").Msgf("InsertLogs duration: %f", time.Since(startTime).Seconds())
		metrics.ScannerInsertDuration.Observe(time.Since(startTime).Seconds())
	}

	err = s.logs.AdvanceCheckpoint(ctx, common.CheckpointAdvance{
		Block:        to,
		Transactions: len(txs),
		Events:       inserted,
		At:           time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	metrics.ScannedBatchSize.Set(float64(to - from + 1))
	metrics.ScannedLogs.Add(float64(inserted))
	metrics.LastScannedBlock.Set(float64(to))
	log.Debug().Msgf("Scanned blocks %d-%d: %d logs, %d new", from, to, len(logs), inserted)
	return nil
}

func (s *Scanner) recordError(ctx context.Context, cause error) {
	if err := s.logs.RecordSyncError(context.WithoutCancel(ctx), cause.Error(), time.Now()); err != nil {
		log.Warn().Err(err).Msg("Failed to record sync error")
	}
}
