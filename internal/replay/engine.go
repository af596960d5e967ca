package replay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/contract"
	"github.com/curvewatch/indexer/internal/metrics"
	"github.com/curvewatch/indexer/internal/notify"
	"github.com/curvewatch/indexer/internal/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DEFAULT_BATCH_LIMIT           = 5000
	DEFAULT_MAX_CONCURRENT_GROUPS = 8
	DEFAULT_VOLUME_WINDOW         = 24 * time.Hour
)

var ErrUnknownToken = errors.New("unknown token")

type Config struct {
	ContractAddress     string
	BatchLimit          int
	MaxConcurrentGroups int
	ReconcileReserves   bool
	VolumeWindow        time.Duration
}

func ConfigFromConfig() Config {
	return Config{
		ContractAddress:     config.Cfg.Contract.Address,
		BatchLimit:          config.Cfg.Replay.BatchLimit,
		MaxConcurrentGroups: config.Cfg.Replay.MaxConcurrentGroups,
		ReconcileReserves:   config.Cfg.Replay.ReconcileReserves,
		VolumeWindow:        time.Duration(config.Cfg.Replay.VolumeWindowHours) * time.Hour,
	}
}

// Engine turns unprocessed raw logs into market state. Each token group is
// replayed sequentially and committed atomically; groups run concurrently.
type Engine struct {
	cfg       Config
	logs      storage.ILogStorage
	state     storage.IStateStorage
	users     storage.IUserDirectory
	decoder   *contract.Decoder
	reader    contract.IContractReader
	graduator contract.IGraduator
	notifier  notify.INotifier
	curves    *CurveBook
	now       func() time.Time
}

type EngineOption func(*Engine)

// WithGraduator enables graduation submission on Complete events.
func WithGraduator(g contract.IGraduator) EngineOption {
	return func(e *Engine) {
		e.graduator = g
	}
}

func WithNotifier(n notify.INotifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(cfg Config, s storage.IStorage, reader contract.IContractReader, curves *CurveBook, opts ...EngineOption) *Engine {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DEFAULT_BATCH_LIMIT
	}
	if cfg.MaxConcurrentGroups <= 0 {
		cfg.MaxConcurrentGroups = DEFAULT_MAX_CONCURRENT_GROUPS
	}
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = DEFAULT_VOLUME_WINDOW
	}
	cfg.ContractAddress = common.NormalizeAddress(cfg.ContractAddress)

	e := &Engine{
		cfg:      cfg,
		logs:     s.LogStorage,
		state:    s.StateStorage,
		users:    s.Users,
		decoder:  contract.NewDecoder(),
		reader:   reader,
		notifier: notify.Nop{},
		curves:   curves,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type RunResult struct {
	Selected     int
	Skipped      int
	Groups       int
	FailedGroups int
	Applied      int
	Graduations  int
}

type tokenGroup struct {
	token  string
	events []contract.Event
}

func (g *tokenGroup) logIDs() []int64 {
	ids := make([]int64, len(g.events))
	for i, ev := range g.events {
		ids[i] = ev.Log().ID
	}
	return ids
}

// Run replays one batch of unprocessed logs. A failing token group does not
// stop the others; its logs stay unprocessed for the next run.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	start := time.Now()
	defer func() {
		metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	}()

	logs, err := e.logs.GetUnprocessedLogs(ctx, e.cfg.BatchLimit)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load unprocessed logs: %w", err)
	}
	metrics.ReplayPendingLogs.Set(float64(len(logs)))
	result := RunResult{Selected: len(logs)}
	if len(logs) == 0 {
		log.Debug().Msg("No unprocessed logs to replay")
		result.Graduations = e.submitGraduations(ctx)
		return result, nil
	}

	groups, skipped := e.partition(logs)
	result.Groups = len(groups)
	result.Skipped = len(skipped)
	if len(skipped) > 0 {
		if err := e.logs.MarkLogsProcessed(ctx, skipped, e.now()); err != nil {
			log.Error().Err(err).Msgf("Failed to mark %d inapplicable logs processed", len(skipped))
		}
	}

	a, err := newArena(e.users, 0)
	if err != nil {
		return result, err
	}

	var failed, applied atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxConcurrentGroups)
	for _, group := range groups {
		g.Go(func() error {
			n, err := e.replayGroup(ctx, a, group)
			if err != nil {
				failed.Add(1)
				metrics.ReplayGroupFailures.Inc()
				log.Error().Err(err).Str("token", group.token).Int("events", len(group.events)).Msg("Failed to replay token group, leaving its logs for the next run")
				return nil
			}
			applied.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()

	result.FailedGroups = int(failed.Load())
	result.Applied = int(applied.Load())
	result.Graduations = e.submitGraduations(ctx)
	log.Info().Msgf("Replayed %d logs in %d token groups (%d applied, %d skipped, %d groups failed, %d graduations sent) in %s",
		result.Selected, result.Groups, result.Applied, result.Skipped, result.FailedGroups, result.Graduations, time.Since(start))
	return result, nil
}

// partition decodes logs and groups them by token, keeping causal order inside
// each group. It returns the ids of logs that can never be applied.
func (e *Engine) partition(logs []common.RawLog) ([]*tokenGroup, []int64) {
	common.SortLogs(logs)

	var groups []*tokenGroup
	byToken := make(map[string]*tokenGroup)
	var skipped []int64
	for i := range logs {
		l := &logs[i]
		if e.cfg.ContractAddress != "" && common.NormalizeAddress(l.Address) != e.cfg.ContractAddress {
			skipped = append(skipped, l.ID)
			continue
		}
		if l.Removed {
			log.Debug().Str("tx", l.TransactionHash).Uint64("logIndex", l.LogIndex).Msg("Skipping removed log")
			skipped = append(skipped, l.ID)
			continue
		}
		ev, err := e.decoder.Decode(l)
		if err != nil {
			if !errors.Is(err, contract.ErrNoTokenAddress) {
				metrics.ReplayDecodeFailures.Inc()
			}
			log.Warn().Err(err).Str("tx", l.TransactionHash).Uint64("logIndex", l.LogIndex).Msg("Skipping undecodable log")
			skipped = append(skipped, l.ID)
			continue
		}
		group, ok := byToken[ev.TokenAddress()]
		if !ok {
			group = &tokenGroup{token: ev.TokenAddress()}
			byToken[group.token] = group
			groups = append(groups, group)
		}
		group.events = append(group.events, ev)
	}
	return groups, skipped
}

func (e *Engine) replayGroup(ctx context.Context, a *arena, group *tokenGroup) (int, error) {
	token, err := e.state.GetTokenByAddress(ctx, group.token)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("failed to load token: %w", err)
	}

	keys := make([]common.EventKey, len(group.events))
	for i, ev := range group.events {
		keys[i] = ev.Log().Key()
	}
	applied, err := e.state.GetAppliedEventKeys(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("failed to load applied events: %w", err)
	}

	r := newGroupReplay(e, a, group.token, token, applied)
	for _, ev := range group.events {
		if err := r.apply(ctx, ev); err != nil {
			l := ev.Log()
			return 0, fmt.Errorf("%s at %s:%d: %w", ev.Name(), l.TransactionHash, l.LogIndex, err)
		}
	}
	if err := r.flushReserves(ctx); err != nil {
		return 0, err
	}

	now := e.now()
	commit := r.buildCommit(group.logIDs(), now)
	if err := e.state.CommitGroup(ctx, commit); err != nil {
		return 0, fmt.Errorf("failed to commit group: %w", err)
	}
	for name, n := range r.counts {
		metrics.ReplayEventsApplied.WithLabelValues(string(name)).Add(float64(n))
	}

	r.publish(ctx, now)
	return r.appliedCount(), nil
}

func (e *Engine) curveParams(ctx context.Context, class common.CurveClass, token string) (common.CurveParams, error) {
	if p, ok := e.curves.Lookup(class); ok {
		return p, nil
	}
	if e.reader == nil {
		return common.CurveParams{}, fmt.Errorf("no constants configured for curve %s", class)
	}
	p, err := e.reader.CurveParams(ctx, token)
	if err != nil {
		return common.CurveParams{}, fmt.Errorf("failed to read curve constants: %w", err)
	}
	return p, nil
}
