package replay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/contract"
	"github.com/curvewatch/indexer/internal/metrics"
	"github.com/curvewatch/indexer/internal/notify"
	"github.com/curvewatch/indexer/internal/storage"
	"github.com/rs/zerolog/log"
)

type tradeFeedItem struct {
	trader *common.User
	record common.TradeRecord
}

// groupReplay accumulates the effect of one token group before it is committed.
type groupReplay struct {
	e       *Engine
	arena   *arena
	address string
	applied map[common.EventKey]bool

	token      *common.TokenMarket
	tokenDirty bool
	delta      *reserveDelta

	holders     map[int64]*big.Int
	holderOrder []int64
	trades      []common.TradeRecord
	activities  []common.ActivityRecord

	launchedBy      *common.User
	launchedAt      time.Time
	tradeFeed       []tradeFeedItem
	graduated       bool
	reservesFlushed bool
	counts          map[contract.EventName]int
}

func newGroupReplay(e *Engine, a *arena, address string, token *common.TokenMarket, applied map[common.EventKey]bool) *groupReplay {
	return &groupReplay{
		e:       e,
		arena:   a,
		address: address,
		applied: applied,
		token:   token,
		delta:   newReserveDelta(),
		holders: make(map[int64]*big.Int),
		counts:  make(map[contract.EventName]int),
	}
}

func (r *groupReplay) apply(ctx context.Context, ev contract.Event) error {
	if r.applied[ev.Log().Key()] {
		log.Debug().Str("token", r.address).Str("tx", ev.Log().TransactionHash).Msgf("%s already applied, skipping", ev.Name())
		return nil
	}
	switch e := ev.(type) {
	case contract.LaunchEvent:
		return r.launch(ctx, e)
	case contract.BuyEvent:
		return r.trade(ctx, e, common.TradeBuy, e.Buyer, e.QuoteIn, e.TokenOut)
	case contract.SellEvent:
		return r.trade(ctx, e, common.TradeSell, e.Seller, e.QuoteOut, e.TokenIn)
	case contract.DonationEvent:
		return r.donation(e)
	case contract.CompleteEvent:
		return r.complete(e)
	case contract.GraduateEvent:
		return r.graduate(e)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func (r *groupReplay) anomaly(ev contract.Event, reason string, err error) {
	metrics.ReplayAnomalies.WithLabelValues(reason).Inc()
	l := ev.Log()
	log.Warn().Err(err).Bool("anomaly", true).Str("token", r.address).Str("tx", l.TransactionHash).Uint64("logIndex", l.LogIndex).
		Msgf("Skipping %s event: %s", ev.Name(), reason)
}

func (r *groupReplay) launched() bool {
	return r.token != nil && r.token.Launched
}

func (r *groupReplay) launch(ctx context.Context, ev contract.LaunchEvent) error {
	if r.launched() {
		r.anomaly(ev, "already_launched", nil)
		return nil
	}
	l := ev.Log()
	creator, err := r.arena.user(ctx, ev.Launcher)
	if err != nil {
		return err
	}

	token := r.token
	if token == nil {
		pending, err := r.e.state.FindPendingToken(ctx, l.TransactionHash, creator.ID)
		switch {
		case err == nil:
			token = pending
		case errors.Is(err, storage.ErrNotFound):
			token = &common.TokenMarket{}
		default:
			return fmt.Errorf("failed to look up pending token: %w", err)
		}
	}

	class := common.CurveClassFromSize(ev.CurveSize)
	params, err := r.e.curveParams(ctx, class, r.address)
	if err != nil {
		return err
	}
	if !validReserves(params.X0, params.Y0) {
		return fmt.Errorf("curve %s has invalid initial reserves", class)
	}

	launchedAt := l.BlockTimestamp
	token.Address = r.address
	token.Name = ev.TokenName
	token.Ticker = ev.Symbol
	token.TotalSupply = common.CloneBig(ev.TotalSupply)
	token.Curve = class
	token.CurveParams = params
	token.VirtualX = common.CloneBig(params.X0)
	token.VirtualY = common.CloneBig(params.Y0)
	token.Launched = true
	token.CreatorID = creator.ID
	token.TransactionHash = strings.ToLower(l.TransactionHash)
	token.LaunchedAt = &launchedAt
	reprice(token)

	r.token = token
	r.tokenDirty = true
	r.activities = append(r.activities, common.ActivityRecord{
		UserID:          creator.ID,
		TokenID:         token.ID,
		Type:            common.ActivityCreated,
		QuoteAmount:     new(big.Int),
		TokenAmount:     common.CloneBig(ev.TotalSupply),
		TransactionHash: l.TransactionHash,
		LogIndex:        l.LogIndex,
		Timestamp:       launchedAt,
	})
	r.launchedBy = creator
	r.launchedAt = launchedAt
	r.counts[ev.Name()]++
	return nil
}

// trade records a buy or a sell. Reserves are not touched here; the group's
// trades are merged into one delta and flushed once.
func (r *groupReplay) trade(ctx context.Context, ev contract.Event, direction common.TradeDirection, traderAddress string, quoteAmount, tokenAmount *big.Int) error {
	if !r.launched() {
		r.anomaly(ev, "unknown_token", ErrUnknownToken)
		return nil
	}
	l := ev.Log()
	trader, err := r.arena.user(ctx, traderAddress)
	if err != nil {
		return err
	}
	balance, err := r.holderBalance(ctx, trader.ID)
	if err != nil {
		return err
	}

	activityType := common.ActivityBuy
	if direction == common.TradeBuy {
		r.delta.buy(quoteAmount, tokenAmount)
		balance.Add(balance, common.BigOrZero(tokenAmount))
	} else {
		activityType = common.ActivitySell
		r.delta.sell(tokenAmount, quoteAmount)
		balance.Sub(balance, common.BigOrZero(tokenAmount))
		if balance.Sign() < 0 {
			log.Debug().Str("token", r.address).Str("holder", trader.Address).Msg("Sell exceeds known balance, clamping to zero")
			balance.SetInt64(0)
		}
	}

	record := common.TradeRecord{
		TokenID:         r.token.ID,
		TraderID:        trader.ID,
		Direction:       direction,
		QuoteAmount:     common.CloneBig(common.BigOrZero(quoteAmount)),
		TokenAmount:     common.CloneBig(common.BigOrZero(tokenAmount)),
		TransactionHash: l.TransactionHash,
		LogIndex:        l.LogIndex,
		BlockNumber:     l.BlockNumber,
		Timestamp:       l.BlockTimestamp,
	}
	r.trades = append(r.trades, record)
	r.activities = append(r.activities, common.ActivityRecord{
		UserID:          trader.ID,
		TokenID:         r.token.ID,
		Type:            activityType,
		QuoteAmount:     common.CloneBig(record.QuoteAmount),
		TokenAmount:     common.CloneBig(record.TokenAmount),
		TransactionHash: l.TransactionHash,
		LogIndex:        l.LogIndex,
		Timestamp:       l.BlockTimestamp,
	})
	r.tradeFeed = append(r.tradeFeed, tradeFeedItem{trader: trader, record: record})
	r.counts[ev.Name()]++
	return nil
}

func (r *groupReplay) holderBalance(ctx context.Context, holderID int64) (*big.Int, error) {
	if b, ok := r.holders[holderID]; ok {
		return b, nil
	}
	balance := new(big.Int)
	if r.token.ID != 0 {
		stored, err := r.e.state.GetHolderBalances(ctx, r.token.ID, []int64{holderID})
		if err != nil {
			return nil, fmt.Errorf("failed to load holder balance: %w", err)
		}
		if b, ok := stored[holderID]; ok {
			balance.Set(b)
		}
	}
	r.holders[holderID] = balance
	r.holderOrder = append(r.holderOrder, holderID)
	return balance, nil
}

func (r *groupReplay) donation(ev contract.DonationEvent) error {
	if !r.launched() {
		r.anomaly(ev, "unknown_token", ErrUnknownToken)
		return nil
	}
	if !r.token.Donated {
		r.token.Donated = true
		r.tokenDirty = true
	}
	r.counts[ev.Name()]++
	return nil
}

// complete marks the market's graduation as due. The transaction is sent after
// the group commits, so a signer problem never holds back the trade ledger.
func (r *groupReplay) complete(ev contract.CompleteEvent) error {
	if !r.launched() {
		r.anomaly(ev, "unknown_token", ErrUnknownToken)
		return nil
	}
	if r.token.Graduated || r.token.GraduationState != common.GraduationNone {
		log.Debug().Str("token", r.address).Str("state", r.token.GraduationState.String()).Msg("Graduation already scheduled")
		return nil
	}
	if r.e.graduator == nil {
		log.Warn().Str("token", r.address).Msg("Market completed but no graduation signer is configured")
	}
	r.token.GraduationState = common.GraduationDue
	r.tokenDirty = true
	r.counts[ev.Name()]++
	return nil
}

func (r *groupReplay) graduate(ev contract.GraduateEvent) error {
	if !r.launched() {
		r.anomaly(ev, "unknown_token", ErrUnknownToken)
		return nil
	}
	if r.token.Graduated {
		log.Debug().Str("token", r.address).Msg("Market already graduated")
		return nil
	}
	r.token.Graduated = true
	r.token.PairAddress = ev.PairAddress
	r.tokenDirty = true
	r.graduated = true
	r.counts[ev.Name()]++
	return nil
}

// flushReserves applies the merged trade delta. The on-chain reserves win when
// reconciliation is on or when the replayed reserves would break the market.
func (r *groupReplay) flushReserves(ctx context.Context) error {
	if r.token == nil || r.delta.trades == 0 {
		return nil
	}
	x, y := r.delta.applyTo(r.token.VirtualX, r.token.VirtualY)
	consistent := validReserves(x, y)

	if (r.e.cfg.ReconcileReserves || !consistent) && r.e.reader != nil {
		chainX, chainY, err := r.e.reader.VirtualReserves(ctx, r.address)
		switch {
		case err != nil && !consistent:
			return fmt.Errorf("replayed reserves x=%s y=%s are invalid and reading them on-chain failed: %w", x, y, err)
		case err != nil:
			log.Warn().Err(err).Str("token", r.address).Msg("Failed to reconcile reserves, keeping replayed values")
		default:
			if chainX.Cmp(x) != 0 || chainY.Cmp(y) != 0 {
				metrics.ReserveDrift.Inc()
				log.Warn().Str("token", r.address).
					Str("replayedX", x.String()).Str("replayedY", y.String()).
					Str("chainX", chainX.String()).Str("chainY", chainY.String()).
					Msg("Replayed reserves drifted from chain, adopting on-chain values")
			}
			x, y = chainX, chainY
		}
	}
	if !validReserves(x, y) {
		return fmt.Errorf("reserves x=%s y=%s violate the market invariant", x, y)
	}

	r.token.VirtualX = x
	r.token.VirtualY = y
	reprice(r.token)
	r.tokenDirty = true
	r.reservesFlushed = true
	return nil
}

func (r *groupReplay) buildCommit(logIDs []int64, now time.Time) *common.GroupCommit {
	commit := &common.GroupCommit{
		TokenAddress:    r.address,
		Trades:          r.trades,
		Activities:      r.activities,
		ProcessedLogIDs: logIDs,
		ProcessedAt:     now,
	}
	if r.tokenDirty {
		commit.Token = r.token
	}
	var tokenID int64
	if r.token != nil {
		tokenID = r.token.ID
	}
	for _, id := range r.holderOrder {
		commit.Holders = append(commit.Holders, common.HolderBalance{
			TokenID:   tokenID,
			HolderID:  id,
			Balance:   r.holders[id],
			UpdatedAt: now,
		})
	}
	return commit
}

func (r *groupReplay) appliedCount() int {
	n := 0
	for _, c := range r.counts {
		n += c
	}
	return n
}

// publish emits the group's notifications once its commit is durable.
// Delivery is best effort.
func (r *groupReplay) publish(ctx context.Context, now time.Time) {
	if r.token == nil {
		return
	}
	var out []notify.Notification
	if r.launchedBy != nil {
		out = append(out, notify.TokenLaunched(r.token, r.launchedBy, r.launchedAt))
	}
	for _, item := range r.tradeFeed {
		out = append(out, notify.Trade(r.token, item.trader, item.record)...)
	}
	if len(r.tradeFeed) > 0 {
		out = append(out, notify.HoldersUpdated(r.address))
	}
	if r.reservesFlushed {
		volume, err := r.e.state.GetTradeVolumeSince(ctx, r.token.ID, now.Add(-r.e.cfg.VolumeWindow))
		if err != nil {
			log.Warn().Err(err).Str("token", r.address).Msg("Failed to aggregate trade volume")
			volume = new(big.Int)
		}
		out = append(out, notify.TokenUpdate(r.token, common.FormatUnits(volume)))
	}
	if r.graduated {
		out = append(out, notify.Graduate(r.token))
	}

	for _, n := range out {
		if err := r.e.notifier.Publish(ctx, n); err != nil {
			log.Warn().Err(err).Str("token", r.address).Str("event", string(n.Event)).Msg("Failed to publish notification")
		}
	}
}
