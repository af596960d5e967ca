package replay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/contract"
	"github.com/curvewatch/indexer/internal/notify"
	"github.com/curvewatch/indexer/internal/storage"
	"github.com/curvewatch/indexer/test/mocks"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testContract = "0x00000000000000000000000000000000000000ff"

var (
	tokenA   = gethCommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB   = gethCommon.HexToAddress("0x00000000000000000000000000000000000000b1")
	launcher = gethCommon.HexToAddress("0x00000000000000000000000000000000000000d1")
	alice    = gethCommon.HexToAddress("0x00000000000000000000000000000000000000e1")
	bob      = gethCommon.HexToAddress("0x00000000000000000000000000000000000000e2")
	pair     = gethCommon.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func lower(a gethCommon.Address) string {
	return strings.ToLower(a.Hex())
}

type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Publish(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recorder) byEvent(event notify.Event) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.got {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	t         *testing.T
	store     *storage.MemoryConnector
	reader    *mocks.MockIContractReader
	graduator *mocks.MockIGraduator
	notes     *recorder
	now       time.Time
	block     uint64
	tx        int
	emitted   []common.RawLog
}

func newFixture(t *testing.T) *fixture {
	store, err := storage.NewMemoryConnector(&config.MemoryConfig{})
	require.NoError(t, err)
	return &fixture{
		t:         t,
		store:     store,
		reader:    &mocks.MockIContractReader{},
		graduator: &mocks.MockIGraduator{},
		notes:     &recorder{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		block:     100,
	}
}

func testCurves(t *testing.T) *CurveBook {
	book, err := NewCurveBook(map[string]config.CurveConfig{
		"beginner": {X0: units(12000).String(), Y0: units(3000).String()},
		"pro":      {X0: units(12000).String(), Y0: units(6000).String()},
	})
	require.NoError(t, err)
	return book
}

func (f *fixture) engineWith(cfg Config, curves *CurveBook, logs storage.ILogStorage) *Engine {
	cfg.ContractAddress = testContract
	s := storage.IStorage{LogStorage: logs, StateStorage: f.store, Users: f.store}
	return NewEngine(cfg, s, f.reader, curves,
		WithGraduator(f.graduator),
		WithNotifier(f.notes),
		WithClock(func() time.Time { return f.now }),
	)
}

func (f *fixture) engine(cfg Config) *Engine {
	return f.engineWith(cfg, testCurves(f.t), f.store)
}

func (f *fixture) insert(l common.RawLog) common.RawLog {
	f.t.Helper()
	_, err := f.store.InsertLogs(context.Background(), []common.RawLog{l})
	require.NoError(f.t, err)
	f.emitted = append(f.emitted, l)
	return l
}

func (f *fixture) emit(name contract.EventName, args map[string]interface{}) common.RawLog {
	f.t.Helper()
	topics, data, err := contract.EncodeEvent(name, args)
	require.NoError(f.t, err)
	f.block++
	f.tx++
	return f.insert(common.RawLog{
		Address:         testContract,
		Topics:          topics,
		Data:            data,
		BlockNumber:     f.block,
		BlockHash:       fmt.Sprintf("0xb%d", f.block),
		BlockTimestamp:  f.now.Add(-time.Minute),
		TransactionHash: fmt.Sprintf("0x%064x", f.tx),
	})
}

func (f *fixture) launch(token gethCommon.Address, curveSize uint8) common.RawLog {
	return f.emit(contract.EventLaunch, map[string]interface{}{
		"launcher":     launcher,
		"tokenAddress": token,
		"name":         "Curve Cat",
		"symbol":       "CRV",
		"totalSupply":  units(10000),
		"curveSize":    curveSize,
	})
}

func (f *fixture) buy(token, trader gethCommon.Address, quoteIn, tokenOut *big.Int) common.RawLog {
	return f.emit(contract.EventBuy, map[string]interface{}{
		"buyer": trader, "tokenAddress": token, "ethAmountIn": quoteIn, "tokenAmountOut": tokenOut,
	})
}

func (f *fixture) sell(token, trader gethCommon.Address, tokenIn, quoteOut *big.Int) common.RawLog {
	return f.emit(contract.EventSell, map[string]interface{}{
		"seller": trader, "tokenAddress": token, "tokenAmountIn": tokenIn, "ethAmountOut": quoteOut,
	})
}

func (f *fixture) run(e *Engine) RunResult {
	f.t.Helper()
	res, err := e.Run(context.Background())
	require.NoError(f.t, err)
	return res
}

func (f *fixture) token(addr gethCommon.Address) *common.TokenMarket {
	f.t.Helper()
	t, err := f.store.GetTokenByAddress(context.Background(), lower(addr))
	require.NoError(f.t, err)
	return t
}

func (f *fixture) pending() []common.RawLog {
	f.t.Helper()
	logs, err := f.store.GetUnprocessedLogs(context.Background(), 0)
	require.NoError(f.t, err)
	return logs
}

func (f *fixture) balance(token gethCommon.Address, holder gethCommon.Address) *big.Int {
	f.t.Helper()
	u, err := f.store.FindByAddress(context.Background(), lower(holder))
	require.NoError(f.t, err)
	balances, err := f.store.GetHolderBalances(context.Background(), f.token(token).ID, []int64{u.ID})
	require.NoError(f.t, err)
	return common.BigOrZero(balances[u.ID])
}

func TestLaunchBeginnerMatchesClosedForm(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)

	res := f.run(f.engine(Config{}))
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, f.pending())

	token := f.token(tokenA)
	assert.True(t, token.Launched)
	assert.Equal(t, common.CurveBeginner, token.Curve)
	assert.Equal(t, 0, units(12000).Cmp(token.VirtualX))
	assert.Equal(t, 0, units(3000).Cmp(token.VirtualY))
	assert.Equal(t, "250000000000000000", token.Price.String())
	assert.Equal(t, 0, units(2500).Cmp(token.MarketCap))
	assert.Equal(t, int64(0), token.TotalRaised.Int64())
	assert.Equal(t, "Curve Cat", token.Name)

	creator, err := f.store.FindByAddress(context.Background(), lower(launcher))
	require.NoError(t, err)
	assert.Equal(t, creator.ID, token.CreatorID)
	activities := f.store.Activities(creator.ID)
	require.Len(t, activities, 1)
	assert.Equal(t, common.ActivityCreated, activities[0].Type)
	assert.Equal(t, 0, units(10000).Cmp(activities[0].TokenAmount))

	launched := f.notes.byEvent(notify.EventTokenLaunched)
	require.Len(t, launched, 1)
	assert.Equal(t, []notify.Target{notify.Public(), notify.User(lower(launcher))}, launched[0].Targets)
	payload := launched[0].Data.(notify.TokenLaunchedPayload)
	assert.Equal(t, "0.25", payload.Price.String())
	assert.Equal(t, "2500", payload.MarketCap.String())
}

func TestLaunchProCurve(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 1)
	f.run(f.engine(Config{}))

	token := f.token(tokenA)
	assert.Equal(t, common.CurvePro, token.Curve)
	assert.Equal(t, "500000000000000000", token.Price.String())
}

func TestLaunchReadsUnconfiguredCurveFromContract(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 1)
	f.reader.On("CurveParams", mock.Anything, lower(tokenA)).
		Return(common.CurveParams{X0: units(1000), Y0: units(500)}, nil).Once()

	onlyBeginner, err := NewCurveBook(map[string]config.CurveConfig{
		"beginner": {X0: units(12000).String(), Y0: units(3000).String()},
	})
	require.NoError(t, err)
	f.run(f.engineWith(Config{}, onlyBeginner, f.store))

	assert.Equal(t, "500000000000000000", f.token(tokenA).Price.String())
	f.reader.AssertExpectations(t)
}

func TestLaunchReusesPendingMarket(t *testing.T) {
	f := newFixture(t)
	creator, err := f.store.CreateUser(context.Background(), lower(launcher))
	require.NoError(t, err)
	l := f.launch(tokenA, 0)
	draft := f.store.PutToken(&common.TokenMarket{TransactionHash: l.TransactionHash, CreatorID: creator.ID, Name: "draft"})

	f.run(f.engine(Config{}))

	token := f.token(tokenA)
	assert.Equal(t, draft.ID, token.ID)
	assert.True(t, token.Launched)
}

func TestBuyThenSellNetsToZero(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.run(f.engine(Config{}))
	before := f.token(tokenA)

	f.buy(tokenA, alice, units(100), units(400))
	f.sell(tokenA, alice, units(400), units(100))
	res := f.run(f.engine(Config{}))
	assert.Equal(t, 2, res.Applied)

	after := f.token(tokenA)
	assert.Equal(t, 0, before.VirtualX.Cmp(after.VirtualX))
	assert.Equal(t, 0, before.VirtualY.Cmp(after.VirtualY))
	assert.Equal(t, 0, before.Price.Cmp(after.Price))
	assert.Equal(t, int64(0), f.balance(tokenA, alice).Int64())
	assert.Len(t, f.store.Trades(after.ID), 2)

	updates := f.notes.byEvent(notify.EventTokenUpdate)
	require.Len(t, updates, 1, "trades of one group are flushed in a single update")
	payload := updates[0].Data.(notify.TokenUpdatePayload)
	assert.Equal(t, "200", payload.Volume24h.String())
	assert.Len(t, f.notes.byEvent(notify.EventTrade), 4)
	assert.Len(t, f.notes.byEvent(notify.EventTokenHoldersUpdated), 1)
}

func TestTradesMoveReservesAndBalances(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.buy(tokenA, alice, units(100), units(400))
	f.buy(tokenA, bob, units(50), units(150))
	f.sell(tokenA, alice, units(100), units(30))
	f.run(f.engine(Config{}))

	token := f.token(tokenA)
	assert.Equal(t, 0, units(12000-400-150+100).Cmp(token.VirtualX))
	assert.Equal(t, 0, units(3000+100+50-30).Cmp(token.VirtualY))
	assert.Equal(t, 0, units(120).Cmp(token.TotalRaised))
	assert.Equal(t, 0, Price(token.VirtualX, token.VirtualY).Cmp(token.Price))
	assert.Equal(t, 0, units(300).Cmp(f.balance(tokenA, alice)))
	assert.Equal(t, 0, units(150).Cmp(f.balance(tokenA, bob)))
}

func TestSellBeyondBalanceClampsToZero(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.buy(tokenA, alice, units(10), units(40))
	f.run(f.engine(Config{}))

	f.sell(tokenA, alice, units(100), units(5))
	f.run(f.engine(Config{}))

	assert.Equal(t, int64(0), f.balance(tokenA, alice).Int64())
}

func TestOrderingIsIndependentOfBatching(t *testing.T) {
	build := func() *fixture {
		f := newFixture(t)
		f.launch(tokenA, 0)
		f.buy(tokenA, alice, units(100), units(400))
		f.sell(tokenA, alice, units(600), units(50))
		f.buy(tokenA, alice, units(30), units(120))
		return f
	}

	whole := build()
	whole.run(whole.engine(Config{}))

	stepwise := build()
	e := stepwise.engine(Config{BatchLimit: 1})
	for i := 0; i < 10 && len(stepwise.pending()) > 0; i++ {
		stepwise.run(e)
	}
	require.Empty(t, stepwise.pending())

	a, b := whole.token(tokenA), stepwise.token(tokenA)
	assert.Equal(t, 0, units(12080).Cmp(a.VirtualX))
	assert.Equal(t, 0, units(3080).Cmp(a.VirtualY))
	assert.Equal(t, 0, a.VirtualX.Cmp(b.VirtualX))
	assert.Equal(t, 0, a.VirtualY.Cmp(b.VirtualY))
	assert.Equal(t, 0, units(120).Cmp(whole.balance(tokenA, alice)))
	assert.Equal(t, 0, units(120).Cmp(stepwise.balance(tokenA, alice)))
}

func TestReplayingProcessedLogsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.buy(tokenA, alice, units(100), units(400))
	f.emit(contract.EventDonation, map[string]interface{}{"tokenAddress": tokenA})
	f.run(f.engine(Config{}))
	first := f.token(tokenA)

	// the same logs, unprocessed again
	replayed, err := storage.NewMemoryConnector(&config.MemoryConfig{})
	require.NoError(t, err)
	_, err = replayed.InsertLogs(context.Background(), f.emitted)
	require.NoError(t, err)
	f.run(f.engineWith(Config{}, testCurves(t), replayed))

	second := f.token(tokenA)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0, first.VirtualX.Cmp(second.VirtualX))
	assert.Equal(t, 0, first.VirtualY.Cmp(second.VirtualY))
	assert.True(t, second.Donated)
	assert.Len(t, f.store.Trades(first.ID), 1)
	assert.Equal(t, 0, units(400).Cmp(f.balance(tokenA, alice)))
	assert.Len(t, f.notes.byEvent(notify.EventTrade), 2, "skipped events are not re-announced")
}

func TestTokenGroupsAreIsolated(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.launch(tokenB, 0)
	f.run(f.engine(Config{}))
	initialB := f.token(tokenB)

	f.buy(tokenA, alice, units(100), units(400))
	f.run(f.engine(Config{}))

	b := f.token(tokenB)
	assert.Equal(t, 0, initialB.VirtualX.Cmp(b.VirtualX))
	assert.Equal(t, 0, initialB.VirtualY.Cmp(b.VirtualY))
	assert.Equal(t, 0, units(11600).Cmp(f.token(tokenA).VirtualX))
}

func TestFailingGroupDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.run(f.engine(Config{}))

	// drains more quote than the curve holds
	badSell := f.sell(tokenA, alice, units(10), units(5000))
	f.launch(tokenB, 0)
	f.reader.On("VirtualReserves", mock.Anything, lower(tokenA)).Return(nil, nil, errors.New("rpc down"))

	res := f.run(f.engine(Config{}))
	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 1, res.FailedGroups)

	assert.True(t, f.token(tokenB).Launched)
	assert.Equal(t, 0, units(3000).Cmp(f.token(tokenA).VirtualY))
	pending := f.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, badSell.TransactionHash, pending[0].TransactionHash)
	assert.Empty(t, f.store.Trades(f.token(tokenA).ID))
}

func TestInvalidReplayedReservesAdoptChainValues(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.run(f.engine(Config{}))

	f.sell(tokenA, alice, units(10), units(5000))
	f.reader.On("VirtualReserves", mock.Anything, lower(tokenA)).Return(units(12010), units(100), nil).Once()
	f.run(f.engine(Config{}))

	token := f.token(tokenA)
	assert.Equal(t, 0, units(12010).Cmp(token.VirtualX))
	assert.Equal(t, 0, units(100).Cmp(token.VirtualY))
	assert.Empty(t, f.pending())
}

func TestReconcileAdoptsOnChainReserves(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.buy(tokenA, alice, units(100), units(400))
	f.reader.On("VirtualReserves", mock.Anything, lower(tokenA)).Return(units(11000), units(3200), nil).Once()

	f.run(f.engine(Config{ReconcileReserves: true}))

	token := f.token(tokenA)
	assert.Equal(t, 0, units(11000).Cmp(token.VirtualX))
	assert.Equal(t, 0, units(3200).Cmp(token.VirtualY))
	assert.Equal(t, 0, units(200).Cmp(token.TotalRaised))
	f.reader.AssertExpectations(t)
}

func TestGraduationIsSubmittedOnceAndAppliedOnce(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.emit(contract.EventComplete, map[string]interface{}{"tokenAddress": tokenA})
	f.graduator.On("Graduate", mock.Anything, lower(tokenA)).Return("0xgrad", nil).Once()
	res := f.run(f.engine(Config{}))
	assert.Equal(t, 1, res.Graduations)

	token := f.token(tokenA)
	assert.Equal(t, "0xgrad", token.GraduationTxHash)
	assert.Equal(t, common.GraduationSubmitted, token.GraduationState)
	assert.False(t, token.Graduated)

	f.emit(contract.EventComplete, map[string]interface{}{"tokenAddress": tokenA})
	f.emit(contract.EventGraduate, map[string]interface{}{"tokenAddress": tokenA, "pairAddress": pair})
	f.run(f.engine(Config{}))

	token = f.token(tokenA)
	assert.True(t, token.Graduated)
	assert.Equal(t, lower(pair), token.PairAddress)

	f.emit(contract.EventGraduate, map[string]interface{}{
		"tokenAddress": tokenA,
		"pairAddress":  gethCommon.HexToAddress("0x00000000000000000000000000000000000000c2"),
	})
	f.run(f.engine(Config{}))

	assert.Equal(t, lower(pair), f.token(tokenA).PairAddress)
	f.graduator.AssertNumberOfCalls(t, "Graduate", 1)
	assert.Len(t, f.notes.byEvent(notify.EventGraduate), 1)
	assert.Empty(t, f.pending())
}

func TestRevertedGraduationIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.emit(contract.EventComplete, map[string]interface{}{"tokenAddress": tokenA})
	f.graduator.On("Graduate", mock.Anything, lower(tokenA)).
		Return("", fmt.Errorf("graduate: %w", contract.ErrGraduationReverted)).Once()

	res := f.run(f.engine(Config{}))
	assert.Equal(t, 0, res.FailedGroups)
	assert.Empty(t, f.pending())
	assert.Empty(t, f.token(tokenA).GraduationTxHash)
	assert.Equal(t, common.GraduationReverted, f.token(tokenA).GraduationState)

	f.run(f.engine(Config{}))
	f.graduator.AssertNumberOfCalls(t, "Graduate", 1)
}

func TestFailedGraduationStillCommitsTrades(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.buy(tokenA, alice, units(100), units(400))
	f.emit(contract.EventComplete, map[string]interface{}{"tokenAddress": tokenA})
	f.graduator.On("Graduate", mock.Anything, lower(tokenA)).Return("", errors.New("insufficient funds for gas")).Once()

	res := f.run(f.engine(Config{}))
	assert.Equal(t, 0, res.FailedGroups)
	assert.Equal(t, 0, res.Graduations)
	assert.Empty(t, f.pending())

	token := f.token(tokenA)
	assert.Len(t, f.store.Trades(token.ID), 1)
	assert.Equal(t, 0, units(400).Cmp(f.balance(tokenA, alice)))
	assert.Equal(t, 0, units(11600).Cmp(token.VirtualX))
	assert.Equal(t, common.GraduationDue, token.GraduationState)
	assert.Empty(t, token.GraduationTxHash)
	assert.Len(t, f.notes.byEvent(notify.EventTrade), 2)

	// the next run retries without any new logs
	f.graduator.On("Graduate", mock.Anything, lower(tokenA)).Return("0xgrad", nil).Once()
	res = f.run(f.engine(Config{}))
	assert.Equal(t, 0, res.Selected)
	assert.Equal(t, 1, res.Graduations)
	assert.Equal(t, common.GraduationSubmitted, f.token(tokenA).GraduationState)
	assert.Equal(t, "0xgrad", f.token(tokenA).GraduationTxHash)
	f.graduator.AssertExpectations(t)
}

type forgetfulGraduationStore struct {
	*storage.MemoryConnector
}

func (s forgetfulGraduationStore) SetGraduationResult(ctx context.Context, tokenID int64, state common.GraduationState, txHash string) error {
	return errors.New("connection reset")
}

func TestUnrecordedGraduationIsNeverResent(t *testing.T) {
	f := newFixture(t)
	f.launch(tokenA, 0)
	f.emit(contract.EventComplete, map[string]interface{}{"tokenAddress": tokenA})
	f.graduator.On("Graduate", mock.Anything, lower(tokenA)).Return("0xgrad", nil)

	state := forgetfulGraduationStore{f.store}
	s := storage.IStorage{LogStorage: f.store, StateStorage: state, Users: f.store}
	e := NewEngine(Config{ContractAddress: testContract}, s, f.reader, testCurves(t), WithGraduator(f.graduator))

	f.run(e)
	f.run(e)
	f.emit(contract.EventComplete, map[string]interface{}{"tokenAddress": tokenA})
	f.run(e)

	f.graduator.AssertNumberOfCalls(t, "Graduate", 1)
	assert.Equal(t, common.GraduationSubmitting, f.token(tokenA).GraduationState)
	assert.Empty(t, f.pending())
}

func TestInapplicableLogsAreMarkedProcessed(t *testing.T) {
	f := newFixture(t)
	// precedes the market's launch
	f.buy(tokenB, alice, units(1), units(1))

	foreign := f.launch(tokenA, 0)
	foreign.Address = "0x0000000000000000000000000000000000000bad"
	foreign.TransactionHash = "0xforeign"
	f.insert(foreign)

	f.insert(common.RawLog{Address: testContract, Topics: []string{"0xdeadbeef"}, Data: "0x", BlockNumber: 1, TransactionHash: "0xgarbage"})

	removed := f.launch(tokenB, 0)
	removed.TransactionHash = "0xremoved"
	removed.Removed = true
	f.insert(removed)

	res := f.run(f.engine(Config{}))
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 0, res.FailedGroups)
	assert.Empty(t, f.pending())

	assert.True(t, f.token(tokenA).Launched)
	assert.True(t, f.token(tokenB).Launched)
	assert.Empty(t, f.notes.byEvent(notify.EventTrade))
	assert.Len(t, f.notes.byEvent(notify.EventTokenLaunched), 2)
	assert.Empty(t, f.store.Trades(f.token(tokenB).ID))
}
