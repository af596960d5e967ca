package storage

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/common"
)

type holderKey struct {
	tokenID  int64
	holderID int64
}

// MemoryConnector keeps everything in process. It implements the same
// contracts as the postgres connector and is meant for tests and local runs.
type MemoryConnector struct {
	mu sync.RWMutex

	maxItems   int
	nextLogID  int64
	logs       map[int64]*common.RawLog
	logKeys    map[common.EventKey]int64
	checkpoint *common.SyncCheckpoint

	nextUserID   int64
	users        map[int64]*common.User
	usersByAddr  map[string]int64
	nextTokenID  int64
	tokens       map[int64]*common.TokenMarket
	tokensByAddr map[string]int64
	trades       map[common.EventKey]common.TradeRecord
	activities   map[common.EventKey]common.ActivityRecord
	holders      map[holderKey]*big.Int
}

func NewMemoryConnector(cfg *config.MemoryConfig) (*MemoryConnector, error) {
	maxItems := 0
	if cfg != nil && cfg.MaxItems > 0 {
		maxItems = cfg.MaxItems
	}
	return &MemoryConnector{
		maxItems:     maxItems,
		logs:         make(map[int64]*common.RawLog),
		logKeys:      make(map[common.EventKey]int64),
		users:        make(map[int64]*common.User),
		usersByAddr:  make(map[string]int64),
		tokens:       make(map[int64]*common.TokenMarket),
		tokensByAddr: make(map[string]int64),
		trades:       make(map[common.EventKey]common.TradeRecord),
		activities:   make(map[common.EventKey]common.ActivityRecord),
		holders:      make(map[holderKey]*big.Int),
	}, nil
}

// Log storage

func (m *MemoryConnector) InsertLogs(ctx context.Context, logs []common.RawLog) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxItems > 0 && len(m.logs)+len(logs) > m.maxItems {
		return 0, fmt.Errorf("memory log storage is full (%d items)", m.maxItems)
	}
	inserted := 0
	for i := range logs {
		l := logs[i]
		l.Address = common.NormalizeAddress(l.Address)
		key := l.Key()
		if _, exists := m.logKeys[key]; exists {
			continue
		}
		m.nextLogID++
		l.ID = m.nextLogID
		l.Processed = false
		l.ProcessedAt = nil
		l.Topics = append([]string(nil), l.Topics...)
		m.logs[l.ID] = &l
		m.logKeys[key] = l.ID
		inserted++
	}
	return inserted, nil
}

func (m *MemoryConnector) GetUnprocessedLogs(ctx context.Context, limit int) ([]common.RawLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var logs []common.RawLog
	for _, l := range m.logs {
		if !l.Processed {
			logs = append(logs, *l)
		}
	}
	common.SortLogs(logs)
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (m *MemoryConnector) MarkLogsProcessed(ctx context.Context, ids []int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markProcessed(ids, at)
	return nil
}

func (m *MemoryConnector) markProcessed(ids []int64, at time.Time) {
	for _, id := range ids {
		if l, ok := m.logs[id]; ok {
			processedAt := at
			l.Processed = true
			l.ProcessedAt = &processedAt
		}
	}
}

func (m *MemoryConnector) DeleteProcessedLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, l := range m.logs {
		if l.Processed && l.ProcessedAt != nil && l.ProcessedAt.Before(cutoff) {
			delete(m.logs, id)
			delete(m.logKeys, l.Key())
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryConnector) GetCheckpoint(ctx context.Context) (*common.SyncCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.checkpoint == nil {
		return nil, ErrNotFound
	}
	cp := *m.checkpoint
	return &cp, nil
}

func (m *MemoryConnector) AdvanceCheckpoint(ctx context.Context, adv common.CheckpointAdvance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint == nil {
		m.checkpoint = &common.SyncCheckpoint{}
	}
	if adv.Block > m.checkpoint.LastProcessedBlock {
		m.checkpoint.LastProcessedBlock = adv.Block
	}
	at := adv.At
	m.checkpoint.LastSuccessfulSync = &at
	m.checkpoint.TotalProcessedTransactions += uint64(adv.Transactions)
	m.checkpoint.TotalProcessedEvents += uint64(adv.Events)
	m.checkpoint.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryConnector) ResetCheckpoint(ctx context.Context, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint == nil {
		m.checkpoint = &common.SyncCheckpoint{}
	}
	m.checkpoint.LastProcessedBlock = block
	m.checkpoint.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryConnector) RecordSyncError(ctx context.Context, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint == nil {
		return nil
	}
	m.checkpoint.LastErrorAt = &at
	m.checkpoint.LastErrorMessage = message
	m.checkpoint.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryConnector) SetSyncing(ctx context.Context, syncing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint != nil {
		m.checkpoint.IsSyncing = syncing
	}
	return nil
}

// User directory

func (m *MemoryConnector) FindByAddress(ctx context.Context, address string) (*common.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByAddr[common.NormalizeAddress(address)]
	if !ok {
		return nil, ErrNotFound
	}
	u := *m.users[id]
	return &u, nil
}

func (m *MemoryConnector) CreateUser(ctx context.Context, address string) (*common.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	address = common.NormalizeAddress(address)
	if id, ok := m.usersByAddr[address]; ok {
		u := *m.users[id]
		return &u, nil
	}
	m.nextUserID++
	u := &common.User{ID: m.nextUserID, Address: address, CreatedAt: time.Now()}
	m.users[u.ID] = u
	m.usersByAddr[address] = u.ID
	cp := *u
	return &cp, nil
}

// State storage

// PutToken stores a market outside of replay, e.g. one created off-chain before launch.
func (m *MemoryConnector) PutToken(t *common.TokenMarket) *common.TokenMarket {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := t.Clone()
	if stored.ID == 0 {
		m.nextTokenID++
		stored.ID = m.nextTokenID
	}
	m.tokens[stored.ID] = stored
	if stored.Address != "" {
		m.tokensByAddr[common.NormalizeAddress(stored.Address)] = stored.ID
	}
	return stored.Clone()
}

func (m *MemoryConnector) GetTokenByAddress(ctx context.Context, address string) (*common.TokenMarket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tokensByAddr[common.NormalizeAddress(address)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.tokens[id].Clone(), nil
}

func (m *MemoryConnector) FindPendingToken(ctx context.Context, txHash string, creatorID int64) (*common.TokenMarket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *common.TokenMarket
	for _, t := range m.tokens {
		if t.Launched || t.CreatorID != creatorID || common.NormalizeAddress(t.TransactionHash) != common.NormalizeAddress(txHash) {
			continue
		}
		if found == nil || t.ID < found.ID {
			found = t
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.Clone(), nil
}

func (m *MemoryConnector) GetAppliedEventKeys(ctx context.Context, keys []common.EventKey) (map[common.EventKey]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	applied := make(map[common.EventKey]bool)
	for _, k := range keys {
		_, isTrade := m.trades[k]
		_, isActivity := m.activities[k]
		if isTrade || isActivity {
			applied[k] = true
		}
	}
	return applied, nil
}

func (m *MemoryConnector) GetHolderBalances(ctx context.Context, tokenID int64, holderIDs []int64) (map[int64]*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	balances := make(map[int64]*big.Int)
	for _, id := range holderIDs {
		if b, ok := m.holders[holderKey{tokenID: tokenID, holderID: id}]; ok {
			balances[id] = new(big.Int).Set(b)
		}
	}
	return balances, nil
}

func (m *MemoryConnector) GetTradeVolumeSince(ctx context.Context, tokenID int64, since time.Time) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	volume := new(big.Int)
	for _, t := range m.trades {
		if t.TokenID == tokenID && !t.Timestamp.Before(since) {
			volume.Add(volume, common.BigOrZero(t.QuoteAmount))
		}
	}
	return volume, nil
}

func (m *MemoryConnector) CommitGroup(ctx context.Context, commit *common.GroupCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// validate everything before mutating so a failed commit leaves no trace
	tokenID := int64(0)
	var stored *common.TokenMarket
	if commit.Token != nil {
		stored = commit.Token.Clone()
		stored.Address = common.NormalizeAddress(stored.Address)
		if stored.Address != "" {
			if existing, ok := m.tokensByAddr[stored.Address]; ok && stored.ID != 0 && existing != stored.ID {
				return fmt.Errorf("token %s: %w", stored.Address, ErrDuplicateKey)
			} else if ok && stored.ID == 0 {
				stored.ID = existing
			}
		}
		if stored.ID != 0 {
			if _, ok := m.tokens[stored.ID]; !ok {
				return fmt.Errorf("token id %d: %w", stored.ID, ErrNotFound)
			}
		}
		tokenID = stored.ID
	}
	needsToken := func(id int64) error {
		if id == 0 && commit.Token == nil {
			return fmt.Errorf("ledger row for %s references an uncommitted token", commit.TokenAddress)
		}
		return nil
	}
	for _, t := range commit.Trades {
		if err := needsToken(t.TokenID); err != nil {
			return err
		}
	}
	for _, a := range commit.Activities {
		if err := needsToken(a.TokenID); err != nil {
			return err
		}
	}
	for _, h := range commit.Holders {
		if err := needsToken(h.TokenID); err != nil {
			return err
		}
		if h.Balance != nil && h.Balance.Sign() < 0 {
			return fmt.Errorf("negative balance for holder %d", h.HolderID)
		}
	}

	if stored != nil {
		if stored.ID == 0 {
			m.nextTokenID++
			stored.ID = m.nextTokenID
		}
		if old, ok := m.tokens[stored.ID]; ok {
			if old.Address != "" && old.Address != stored.Address {
				delete(m.tokensByAddr, old.Address)
			}
			if old.GraduationState > stored.GraduationState {
				stored.GraduationState = old.GraduationState
			}
			if stored.GraduationTxHash == "" {
				stored.GraduationTxHash = old.GraduationTxHash
			}
		}
		stored.UpdatedAt = time.Now()
		m.tokens[stored.ID] = stored
		if stored.Address != "" {
			m.tokensByAddr[stored.Address] = stored.ID
		}
		tokenID = stored.ID
	}
	pick := func(id int64) int64 {
		if id == 0 {
			return tokenID
		}
		return id
	}
	for _, t := range commit.Trades {
		key := t.Key()
		if _, exists := m.trades[key]; exists {
			continue
		}
		t.TokenID = pick(t.TokenID)
		t.QuoteAmount = common.CloneBig(t.QuoteAmount)
		t.TokenAmount = common.CloneBig(t.TokenAmount)
		m.trades[key] = t
	}
	for _, a := range commit.Activities {
		key := a.Key()
		if _, exists := m.activities[key]; exists {
			continue
		}
		a.TokenID = pick(a.TokenID)
		a.QuoteAmount = common.CloneBig(a.QuoteAmount)
		a.TokenAmount = common.CloneBig(a.TokenAmount)
		m.activities[key] = a
	}
	for _, h := range commit.Holders {
		m.holders[holderKey{tokenID: pick(h.TokenID), holderID: h.HolderID}] = new(big.Int).Set(common.BigOrZero(h.Balance))
	}
	m.markProcessed(commit.ProcessedLogIDs, commit.ProcessedAt)

	if commit.Token != nil {
		commit.Token.ID = tokenID
	}
	return nil
}

func (m *MemoryConnector) GetTokensAwaitingGraduation(ctx context.Context, limit int) ([]*common.TokenMarket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []*common.TokenMarket
	for _, t := range m.tokens {
		if t.GraduationState == common.GraduationDue && !t.Graduated {
			due = append(due, t.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryConnector) ClaimGraduation(ctx context.Context, tokenID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok || t.Graduated || t.GraduationState != common.GraduationDue {
		return false, nil
	}
	t.GraduationState = common.GraduationSubmitting
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryConnector) SetGraduationResult(ctx context.Context, tokenID int64, state common.GraduationState, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok {
		return fmt.Errorf("token id %d: %w", tokenID, ErrNotFound)
	}
	t.GraduationState = state
	if txHash != "" {
		t.GraduationTxHash = txHash
	}
	t.UpdatedAt = time.Now()
	return nil
}

// Trades returns the trade ledger of a market in causal order.
func (m *MemoryConnector) Trades(tokenID int64) []common.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var trades []common.TradeRecord
	for _, t := range m.trades {
		if t.TokenID == tokenID {
			trades = append(trades, t)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].BlockNumber != trades[j].BlockNumber {
			return trades[i].BlockNumber < trades[j].BlockNumber
		}
		return trades[i].LogIndex < trades[j].LogIndex
	})
	return trades
}

// Activities returns every activity recorded for a user.
func (m *MemoryConnector) Activities(userID int64) []common.ActivityRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var activities []common.ActivityRecord
	for _, a := range m.activities {
		if a.UserID == userID {
			activities = append(activities, a)
		}
	}
	sort.Slice(activities, func(i, j int) bool { return activities[i].Timestamp.Before(activities[j].Timestamp) })
	return activities
}

func (m *MemoryConnector) Close() error {
	return nil
}
