package common

import (
	"math/big"
	"time"
)

type TradeDirection string

const (
	TradeBuy  TradeDirection = "buy"
	TradeSell TradeDirection = "sell"
)

type ActivityType string

const (
	ActivityCreated ActivityType = "created"
	ActivityBuy     ActivityType = "buy"
	ActivitySell    ActivityType = "sell"
)

// TradeRecord is an append-only ledger entry. TokenID 0 refers to the market
// committed in the same GroupCommit.
type TradeRecord struct {
	TokenID         int64          `json:"token_id"`
	TraderID        int64          `json:"trader_id"`
	Direction       TradeDirection `json:"direction"`
	QuoteAmount     *big.Int       `json:"quote_amount"`
	TokenAmount     *big.Int       `json:"token_amount"`
	TransactionHash string         `json:"transaction_hash"`
	LogIndex        uint64         `json:"log_index"`
	BlockNumber     uint64         `json:"block_number"`
	Timestamp       time.Time      `json:"timestamp"`
}

func (t *TradeRecord) Key() EventKey {
	return NewEventKey(t.TransactionHash, t.LogIndex)
}

type ActivityRecord struct {
	UserID          int64        `json:"user_id"`
	TokenID         int64        `json:"token_id"`
	Type            ActivityType `json:"type"`
	QuoteAmount     *big.Int     `json:"quote_amount"`
	TokenAmount     *big.Int     `json:"token_amount"`
	TransactionHash string       `json:"transaction_hash"`
	LogIndex        uint64       `json:"log_index"`
	Timestamp       time.Time    `json:"timestamp"`
}

func (a *ActivityRecord) Key() EventKey {
	return NewEventKey(a.TransactionHash, a.LogIndex)
}

// HolderBalance is the token base-unit balance of one holder; never negative.
type HolderBalance struct {
	TokenID   int64     `json:"token_id"`
	HolderID  int64     `json:"holder_id"`
	Balance   *big.Int  `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupCommit is everything one token group produced in a replay run. It is
// persisted atomically together with the processed flag of its logs.
type GroupCommit struct {
	TokenAddress    string
	Token           *TokenMarket
	Trades          []TradeRecord
	Activities      []ActivityRecord
	Holders         []HolderBalance
	ProcessedLogIDs []int64
	ProcessedAt     time.Time
}

func (g *GroupCommit) IsEmpty() bool {
	return g.Token == nil && len(g.Trades) == 0 && len(g.Activities) == 0 && len(g.Holders) == 0 && len(g.ProcessedLogIDs) == 0
}
