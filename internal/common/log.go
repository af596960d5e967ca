package common

import (
	"sort"
	"strings"
	"time"
)

// RawLog is one contract log entry as ingested from the chain, before decoding.
type RawLog struct {
	ID               int64      `json:"id"`
	Address          string     `json:"address"`
	Topics           []string   `json:"topics"`
	Data             string     `json:"data"`
	BlockNumber      uint64     `json:"block_number"`
	BlockHash        string     `json:"block_hash"`
	BlockTimestamp   time.Time  `json:"block_timestamp"`
	TransactionHash  string     `json:"transaction_hash"`
	TransactionIndex uint64     `json:"transaction_index"`
	LogIndex         uint64     `json:"log_index"`
	Removed          bool       `json:"removed"`
	Processed        bool       `json:"processed"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// EventKey identifies a log, and every ledger row derived from it, uniquely.
type EventKey struct {
	TransactionHash string `json:"transaction_hash"`
	LogIndex        uint64 `json:"log_index"`
}

func NewEventKey(txHash string, logIndex uint64) EventKey {
	return EventKey{TransactionHash: strings.ToLower(txHash), LogIndex: logIndex}
}

func (l *RawLog) Key() EventKey {
	return NewEventKey(l.TransactionHash, l.LogIndex)
}

// Before reports whether l precedes o in causal order (block, log index, transaction index).
func (l *RawLog) Before(o *RawLog) bool {
	if l.BlockNumber != o.BlockNumber {
		return l.BlockNumber < o.BlockNumber
	}
	if l.LogIndex != o.LogIndex {
		return l.LogIndex < o.LogIndex
	}
	return l.TransactionIndex < o.TransactionIndex
}

func SortLogs(logs []RawLog) {
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Before(&logs[j])
	})
}
