package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortLogsCausalOrder(t *testing.T) {
	logs := []RawLog{
		{ID: 1, BlockNumber: 12, LogIndex: 0, TransactionIndex: 0},
		{ID: 2, BlockNumber: 10, LogIndex: 5, TransactionIndex: 1},
		{ID: 3, BlockNumber: 10, LogIndex: 2, TransactionIndex: 3},
		{ID: 4, BlockNumber: 10, LogIndex: 2, TransactionIndex: 1},
	}

	SortLogs(logs)

	ids := make([]int64, len(logs))
	for i, l := range logs {
		ids[i] = l.ID
	}
	assert.Equal(t, []int64{4, 3, 2, 1}, ids)
}

func TestEventKeyIsCaseInsensitive(t *testing.T) {
	a := RawLog{TransactionHash: "0xABCDEF", LogIndex: 3}
	b := RawLog{TransactionHash: "0xabcdef", LogIndex: 3}
	c := RawLog{TransactionHash: "0xabcdef", LogIndex: 4}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestSliceToChunks(t *testing.T) {
	tests := []struct {
		name      string
		values    []int
		chunkSize int
		expected  [][]int
	}{
		{"empty", nil, 3, nil},
		{"single chunk", []int{1, 2}, 5, [][]int{{1, 2}}},
		{"non positive size", []int{1, 2, 3}, 0, [][]int{{1, 2, 3}}},
		{"uneven", []int{1, 2, 3, 4, 5}, 2, [][]int{{1, 2}, {3, 4}, {5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SliceToChunks(tt.values, tt.chunkSize))
		})
	}
}
