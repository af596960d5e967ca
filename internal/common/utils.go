package common

import (
	"math/big"
	"strings"
)

func SliceToChunks[T any](values []T, chunkSize int) [][]T {
	if len(values) == 0 {
		return nil
	}
	if chunkSize >= len(values) || chunkSize <= 0 {
		return [][]T{values}
	}
	var chunks [][]T
	for i := 0; i < len(values); i += chunkSize {
		end := i + chunkSize
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[i:end])
	}
	return chunks
}

// NormalizeAddress lowercases a hex address so it can be used as a map or row key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func CloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// BigOrZero returns v, or a fresh zero when v is nil.
func BigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
