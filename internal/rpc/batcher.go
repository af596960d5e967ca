package rpc

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type FetchResult[K any, T any] struct {
	Key    K
	Error  error
	Result T
}

// FetchConcurrently issues one call per key and decodes each result into T.
// The pool bounds how many of them are in flight; results keep key order.
func FetchConcurrently[K any, T any](ctx context.Context, pool *Pool, keys []K, method string, argsFunc func(K) []interface{}) []FetchResult[K, T] {
	results := make([]FetchResult[K, T], len(keys))
	if len(keys) == 0 {
		return results
	}
	log.Debug().Msgf("Fetching %s for %d keys", method, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key K) {
			defer wg.Done()
			results[i].Key = key
			raw, err := pool.Call(ctx, method, argsFunc(key)...)
			if err != nil {
				results[i].Error = err
				return
			}
			if err := raw.Decode(&results[i].Result); err != nil {
				results[i].Error = err
			}
		}(i, key)
	}
	wg.Wait()
	return results
}
