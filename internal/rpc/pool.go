package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/metrics"
	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DEFAULT_CONCURRENCY         = 40
	DEFAULT_RATE_LIMIT          = 45
	DEFAULT_MAX_RETRIES         = 3
	DEFAULT_RETRY_INITIAL_DELAY = 200 * time.Millisecond
	DEFAULT_REQUEST_TIMEOUT     = 30 * time.Second
)

var ErrNoEndpoints = errors.New("no rpc endpoints configured")

// Caller is the transport a pool endpoint uses. *gethRpc.Client satisfies it.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

type Endpoint struct {
	URL     string
	Headers map[string]string
}

type PoolConfig struct {
	Endpoints         []Endpoint
	Concurrency       int
	RateLimit         int
	MaxRetries        int
	RetryInitialDelay time.Duration
	RequestTimeout    time.Duration
}

// CallError is returned once a call has exhausted its retries.
type CallError struct {
	Method   string
	Params   []interface{}
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	params, err := json.Marshal(e.Params)
	if err != nil {
		params = []byte(fmt.Sprintf("%v", e.Params))
	}
	return fmt.Sprintf("rpc call %s(%s) failed after %d attempt(s): %v", e.Method, params, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

type endpointClient struct {
	name   string
	caller Caller
}

// Pool multiplexes calls over a fixed set of upstream endpoints. The endpoint
// list never changes after construction; selection is a lock-free round robin.
type Pool struct {
	endpoints         []endpointClient
	next              atomic.Uint64
	slots             *SafeSemaphore
	limiter           *rate.Limiter
	maxRetries        int
	retryInitialDelay time.Duration
	requestTimeout    time.Duration
}

// PoolConfigFromConfig builds a PoolConfig from config.Cfg.RPC.
func PoolConfigFromConfig() PoolConfig {
	rpcCfg := config.Cfg.RPC
	endpoints := make([]Endpoint, 0, len(rpcCfg.Endpoints)+1)
	if rpcCfg.URL != "" {
		endpoints = append(endpoints, Endpoint{URL: rpcCfg.URL})
	}
	for _, e := range rpcCfg.Endpoints {
		endpoints = append(endpoints, Endpoint{URL: e.URL, Headers: e.Headers})
	}
	return PoolConfig{
		Endpoints:         endpoints,
		Concurrency:       rpcCfg.Concurrency,
		RateLimit:         rpcCfg.RateLimit,
		MaxRetries:        rpcCfg.MaxRetries,
		RetryInitialDelay: time.Duration(rpcCfg.RetryInitialDelayMs) * time.Millisecond,
		RequestTimeout:    time.Duration(rpcCfg.RequestTimeoutMs) * time.Millisecond,
	}
}

// NewPool dials every configured endpoint.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	callers := make([]Caller, 0, len(cfg.Endpoints))
	names := make([]string, 0, len(cfg.Endpoints))
	for i, endpoint := range cfg.Endpoints {
		headers := http.Header{}
		for k, v := range endpoint.Headers {
			headers.Set(k, v)
		}
		client, err := gethRpc.DialOptions(ctx, endpoint.URL, gethRpc.WithHeaders(headers))
		if err != nil {
			for _, c := range callers {
				c.Close()
			}
			return nil, fmt.Errorf("failed to dial rpc endpoint %d: %w", i, err)
		}
		callers = append(callers, client)
		names = append(names, redactURL(endpoint.URL))
	}
	pool := NewPoolWithCallers(cfg, callers)
	for i := range pool.endpoints {
		pool.endpoints[i].name = names[i]
	}
	log.Info().Msgf("RPC pool initialized with %d endpoint(s)", len(callers))
	return pool, nil
}

// NewPoolWithCallers builds a pool over already connected transports.
func NewPoolWithCallers(cfg PoolConfig, callers []Caller) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DEFAULT_CONCURRENCY
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = DEFAULT_RATE_LIMIT
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = DEFAULT_MAX_RETRIES
	}
	retryInitialDelay := cfg.RetryInitialDelay
	if retryInitialDelay <= 0 {
		retryInitialDelay = DEFAULT_RETRY_INITIAL_DELAY
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DEFAULT_REQUEST_TIMEOUT
	}

	endpoints := make([]endpointClient, len(callers))
	for i, c := range callers {
		endpoints[i] = endpointClient{name: fmt.Sprintf("endpoint-%d", i), caller: c}
	}
	return &Pool{
		endpoints:         endpoints,
		slots:             NewSafeSemaphore(int64(concurrency)),
		limiter:           rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		maxRetries:        maxRetries,
		retryInitialDelay: retryInitialDelay,
		requestTimeout:    requestTimeout,
	}
}

func (p *Pool) pick() endpointClient {
	n := p.next.Add(1) - 1
	return p.endpoints[n%uint64(len(p.endpoints))]
}

// Call performs one JSON-RPC call, waiting for a concurrency slot and the rate
// budget, and retrying transient failures with exponential backoff.
func (p *Pool) Call(ctx context.Context, method string, params ...interface{}) (Result, error) {
	if len(p.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	start := time.Now()
	defer func() {
		metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, &CallError{Method: method, Params: params, Err: err}
	}
	defer p.slots.Release(1)
	metrics.RPCInFlight.Inc()
	defer metrics.RPCInFlight.Dec()

	attempts := 0
	var result Result
	operation := func() error {
		attempts++
		if attempts > 1 {
			metrics.RPCRetries.WithLabelValues(method).Inc()
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		endpoint := p.pick()
		callCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()

		metrics.RPCRequests.WithLabelValues(method).Inc()
		var raw json.RawMessage
		if err := endpoint.caller.CallContext(callCtx, &raw, method, params...); err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			log.Debug().Err(err).Str("endpoint", endpoint.name).Msgf("RPC call %s failed on attempt %d", method, attempts)
			return err
		}
		result = Result(raw)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.retryInitialDelay
	policy.MaxElapsedTime = 0
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.maxRetries)), ctx))
	if err != nil {
		metrics.RPCFailures.WithLabelValues(method).Inc()
		callErr := &CallError{Method: method, Params: params, Attempts: attempts, Err: err}
		log.Error().Err(callErr).Msg("RPC call failed")
		return nil, callErr
	}
	return result, nil
}

// Close closes every endpoint transport.
func (p *Pool) Close() {
	for _, e := range p.endpoints {
		e.caller.Close()
	}
}

func (p *Pool) Size() int {
	return len(p.endpoints)
}

// isPermanent reports errors a retry cannot fix: reverts and malformed requests.
func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || IsReverted(err) {
		return true
	}
	var rpcErr gethRpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.ErrorCode() {
	case -32601, -32602:
		return true
	}
	return false
}

// IsReverted reports whether err is an EVM revert returned by the node.
func IsReverted(err error) bool {
	var rpcErr gethRpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.ErrorCode() == 3 || strings.Contains(strings.ToLower(rpcErr.Error()), "execution reverted")
}

func redactURL(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		if j := strings.IndexAny(rest, "/?"); j >= 0 {
			rest = rest[:j]
		}
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			rest = rest[at+1:]
		}
		return raw[:i+3] + rest
	}
	return raw
}
