package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var DEFAULT_REDIS_POOL_SIZE = 20

const leaseKeyPrefix = "curvewatch:lease:"

// deletes the lease only while it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extends the lease only while it is still held by the caller's token
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLease hands out exclusive named leases with SET NX PX.
type RedisLease struct {
	client redis.UniversalClient
	cfg    *config.RedisConfig
}

func NewRedisLease(cfg *config.RedisConfig) (*RedisLease, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = DEFAULT_REDIS_POOL_SIZE
	}

	options := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	}
	if cfg.EnableTLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(options)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Msgf("Connected to Redis at %s", cfg.Addr)
	return NewRedisLeaseWithClient(client, cfg), nil
}

func NewRedisLeaseWithClient(client redis.UniversalClient, cfg *config.RedisConfig) *RedisLease {
	return &RedisLease{client: client, cfg: cfg}
}

func (r *RedisLease) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	key := leaseKeyPrefix + name
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: r.client, name: name, key: key, token: token}, true, nil
}

type redisLease struct {
	client redis.UniversalClient
	name   string
	key    string
	token  string
}

func (l *redisLease) Renew(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease %s: %w", l.name, err)
	}
	return n == 1, nil
}

func (l *redisLease) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		log.Warn().Err(err).Str("lease", l.name).Msg("Failed to release lease")
	}
}

func (r *RedisLease) Close() error {
	return r.client.Close()
}
