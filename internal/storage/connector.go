package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/common"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// ILogStorage is the durable raw log stream and the scanner checkpoint.
type ILogStorage interface {
	// InsertLogs skips logs whose (transaction hash, log index) already exists.
	InsertLogs(ctx context.Context, logs []common.RawLog) (inserted int, err error)
	// GetUnprocessedLogs returns unprocessed logs in causal order.
	GetUnprocessedLogs(ctx context.Context, limit int) ([]common.RawLog, error)
	MarkLogsProcessed(ctx context.Context, ids []int64, at time.Time) error
	// DeleteProcessedLogsBefore never touches unprocessed logs.
	DeleteProcessedLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	GetCheckpoint(ctx context.Context) (*common.SyncCheckpoint, error)
	// AdvanceCheckpoint never moves the cursor backwards.
	AdvanceCheckpoint(ctx context.Context, adv common.CheckpointAdvance) error
	// ResetCheckpoint sets the cursor to block unconditionally.
	ResetCheckpoint(ctx context.Context, block uint64) error
	RecordSyncError(ctx context.Context, message string, at time.Time) error
	SetSyncing(ctx context.Context, syncing bool) error
}

// IStateStorage holds the state derived by replay.
type IStateStorage interface {
	GetTokenByAddress(ctx context.Context, address string) (*common.TokenMarket, error)
	FindPendingToken(ctx context.Context, txHash string, creatorID int64) (*common.TokenMarket, error)
	GetAppliedEventKeys(ctx context.Context, keys []common.EventKey) (map[common.EventKey]bool, error)
	GetHolderBalances(ctx context.Context, tokenID int64, holderIDs []int64) (map[int64]*big.Int, error)
	GetTradeVolumeSince(ctx context.Context, tokenID int64, since time.Time) (*big.Int, error)
	// CommitGroup applies everything in commit atomically. On success commit.Token.ID
	// holds the persisted id.
	CommitGroup(ctx context.Context, commit *common.GroupCommit) error

	// GetTokensAwaitingGraduation returns ungraduated markets whose graduation is due, oldest first.
	GetTokensAwaitingGraduation(ctx context.Context, limit int) ([]*common.TokenMarket, error)
	// ClaimGraduation moves a market from due to submitting. It reports false when
	// the market is no longer due.
	ClaimGraduation(ctx context.Context, tokenID int64) (bool, error)
	SetGraduationResult(ctx context.Context, tokenID int64, state common.GraduationState, txHash string) error
}

type IUserDirectory interface {
	FindByAddress(ctx context.Context, address string) (*common.User, error)
	// CreateUser returns the existing user when the address is already known.
	CreateUser(ctx context.Context, address string) (*common.User, error)
}

// Lease is a held lease. Renew reports false once the lease expired or was
// taken by someone else.
type Lease interface {
	Renew(ctx context.Context, ttl time.Duration) (bool, error)
	Release()
}

// ILeaseStorage grants named, expiring, exclusive leases shared across processes.
type ILeaseStorage interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (lease Lease, ok bool, err error)
}

type IStorage struct {
	LogStorage   ILogStorage
	StateStorage IStateStorage
	Users        IUserDirectory
	// Lease is nil when no redis is configured.
	Lease  ILeaseStorage
	closer func() error
}

func (s IStorage) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func NewStorageConnector(cfg *config.StorageConfig) (IStorage, error) {
	var storage IStorage
	var err error

	conn, err := newBackend(cfg)
	if err != nil {
		return IStorage{}, err
	}

	if storage.LogStorage, err = asConnector[ILogStorage](conn); err != nil {
		return IStorage{}, fmt.Errorf("failed to create log storage: %w", err)
	}
	if storage.StateStorage, err = asConnector[IStateStorage](conn); err != nil {
		return IStorage{}, fmt.Errorf("failed to create state storage: %w", err)
	}
	if storage.Users, err = asConnector[IUserDirectory](conn); err != nil {
		return IStorage{}, fmt.Errorf("failed to create user directory: %w", err)
	}

	closers := []func() error{}
	if c, ok := conn.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}
	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		lease, err := NewRedisLease(cfg.Redis)
		if err != nil {
			return IStorage{}, fmt.Errorf("failed to create lease storage: %w", err)
		}
		storage.Lease = lease
		closers = append(closers, lease.Close)
	}
	storage.closer = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return storage, nil
}

// NewConnector builds a single connector that must implement T.
func NewConnector[T any](cfg *config.StorageConfig) (T, error) {
	conn, err := newBackend(cfg)
	if err != nil {
		return *new(T), err
	}
	return asConnector[T](conn)
}

func newBackend(cfg *config.StorageConfig) (interface{}, error) {
	if cfg.Postgres != nil && cfg.Postgres.Host != "" {
		return NewPostgresConnector(cfg.Postgres)
	} else if cfg.Memory != nil {
		return NewMemoryConnector(cfg.Memory)
	}
	return nil, fmt.Errorf("no storage driver configured")
}

func asConnector[T any](conn interface{}) (T, error) {
	typedConn, ok := conn.(T)
	if !ok {
		return *new(T), fmt.Errorf("connector does not implement the required interface")
	}
	return typedConn, nil
}
