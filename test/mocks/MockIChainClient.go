package mocks

import (
	"context"
	"math/big"
	"time"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/rpc"
	"github.com/stretchr/testify/mock"
)

// MockIChainClient is a testify mock of rpc.IChainClient.
type MockIChainClient struct {
	mock.Mock
}

func (m *MockIChainClient) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockIChainClient) GetBlockTimestamps(ctx context.Context, blockNumbers []uint64) (map[uint64]time.Time, error) {
	args := m.Called(ctx, blockNumbers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uint64]time.Time), args.Error(1)
}

func (m *MockIChainClient) GetLogs(ctx context.Context, fromBlock, toBlock uint64, address string) ([]common.RawLog, error) {
	args := m.Called(ctx, fromBlock, toBlock, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]common.RawLog), args.Error(1)
}

func (m *MockIChainClient) Call(ctx context.Context, msg rpc.CallMsg) ([]byte, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockIChainClient) EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockIChainClient) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockIChainClient) GasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockIChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockIChainClient) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	args := m.Called(ctx, rawTx)
	return args.String(0), args.Error(1)
}
