package mocks

import (
	"context"
	"math/big"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/stretchr/testify/mock"
)

// MockIContractReader is a testify mock of contract.IContractReader.
type MockIContractReader struct {
	mock.Mock
}

func (m *MockIContractReader) VirtualReserves(ctx context.Context, token string) (*big.Int, *big.Int, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*big.Int), args.Get(1).(*big.Int), args.Error(2)
}

func (m *MockIContractReader) CurveParams(ctx context.Context, token string) (common.CurveParams, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(common.CurveParams), args.Error(1)
}
