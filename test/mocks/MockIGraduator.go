package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockIGraduator is a testify mock of contract.IGraduator.
type MockIGraduator struct {
	mock.Mock
}

func (m *MockIGraduator) Graduate(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}
