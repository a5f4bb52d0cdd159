package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/smsbridge/pkg/gateway"
	"github.com/dukex/smsbridge/pkg/models"
)

// MockProvider is a mock implementation of the gateway.Provider interface.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ID() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockProvider) Push() bool {
	args := m.Called()

	return args.Bool(0)
}

func (m *MockProvider) Send(ctx context.Context, batch []models.PendingMessage) ([]gateway.Result, error) {
	args := m.Called(ctx, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]gateway.Result), args.Error(1)
}
