package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
)

// MockPipeline is a mock implementation of the pipeline.Pipeline interface.
type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) Process(ctx context.Context, records []*models.Record) ([]persistence.SaveResult, error) {
	args := m.Called(ctx, records)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]persistence.SaveResult), args.Error(1)
}
