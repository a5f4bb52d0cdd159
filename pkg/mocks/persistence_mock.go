// Package mocks provides testify mocks for the core interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
)

// MockStore is a mock implementation of the persistence.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) RecordByID(ctx context.Context, id string) (*models.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Record), args.Error(1)
}

func (m *MockStore) RecordsByID(ctx context.Context, ids []string) ([]*models.Record, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Record), args.Error(1)
}

func (m *MockStore) RecordIDsByMessageID(ctx context.Context, messageIDs []string) (map[string]string, error) {
	args := m.Called(ctx, messageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockStore) PendingMessages(ctx context.Context, limit int) ([]models.PendingMessage, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.PendingMessage), args.Error(1)
}

func (m *MockStore) SeenGatewayRefs(ctx context.Context, refs []string) ([]string, error) {
	args := m.Called(ctx, refs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) BulkSave(ctx context.Context, records []*models.Record) ([]persistence.SaveResult, error) {
	args := m.Called(ctx, records)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]persistence.SaveResult), args.Error(1)
}

func (m *MockStore) CompletedRecords(ctx context.Context, limit int) ([]*models.Record, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Record), args.Error(1)
}

func (m *MockStore) DeleteRecord(ctx context.Context, id, rev string) error {
	args := m.Called(ctx, id, rev)

	return args.Error(0)
}

func (m *MockStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockStore) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
