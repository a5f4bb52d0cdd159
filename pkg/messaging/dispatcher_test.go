package messaging_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/smsbridge/pkg/gateway"
	"github.com/dukex/smsbridge/pkg/messaging"
	"github.com/dukex/smsbridge/pkg/mocks"
	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
	"github.com/dukex/smsbridge/pkg/persistence/file"
)

type stubGateway struct {
	id      string
	push    bool
	results []gateway.Result
	calls   [][]models.PendingMessage
}

func (s *stubGateway) ID() string {
	return s.id
}

func (s *stubGateway) Push() bool {
	return s.push
}

func (s *stubGateway) Send(_ context.Context, batch []models.PendingMessage) ([]gateway.Result, error) {
	s.calls = append(s.calls, batch)

	if s.results != nil {
		return s.results, nil
	}

	results := make([]gateway.Result, len(batch))
	for i := range results {
		results[i] = gateway.Result{Success: true, State: models.StateSent}
	}

	return results, nil
}

func newDispatcher(store persistence.Store, provider gateway.Provider) *messaging.Dispatcher {
	logger := slog.Default()
	registry := gateway.NewRegistry(logger)

	service := ""
	if provider != nil {
		registry.Register(provider)

		service = provider.ID()
	}

	reconciler := messaging.NewReconciler(store, nil, logger)

	return messaging.NewDispatcher(store, registry, reconciler, service, logger)
}

func TestSendRecordDispatchesAndReconciles(t *testing.T) {
	store := file.NewStore(t.TempDir())
	seedRecord(t, store, "rec-a", "m1")
	seedRecord(t, store, "rec-b", "m2")

	provider := &stubGateway{
		id:      "stub",
		push:    true,
		results: []gateway.Result{{Success: true, State: models.StateSent, GatewayRef: "g1"}},
	}

	dispatcher := newDispatcher(store, provider)

	err := dispatcher.SendRecord(t.Context(), "rec-a")
	require.NoError(t, err)

	require.Len(t, provider.calls, 1)
	require.Len(t, provider.calls[0], 1)
	assert.Equal(t, "m1", provider.calls[0][0].ID)

	task := loadRecord(t, store, "rec-a").Tasks[0]
	assert.Equal(t, models.StateSent, task.State)
	assert.Equal(t, "g1", task.GatewayRef)

	// The other record is untouched by a targeted send.
	assert.Equal(t, models.StatePending, loadRecord(t, store, "rec-b").Tasks[0].State)
}

func TestSendRecordUnknownRecord(t *testing.T) {
	store := file.NewStore(t.TempDir())
	dispatcher := newDispatcher(store, &stubGateway{id: "stub", push: true})

	err := dispatcher.SendRecord(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsRecordNotFound(err))
}

func TestSendBatchFailedOutcomeLeavesStateUntouched(t *testing.T) {
	store := file.NewStore(t.TempDir())
	seedRecord(t, store, "rec-a", "m1")

	before := loadRecord(t, store, "rec-a").Rev

	provider := &stubGateway{
		id:      "stub",
		push:    true,
		results: []gateway.Result{{Success: false, Details: "rejected"}},
	}

	dispatcher := newDispatcher(store, provider)

	err := dispatcher.SendRecord(t.Context(), "rec-a")
	require.NoError(t, err)

	after := loadRecord(t, store, "rec-a")
	assert.Equal(t, before, after.Rev)
	assert.Equal(t, models.StatePending, after.Tasks[0].State)
}

func TestPollDispatchesAcrossRecords(t *testing.T) {
	store := file.NewStore(t.TempDir())
	seedRecord(t, store, "rec-a", "m1")
	seedRecord(t, store, "rec-b", "m2")

	provider := &stubGateway{id: "stub", push: true}
	dispatcher := newDispatcher(store, provider)

	err := dispatcher.Poll(t.Context())
	require.NoError(t, err)

	require.Len(t, provider.calls, 1)
	assert.Len(t, provider.calls[0], 2)

	assert.Equal(t, models.StateSent, loadRecord(t, store, "rec-a").Tasks[0].State)
	assert.Equal(t, models.StateSent, loadRecord(t, store, "rec-b").Tasks[0].State)
}

func TestPollPullGatewayIsNoop(t *testing.T) {
	store := file.NewStore(t.TempDir())
	seedRecord(t, store, "rec-a", "m1")

	provider := &stubGateway{id: "pull", push: false}
	dispatcher := newDispatcher(store, provider)

	assert.True(t, dispatcher.PullGatewayEnabled())

	err := dispatcher.Poll(t.Context())
	require.NoError(t, err)

	assert.Empty(t, provider.calls)
	assert.Equal(t, models.StatePending, loadRecord(t, store, "rec-a").Tasks[0].State)
}

func TestPollWithoutProviderIsNoop(t *testing.T) {
	store := file.NewStore(t.TempDir())
	seedRecord(t, store, "rec-a", "m1")

	dispatcher := newDispatcher(store, nil)

	assert.False(t, dispatcher.PullGatewayEnabled())
	require.NoError(t, dispatcher.Poll(t.Context()))

	assert.Equal(t, models.StatePending, loadRecord(t, store, "rec-a").Tasks[0].State)
}

func TestDispatchWithoutPushProviderSkipsStore(t *testing.T) {
	// No expectations registered: any store access would fail the test.
	store := &mocks.MockStore{}

	dispatcher := newDispatcher(store, &stubGateway{id: "pull", push: false})

	require.NoError(t, dispatcher.Poll(t.Context()))
	require.NoError(t, dispatcher.SendRecord(t.Context(), "rec-a"))

	store.AssertExpectations(t)
}

func TestSendRecordGatewayFailure(t *testing.T) {
	store := file.NewStore(t.TempDir())
	seedRecord(t, store, "rec-a", "m1")

	provider := &mocks.MockProvider{}
	provider.On("ID").Return("mock")
	provider.On("Push").Return(true)
	provider.On("Send", mock.Anything, mock.Anything).
		Return(nil, errors.New("gateway unreachable"))

	dispatcher := newDispatcher(store, provider)

	err := dispatcher.SendRecord(t.Context(), "rec-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway send failed")

	assert.Equal(t, models.StatePending, loadRecord(t, store, "rec-a").Tasks[0].State)
}
