package messaging_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/smsbridge/pkg/eventbus"
	"github.com/dukex/smsbridge/pkg/events"
	"github.com/dukex/smsbridge/pkg/messaging"
	"github.com/dukex/smsbridge/pkg/mocks"
	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
	"github.com/dukex/smsbridge/pkg/persistence/file"
)

// flakyStore simulates concurrent writers: configured records lose the
// revision check a fixed number of times, and their writes do not land.
type flakyStore struct {
	persistence.Store

	failuresLeft map[string]int
	saveLog      [][]string
}

func newFlakyStore(inner persistence.Store) *flakyStore {
	return &flakyStore{Store: inner, failuresLeft: make(map[string]int)}
}

func (s *flakyStore) BulkSave(ctx context.Context, records []*models.Record) ([]persistence.SaveResult, error) {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}

	s.saveLog = append(s.saveLog, ids)

	results := make([]persistence.SaveResult, len(records))

	passthrough := make([]*models.Record, 0, len(records))
	positions := make([]int, 0, len(records))

	for i, record := range records {
		if s.failuresLeft[record.ID] > 0 {
			s.failuresLeft[record.ID]--
			results[i] = persistence.SaveResult{
				ID:  record.ID,
				Err: persistence.NewRecordError("BulkSave", record.ID, persistence.ErrRevConflict),
			}

			continue
		}

		passthrough = append(passthrough, record)
		positions = append(positions, i)
	}

	inner, err := s.Store.BulkSave(ctx, passthrough)
	if err != nil {
		return nil, err
	}

	for i, result := range inner {
		results[positions[i]] = result
	}

	return results, nil
}

type capturePublisher struct {
	published []eventbus.Event
}

func (c *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	c.published = append(c.published, event)

	return nil
}

func seedRecord(t *testing.T, store persistence.Store, id, messageUUID string) {
	t.Helper()

	record := &models.Record{
		ID:   id,
		From: "+256771234567",
		SMS:  &models.SMSMessage{From: "+256771234567", Content: "hi", GatewayRef: "ref-" + id},
		Tasks: []*models.Task{
			{
				State: models.StatePending,
				Messages: []*models.Message{
					{UUID: messageUUID, To: "+256771234567", Content: "reply"},
				},
			},
		},
	}

	results, err := store.BulkSave(t.Context(), []*models.Record{record})
	require.NoError(t, err)
	require.True(t, results[0].Ok)
}

func loadRecord(t *testing.T, store persistence.Store, id string) *models.Record {
	t.Helper()

	record, err := store.RecordByID(t.Context(), id)
	require.NoError(t, err)
	require.NotNil(t, record)

	return record
}

func TestUpdateTaskStatesScopedRetry(t *testing.T) {
	store := newFlakyStore(file.NewStore(t.TempDir()))
	seedRecord(t, store, "rec-a", "msg-a")
	seedRecord(t, store, "rec-b", "msg-b")

	store.saveLog = nil
	store.failuresLeft["rec-a"] = 1

	reconciler := messaging.NewReconciler(store, nil, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-a", State: models.StateSent},
		{MessageID: "msg-b", State: models.StateSent},
	})
	require.NoError(t, err)

	// The second pass only rewrites the record that lost the revision check.
	require.Len(t, store.saveLog, 2)
	assert.Equal(t, []string{"rec-a", "rec-b"}, store.saveLog[0])
	assert.Equal(t, []string{"rec-a"}, store.saveLog[1])

	assert.Equal(t, models.StateSent, loadRecord(t, store, "rec-a").Tasks[0].State)
	assert.Equal(t, models.StateSent, loadRecord(t, store, "rec-b").Tasks[0].State)
}

func TestUpdateTaskStatesRetryExhaustion(t *testing.T) {
	store := newFlakyStore(file.NewStore(t.TempDir()))
	seedRecord(t, store, "rec-a", "msg-a")
	seedRecord(t, store, "rec-b", "msg-b")

	store.failuresLeft["rec-a"] = 10

	reconciler := messaging.NewReconciler(store, nil, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-a", State: models.StateSent},
		{MessageID: "msg-b", State: models.StateSent},
	})
	require.Error(t, err)

	var updateErr *messaging.UpdateError

	require.ErrorAs(t, err, &updateErr)
	assert.Equal(t, 4, updateErr.Attempts)
	require.Len(t, updateErr.Results, 1)
	assert.Equal(t, "rec-a", updateErr.Results[0].ID)
	assert.Contains(t, err.Error(), "rec-a")

	// The healthy record's change still landed.
	assert.Equal(t, models.StateSent, loadRecord(t, store, "rec-b").Tasks[0].State)
	assert.Equal(t, models.StatePending, loadRecord(t, store, "rec-a").Tasks[0].State)
}

func TestUpdateTaskStatesRecoversOnLastAttempt(t *testing.T) {
	store := newFlakyStore(file.NewStore(t.TempDir()))
	seedRecord(t, store, "rec-a", "msg-a")
	store.saveLog = nil

	// Three lost revision checks still leave one write inside the budget.
	store.failuresLeft["rec-a"] = 3

	reconciler := messaging.NewReconciler(store, nil, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-a", State: models.StateSent},
	})
	require.NoError(t, err)

	assert.Len(t, store.saveLog, 4)
	assert.Equal(t, models.StateSent, loadRecord(t, store, "rec-a").Tasks[0].State)
}

func TestUpdateTaskStatesNoOpSkipsWrite(t *testing.T) {
	store := newFlakyStore(file.NewStore(t.TempDir()))
	seedRecord(t, store, "rec-a", "msg-a")
	store.saveLog = nil

	before := loadRecord(t, store, "rec-a").Rev

	reconciler := messaging.NewReconciler(store, nil, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-a", State: models.StatePending},
	})
	require.NoError(t, err)

	assert.Empty(t, store.saveLog)
	assert.Equal(t, before, loadRecord(t, store, "rec-a").Rev)
}

func TestUpdateTaskStatesUnknownMessageSkipped(t *testing.T) {
	store := newFlakyStore(file.NewStore(t.TempDir()))
	seedRecord(t, store, "rec-a", "msg-a")
	store.saveLog = nil

	reconciler := messaging.NewReconciler(store, nil, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-unknown", State: models.StateSent},
	})
	require.NoError(t, err)
	assert.Empty(t, store.saveLog)
}

func TestUpdateTaskStatesMissingRecordSkipped(t *testing.T) {
	store := &mocks.MockStore{}
	store.On("RecordIDsByMessageID", mock.Anything, []string{"msg-a"}).
		Return(map[string]string{"msg-a": "rec-gone"}, nil)
	// The record vanished between index resolution and the batch read; no
	// write is attempted for it.
	store.On("RecordsByID", mock.Anything, []string{"rec-gone"}).
		Return([]*models.Record{}, nil)

	reconciler := messaging.NewReconciler(store, nil, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-a", State: models.StateSent},
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestUpdateTaskStatesResolveFailure(t *testing.T) {
	store := &mocks.MockStore{}
	store.On("RecordIDsByMessageID", mock.Anything, []string{"msg-a"}).
		Return(nil, errors.New("index unavailable"))

	reconciler := messaging.NewReconciler(store, nil, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-a", State: models.StateSent},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve message owners")
}

func TestUpdateTaskStatesBulkSaveFailure(t *testing.T) {
	record := &models.Record{
		ID: "rec-a",
		Tasks: []*models.Task{
			{
				State:    models.StatePending,
				Messages: []*models.Message{{UUID: "msg-a", To: "+256771234567", Content: "reply"}},
			},
		},
	}

	store := &mocks.MockStore{}
	store.On("RecordIDsByMessageID", mock.Anything, []string{"msg-a"}).
		Return(map[string]string{"msg-a": "rec-a"}, nil)
	store.On("RecordsByID", mock.Anything, []string{"rec-a"}).
		Return([]*models.Record{record}, nil)
	store.On("BulkSave", mock.Anything, mock.Anything).
		Return(nil, errors.New("store unavailable"))

	reconciler := messaging.NewReconciler(store, nil, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-a", State: models.StateSent},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save records")
}

func TestUpdateTaskStatesPublishFailureDoesNotFail(t *testing.T) {
	store := file.NewStore(t.TempDir())
	seedRecord(t, store, "rec-a", "msg-a")

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "rec-a", mock.Anything).
		Return(errors.New("bus unavailable"))

	reconciler := messaging.NewReconciler(store, bus, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-a", State: models.StateSent},
	})
	require.NoError(t, err)

	bus.AssertExpectations(t)
	assert.Equal(t, models.StateSent, loadRecord(t, store, "rec-a").Tasks[0].State)
}

func TestUpdateTaskStatesPublishesEvents(t *testing.T) {
	store := file.NewStore(t.TempDir())
	seedRecord(t, store, "rec-a", "msg-a")

	publisher := &capturePublisher{}
	reconciler := messaging.NewReconciler(store, publisher, slog.Default())

	err := reconciler.UpdateTaskStates(t.Context(), []models.StateChange{
		{MessageID: "msg-a", State: models.StateSent, GatewayRef: "g1"},
	})
	require.NoError(t, err)

	require.Len(t, publisher.published, 1)

	event, ok := publisher.published[0].(events.MessageStateChanged)
	require.True(t, ok)
	assert.Equal(t, "rec-a", event.RecordID)
	assert.Equal(t, "msg-a", event.MessageID)
	assert.Equal(t, models.StateSent, event.State)
	assert.Equal(t, "g1", event.GatewayRef)
}
