// Package messaging implements the state reconciliation engine and the
// outbound dispatch paths built on top of it.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dukex/smsbridge/pkg/eventbus"
	"github.com/dukex/smsbridge/pkg/events"
	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
)

// defaultMaxRetries bounds the extra write passes after the first one, so a
// batch issues at most defaultMaxRetries+1 bulk writes.
const defaultMaxRetries = 3

// UpdateError reports the records that could not be written after every
// attempt was spent. Changes for other records in the same batch were still
// persisted.
type UpdateError struct {
	Attempts int
	Results  []persistence.SaveResult
}

func (e *UpdateError) Error() string {
	ids := make([]string, 0, len(e.Results))
	for _, result := range e.Results {
		ids = append(ids, result.ID)
	}

	return fmt.Sprintf("failed to update task states for %d record(s) after %d attempts: %s",
		len(e.Results), e.Attempts, strings.Join(ids, ", "))
}

// Reconciler applies message state changes to their owning records with
// optimistic concurrency. Lost writes are retried with fresh reads, scoped to
// the records that actually failed.
type Reconciler struct {
	store      persistence.Store
	publisher  eventbus.EventPublisher
	logger     *slog.Logger
	maxRetries int
}

// NewReconciler creates a reconciler. The publisher may be nil when lifecycle
// events are not wanted.
func NewReconciler(store persistence.Store, publisher eventbus.EventPublisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		publisher:  publisher,
		logger:     logger.With("module", "reconciler"),
		maxRetries: defaultMaxRetries,
	}
}

// UpdateTaskStates resolves each change to its owning record, applies it and
// writes the dirtied records. Records that lose the revision check are
// re-read and re-applied on the next attempt; changes for unknown messages
// are skipped. Changes that would not move a task are not written at all.
func (r *Reconciler) UpdateTaskStates(ctx context.Context, changes []models.StateChange) error {
	if len(changes) == 0 {
		return nil
	}

	pending, err := r.groupByRecord(ctx, changes)
	if err != nil {
		return err
	}

	var failed []persistence.SaveResult

	for attempt := 1; ; attempt++ {
		pending, failed, err = r.applyOnce(ctx, pending)
		if err != nil {
			return err
		}

		if len(pending) == 0 {
			return nil
		}

		if attempt > r.maxRetries {
			return &UpdateError{Attempts: attempt, Results: failed}
		}

		r.logger.WarnContext(ctx, "Retrying task state updates after write conflict",
			"attempt", attempt, "records", len(pending))
	}
}

// groupByRecord indexes the changes by owning record id. Changes whose message
// uuid is unknown to the store are dropped with a warning.
func (r *Reconciler) groupByRecord(ctx context.Context, changes []models.StateChange) (map[string][]models.StateChange, error) {
	messageIDs := make([]string, 0, len(changes))
	for _, change := range changes {
		messageIDs = append(messageIDs, change.MessageID)
	}

	owners, err := r.store.RecordIDsByMessageID(ctx, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve message owners: %w", err)
	}

	grouped := make(map[string][]models.StateChange)

	for _, change := range changes {
		recordID, ok := owners[change.MessageID]
		if !ok {
			r.logger.WarnContext(ctx, "Dropping state change for unknown message", "message_id", change.MessageID)

			continue
		}

		grouped[recordID] = append(grouped[recordID], change)
	}

	return grouped, nil
}

// applyOnce runs a single read-apply-write pass over the pending change
// groups. It returns the groups that must be retried and their save results.
func (r *Reconciler) applyOnce(ctx context.Context, pending map[string][]models.StateChange) (map[string][]models.StateChange, []persistence.SaveResult, error) {
	recordIDs := make([]string, 0, len(pending))
	for id := range pending {
		recordIDs = append(recordIDs, id)
	}

	sort.Strings(recordIDs)

	records, err := r.store.RecordsByID(ctx, recordIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load records: %w", err)
	}

	loaded := make(map[string]bool, len(records))
	for _, record := range records {
		loaded[record.ID] = true
	}

	for _, id := range recordIDs {
		if !loaded[id] {
			r.logger.WarnContext(ctx, "Dropping changes for missing record",
				"record_id", id, "changes", len(pending[id]))
		}
	}

	dirty := make([]*models.Record, 0, len(records))
	applied := make(map[string][]models.StateChange, len(records))

	for _, record := range records {
		recordApplied := r.applyToRecord(ctx, record, pending[record.ID])
		if len(recordApplied) > 0 {
			dirty = append(dirty, record)
			applied[record.ID] = recordApplied
		}
	}

	if len(dirty) == 0 {
		return nil, nil, nil
	}

	results, err := r.store.BulkSave(ctx, dirty)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save records: %w", err)
	}

	retry := make(map[string][]models.StateChange)
	failed := make([]persistence.SaveResult, 0)

	for _, result := range results {
		if result.Ok {
			r.publishChanges(ctx, result.ID, applied[result.ID])

			continue
		}

		retry[result.ID] = pending[result.ID]
		failed = append(failed, result)
	}

	return retry, failed, nil
}

// applyToRecord applies the record's changes in order and returns the ones
// that actually moved a task.
func (r *Reconciler) applyToRecord(ctx context.Context, record *models.Record, changes []models.StateChange) []models.StateChange {
	applied := make([]models.StateChange, 0, len(changes))

	for _, change := range changes {
		task := record.TaskForMessage(change.MessageID)
		if task == nil {
			r.logger.WarnContext(ctx, "Record no longer carries message",
				"record_id", record.ID, "message_id", change.MessageID)

			continue
		}

		if task.SetState(change.State, change.Details, change.GatewayRef) {
			applied = append(applied, change)
		}
	}

	return applied
}

func (r *Reconciler) publishChanges(ctx context.Context, recordID string, changes []models.StateChange) {
	if r.publisher == nil {
		return
	}

	for _, change := range changes {
		event := events.MessageStateChanged{
			BaseEvent:  events.NewBaseEvent(events.MessageStateChangedEvent, recordID),
			MessageID:  change.MessageID,
			State:      change.State,
			Details:    change.Details,
			GatewayRef: change.GatewayRef,
		}

		err := r.publisher.Publish(ctx, recordID, event)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to publish state change event",
				"record_id", recordID, "message_id", change.MessageID, "error", err)
		}
	}
}
