package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/smsbridge/pkg/gateway"
	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
)

// pollBatchLimit caps how many messages one polling cycle hands to the
// gateway.
const pollBatchLimit = 100

// Dispatcher pushes sendable messages to the configured gateway provider and
// feeds the outcomes back through the reconciler. When the configured provider
// is pull-style (or absent), every dispatch path is a no-op and messages wait
// for the gateway to collect them.
type Dispatcher struct {
	store           persistence.Store
	registry        *gateway.Registry
	reconciler      *Reconciler
	outgoingService string
	logger          *slog.Logger
}

func NewDispatcher(store persistence.Store, registry *gateway.Registry, reconciler *Reconciler, outgoingService string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:           store,
		registry:        registry,
		reconciler:      reconciler,
		outgoingService: outgoingService,
		logger:          logger.With("module", "dispatcher"),
	}
}

// PullGatewayEnabled reports whether the configured outgoing service is a
// pull-style gateway.
func (d *Dispatcher) PullGatewayEnabled() bool {
	provider, ok := d.registry.Resolve(d.outgoingService)

	return ok && !provider.Push()
}

// SendRecord dispatches the sendable messages of a single record, typically
// right after it was created. Without a push-style outgoing service it does
// nothing, not even load the record.
func (d *Dispatcher) SendRecord(ctx context.Context, id string) error {
	provider, ok := d.pushProvider(ctx)
	if !ok {
		return nil
	}

	record, err := d.store.RecordByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load record %s: %w", id, err)
	}

	if record == nil {
		return persistence.NewRecordError("Send", id, persistence.ErrRecordNotFound)
	}

	return d.sendBatch(ctx, provider, record.SendableMessages())
}

// Poll dispatches due messages across all records, up to the batch limit.
// Messages beyond the limit are picked up by the next cycle. Without a
// push-style outgoing service it does nothing, not even query the store.
func (d *Dispatcher) Poll(ctx context.Context) error {
	provider, ok := d.pushProvider(ctx)
	if !ok {
		return nil
	}

	batch, err := d.store.PendingMessages(ctx, pollBatchLimit)
	if err != nil {
		return fmt.Errorf("failed to load pending messages: %w", err)
	}

	return d.sendBatch(ctx, provider, batch)
}

// pushProvider resolves the configured outgoing service, reporting whether a
// push-style provider is available at all.
func (d *Dispatcher) pushProvider(ctx context.Context) (gateway.Provider, bool) {
	provider, ok := d.registry.Resolve(d.outgoingService)
	if !ok {
		d.logger.DebugContext(ctx, "No outgoing service configured, leaving messages queued",
			"service", d.outgoingService)

		return nil, false
	}

	if !provider.Push() {
		d.logger.DebugContext(ctx, "Outgoing service is pull-style, leaving messages queued",
			"service", d.outgoingService)

		return nil, false
	}

	return provider, true
}

func (d *Dispatcher) sendBatch(ctx context.Context, provider gateway.Provider, batch []models.PendingMessage) error {
	if len(batch) == 0 {
		return nil
	}

	results, err := provider.Send(ctx, batch)
	if err != nil {
		return fmt.Errorf("gateway send failed: %w", err)
	}

	if len(results) != len(batch) {
		return fmt.Errorf("gateway returned %d results for %d messages", len(results), len(batch))
	}

	changes := make([]models.StateChange, 0, len(results))

	for i, result := range results {
		if !result.Success {
			// The task keeps its current state and the message is retried on a
			// later cycle.
			d.logger.WarnContext(ctx, "Gateway rejected message",
				"message_id", batch[i].ID, "details", result.Details)

			continue
		}

		state := result.State
		if state == "" {
			state = models.StateSent
		}

		changes = append(changes, models.StateChange{
			MessageID:  batch[i].ID,
			State:      state,
			Details:    result.Details,
			GatewayRef: result.GatewayRef,
		})
	}

	if len(changes) == 0 {
		return nil
	}

	return d.reconciler.UpdateTaskStates(ctx, changes)
}
