// Package ingest turns raw inbound SMS payloads into records. It validates,
// deduplicates against the gateway-ref index, hands the survivors to the
// record pipeline and triggers a targeted send for each created record.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/smsbridge/pkg/eventbus"
	"github.com/dukex/smsbridge/pkg/events"
	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
	"github.com/dukex/smsbridge/pkg/pipeline"
)

// InboundMessage is one raw message as submitted by a gateway. ID is the
// gateway's own identifier for the message and keys deduplication.
type InboundMessage struct {
	ID      string `json:"id"      validate:"required"`
	From    string `json:"from"    validate:"required"`
	Content string `json:"content"`
}

// InvalidMessage pairs a rejected inbound message with the reason.
type InvalidMessage struct {
	ID     string
	Reason string
}

// Report summarizes one ingestion batch. Results holds the pipeline outcome
// for each created record, in acceptance order.
type Report struct {
	Results    []persistence.SaveResult
	Duplicates []string
	Invalid    []InvalidMessage
}

// IngestError reports the records the pipeline failed to write. Sibling
// records that succeeded stay persisted; resubmitting the whole batch is safe
// because their gateway refs now hit the dedup check.
type IngestError struct {
	Results []persistence.SaveResult
}

func (e *IngestError) Error() string {
	ids := make([]string, 0, len(e.Results))
	for _, result := range e.Results {
		ids = append(ids, result.ID)
	}

	return fmt.Sprintf("failed to ingest %d message(s): %s", len(e.Results), strings.Join(ids, ", "))
}

// Sender triggers the targeted send for a freshly created record.
type Sender interface {
	SendRecord(ctx context.Context, id string) error
}

// Service is the inbound ingestion entry point shared by the HTTP surface and
// the queue consumer.
type Service struct {
	store     persistence.Store
	pipeline  pipeline.Pipeline
	sender    Sender
	publisher eventbus.EventPublisher
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewService creates the ingestion service. Sender and publisher may be nil;
// created records then wait for the next polling cycle.
func NewService(store persistence.Store, p pipeline.Pipeline, sender Sender, publisher eventbus.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		pipeline:  p,
		sender:    sender,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger.With("module", "ingest"),
	}
}

// Ingest processes one batch of inbound messages. Invalid and duplicate
// messages are dropped and reported, never failing the batch; a pipeline
// outcome that failed to write does, with an IngestError naming every failed
// record. Successfully created siblings are not rolled back, and a record
// whose targeted send failed is retried by polling.
func (s *Service) Ingest(ctx context.Context, batch []InboundMessage) (*Report, error) {
	report := &Report{}

	accepted, err := s.filter(ctx, batch, report)
	if err != nil {
		return nil, err
	}

	if len(accepted) == 0 {
		return report, nil
	}

	records := make([]*models.Record, 0, len(accepted))
	for _, msg := range accepted {
		records = append(records, models.NewInboundRecord(msg.From, msg.Content, msg.ID))
	}

	report.Results, err = s.pipeline.Process(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("failed to process inbound records: %w", err)
	}

	failed := make([]persistence.SaveResult, 0)

	for i, result := range report.Results {
		if !result.Ok {
			failed = append(failed, result)

			continue
		}

		s.publishReceived(ctx, records[i], accepted[i])
		s.sendNew(ctx, result.ID)
	}

	if len(failed) > 0 {
		return report, &IngestError{Results: failed}
	}

	return report, nil
}

// filter drops invalid messages and ones whose gateway ref was already
// ingested, either in the store or earlier in the same batch.
func (s *Service) filter(ctx context.Context, batch []InboundMessage, report *Report) ([]InboundMessage, error) {
	valid := make([]InboundMessage, 0, len(batch))
	refs := make([]string, 0, len(batch))

	for _, msg := range batch {
		err := s.validate.Struct(msg)
		if err != nil {
			s.logger.WarnContext(ctx, "Dropping invalid inbound message", "id", msg.ID, "error", err)

			report.Invalid = append(report.Invalid, InvalidMessage{ID: msg.ID, Reason: err.Error()})

			continue
		}

		valid = append(valid, msg)
		refs = append(refs, msg.ID)
	}

	if len(valid) == 0 {
		return nil, nil
	}

	seenRefs, err := s.store.SeenGatewayRefs(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to check gateway refs: %w", err)
	}

	seen := make(map[string]bool, len(seenRefs))
	for _, ref := range seenRefs {
		seen[ref] = true
	}

	accepted := make([]InboundMessage, 0, len(valid))

	for _, msg := range valid {
		if seen[msg.ID] {
			s.logger.InfoContext(ctx, "Dropping duplicate inbound message", "id", msg.ID)

			report.Duplicates = append(report.Duplicates, msg.ID)

			continue
		}

		seen[msg.ID] = true

		accepted = append(accepted, msg)
	}

	return accepted, nil
}

func (s *Service) publishReceived(ctx context.Context, record *models.Record, msg InboundMessage) {
	if s.publisher == nil {
		return
	}

	event := events.RecordReceived{
		BaseEvent:  events.NewBaseEvent(events.RecordReceivedEvent, record.ID),
		From:       msg.From,
		GatewayRef: msg.ID,
	}

	err := s.publisher.Publish(ctx, record.ID, event)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to publish record received event", "record_id", record.ID, "error", err)
	}
}

func (s *Service) sendNew(ctx context.Context, recordID string) {
	if s.sender == nil {
		return
	}

	err := s.sender.SendRecord(ctx, recordID)
	if err != nil {
		s.logger.WarnContext(ctx, "Targeted send failed, record waits for polling", "record_id", recordID, "error", err)
	}
}
