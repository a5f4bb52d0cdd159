// Package pipeline stamps and persists newly ingested records. It is the
// single entry point through which inbound messages become durable records.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
)

// Pipeline turns record seeds into persisted records. Results are parallel to
// the input slice.
type Pipeline interface {
	Process(ctx context.Context, records []*models.Record) ([]persistence.SaveResult, error)
}

type recordPipeline struct {
	store  persistence.Store
	logger *slog.Logger
}

func New(store persistence.Store, logger *slog.Logger) Pipeline {
	return &recordPipeline{
		store:  store,
		logger: logger.With("module", "pipeline"),
	}
}

// Process assigns identifiers and timestamps to each record and writes the
// batch. Records arriving with an id already set keep it.
func (p *recordPipeline) Process(ctx context.Context, records []*models.Record) ([]persistence.SaveResult, error) {
	if len(records) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()

	for _, record := range records {
		if record.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, fmt.Errorf("failed to generate record id: %w", err)
			}

			record.ID = id.String()
		}

		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}

		record.UpdatedAt = now

		stampMessageIDs(record)
	}

	results, err := p.store.BulkSave(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("failed to save records: %w", err)
	}

	for _, result := range results {
		if !result.Ok {
			p.logger.WarnContext(ctx, "Record was not persisted", "record_id", result.ID, "error", result.Err)
		}
	}

	return results, nil
}

// stampMessageIDs fills in uuids for messages that arrive without one, so
// every message is addressable by the uuid index from its first write.
func stampMessageIDs(record *models.Record) {
	for _, task := range record.AllTasks() {
		for _, msg := range task.Messages {
			if msg.UUID == "" {
				msg.UUID = uuid.New().String()
			}
		}
	}
}
