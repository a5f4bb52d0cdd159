// Package persistence provides the data storage abstraction layer for records
// and their message indexes.
package persistence

import (
	"context"

	"github.com/dukex/smsbridge/pkg/models"
)

// SaveResult is the per-record outcome of a bulk write. Ok is false when the
// record lost the revision check or failed to persist; Err then carries the
// reason.
type SaveResult struct {
	ID  string
	Ok  bool
	Rev string
	Err error
}

// Store is the record store and its secondary indexes. Bulk writes are
// conditional: a record is only written when its Rev matches the stored
// revision, and each record succeeds or fails independently.
type Store interface {
	// RecordByID returns the record with the given id, or nil when absent.
	RecordByID(ctx context.Context, id string) (*models.Record, error)

	// RecordsByID batch-loads full records. Unknown ids are skipped.
	RecordsByID(ctx context.Context, ids []string) ([]*models.Record, error)

	// RecordIDsByMessageID maps each known message uuid to its owning record id.
	RecordIDsByMessageID(ctx context.Context, messageIDs []string) (map[string]string, error)

	// PendingMessages returns up to limit flattened sendable messages across
	// all records, for tasks in a pending-or-forwarded state.
	PendingMessages(ctx context.Context, limit int) ([]models.PendingMessage, error)

	// SeenGatewayRefs returns the subset of refs already recorded on an
	// ingested record, for deduplication.
	SeenGatewayRefs(ctx context.Context, refs []string) ([]string, error)

	// BulkSave conditionally writes the given records and returns one result
	// per record, in input order. New records (empty Rev) are created;
	// existing ones are only written when the revision matches.
	BulkSave(ctx context.Context, records []*models.Record) ([]SaveResult, error)

	// CompletedRecords returns up to limit records whose tasks have all
	// reached a terminal state.
	CompletedRecords(ctx context.Context, limit int) ([]*models.Record, error)

	// DeleteRecord purges a record, conditional on its revision.
	DeleteRecord(ctx context.Context, id, rev string) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
