// Package postgresql provides the PostgreSQL store implementation for records.
// Records are stored as jsonb documents with an integer revision column; the
// conditional bulk write compares-and-bumps the revision so concurrent writers
// surface as per-record conflicts.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
	"github.com/dukex/smsbridge/pkg/persistence/sqlbase"
)

// Store implements persistence.Store for PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore connects to PostgreSQL and runs migrations.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: database, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// RecordByID returns the record with the given id, or nil when absent.
func (s *Store) RecordByID(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT doc, rev FROM records WHERE id = $1", id)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan record %s: %w", id, err)
	}

	return record, nil
}

// RecordsByID batch-loads records, skipping unknown ids.
func (s *Store) RecordsByID(ctx context.Context, ids []string) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc, rev FROM records WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	defer s.closeRows(ctx, rows)

	records := make([]*models.Record, 0, len(ids))

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// RecordIDsByMessageID maps message uuids to their owning record ids using the
// message index table.
func (s *Store) RecordIDsByMessageID(ctx context.Context, messageIDs []string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT uuid, record_id FROM record_messages WHERE uuid = ANY($1)", pq.Array(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query message index: %w", err)
	}

	defer s.closeRows(ctx, rows)

	owners := make(map[string]string, len(messageIDs))

	for rows.Next() {
		var uuid, recordID string

		err = rows.Scan(&uuid, &recordID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message index row: %w", err)
		}

		owners[uuid] = recordID
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating message index: %w", err)
	}

	return owners, nil
}

// PendingMessages returns up to limit flattened sendable messages.
func (s *Store) PendingMessages(ctx context.Context, limit int) ([]models.PendingMessage, error) {
	query := `
		SELECT uuid, to_addr, content
		FROM record_messages
		WHERE task_state IN ($1, $2)
		  AND uuid <> '' AND to_addr <> '' AND content <> ''
		ORDER BY record_id, ord
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query,
		string(models.StatePending), string(models.StateForwardedToGateway), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}

	defer s.closeRows(ctx, rows)

	pending := make([]models.PendingMessage, 0)

	for rows.Next() {
		var msg models.PendingMessage

		err = rows.Scan(&msg.ID, &msg.To, &msg.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending message: %w", err)
		}

		pending = append(pending, msg)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating pending messages: %w", err)
	}

	return pending, nil
}

// SeenGatewayRefs returns the subset of refs already recorded on a record.
func (s *Store) SeenGatewayRefs(ctx context.Context, refs []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT gateway_ref FROM records WHERE gateway_ref = ANY($1)", pq.Array(refs))
	if err != nil {
		return nil, fmt.Errorf("failed to query gateway refs: %w", err)
	}

	defer s.closeRows(ctx, rows)

	seen := make([]string, 0)

	for rows.Next() {
		var ref string

		err = rows.Scan(&ref)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gateway ref: %w", err)
		}

		seen = append(seen, ref)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating gateway refs: %w", err)
	}

	return seen, nil
}

// CompletedRecords returns up to limit records whose tasks are all terminal.
func (s *Store) CompletedRecords(ctx context.Context, limit int) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc, rev FROM records WHERE completed ORDER BY updated_at LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed records: %w", err)
	}

	defer s.closeRows(ctx, rows)

	records := make([]*models.Record, 0)

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating completed records: %w", err)
	}

	return records, nil
}

// BulkSave conditionally writes records, one result per record in input order.
// Each record commits independently so a conflict on one never rolls back its
// batch siblings.
func (s *Store) BulkSave(ctx context.Context, records []*models.Record) ([]persistence.SaveResult, error) {
	results := make([]persistence.SaveResult, 0, len(records))

	for _, record := range records {
		results = append(results, s.saveOne(ctx, record))
	}

	return results, nil
}

func (s *Store) saveOne(ctx context.Context, record *models.Record) persistence.SaveResult {
	fail := func(err error) persistence.SaveResult {
		return persistence.SaveResult{ID: record.ID, Err: persistence.NewRecordError("BulkSave", record.ID, err)}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()

	saved := *record
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}

	saved.UpdatedAt = now

	newRev := 1

	if record.Rev != "" {
		rev, err := strconv.Atoi(record.Rev)
		if err != nil {
			return fail(fmt.Errorf("malformed revision %q: %w", record.Rev, err))
		}

		newRev = rev + 1
	}

	saved.Rev = strconv.Itoa(newRev)

	doc, err := json.Marshal(&saved)
	if err != nil {
		return fail(err)
	}

	var gatewayRef sql.NullString
	if saved.SMS != nil && saved.SMS.GatewayRef != "" {
		gatewayRef = sql.NullString{String: saved.SMS.GatewayRef, Valid: true}
	}

	if record.Rev == "" {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO records (id, rev, doc, gateway_ref, completed, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, saved.ID, newRev, doc, gatewayRef, saved.Completed(), saved.CreatedAt, saved.UpdatedAt)
		if err != nil {
			return fail(err)
		}

		inserted, err := result.RowsAffected()
		if err != nil {
			return fail(err)
		}

		if inserted == 0 {
			return fail(persistence.ErrRevConflict)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			UPDATE records
			SET rev = $1, doc = $2, gateway_ref = $3, completed = $4, updated_at = $5
			WHERE id = $6 AND rev = $7
		`, newRev, doc, gatewayRef, saved.Completed(), saved.UpdatedAt, saved.ID, newRev-1)
		if err != nil {
			return fail(err)
		}

		updated, err := result.RowsAffected()
		if err != nil {
			return fail(err)
		}

		if updated == 0 {
			return fail(persistence.ErrRevConflict)
		}
	}

	err = s.refreshMessageIndex(ctx, tx, &saved)
	if err != nil {
		return fail(err)
	}

	err = tx.Commit()
	if err != nil {
		return fail(err)
	}

	return persistence.SaveResult{ID: saved.ID, Ok: true, Rev: saved.Rev}
}

// refreshMessageIndex rebuilds the record's rows in the message index table.
func (s *Store) refreshMessageIndex(ctx context.Context, tx *sql.Tx, record *models.Record) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM record_messages WHERE record_id = $1", record.ID)
	if err != nil {
		return fmt.Errorf("failed to clear message index: %w", err)
	}

	ord := 0

	for _, task := range record.AllTasks() {
		for _, msg := range task.Messages {
			if msg.UUID == "" {
				continue
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO record_messages (uuid, record_id, ord, task_state, to_addr, content)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, msg.UUID, record.ID, ord, string(task.State), msg.To, msg.Content)
			if err != nil {
				return fmt.Errorf("failed to index message %s: %w", msg.UUID, err)
			}

			ord++
		}
	}

	return nil
}

// DeleteRecord purges a record, conditional on its revision.
func (s *Store) DeleteRecord(ctx context.Context, id, rev string) error {
	revNum, err := strconv.Atoi(rev)
	if err != nil {
		return persistence.NewRecordError("Delete", id, fmt.Errorf("malformed revision %q: %w", rev, err))
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE id = $1 AND rev = $2", id, revNum)
	if err != nil {
		return persistence.NewRecordError("Delete", id, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRecordError("Delete", id, err)
	}

	if deleted == 0 {
		existing, err := s.RecordByID(ctx, id)
		if err != nil {
			return persistence.NewRecordError("Delete", id, err)
		}

		if existing == nil {
			return persistence.NewRecordError("Delete", id, persistence.ErrRecordNotFound)
		}

		return persistence.NewRecordError("Delete", id, persistence.ErrRevConflict)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		doc []byte
		rev int
	)

	err := row.Scan(&doc, &rev)
	if err != nil {
		return nil, err
	}

	var record models.Record

	err = json.Unmarshal(doc, &record)
	if err != nil {
		return nil, err
	}

	record.Rev = strconv.Itoa(rev)

	return &record, nil
}

func (s *Store) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
