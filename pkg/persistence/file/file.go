// Package file provides a file-based store implementation for records. One
// JSON file per record; queries scan the record set in memory. Intended for
// tests and local development.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
)

// Store implements persistence.Store on the local file system.
type Store struct {
	root string
	mu   sync.Mutex // serializes conditional writes within the process
}

// NewStore creates a file store rooted at the given directory.
func NewStore(root string) *Store {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Store{root: cleanRoot}
}

// Close performs any necessary cleanup. For the file store there is nothing
// to clean up.
func (s *Store) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Clean(path.Join(s.root, "records", id+".json"))
}

// RecordByID retrieves a record by its id, or nil when it does not exist.
func (s *Store) RecordByID(_ context.Context, id string) (*models.Record, error) {
	body, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	var record models.Record

	err = json.Unmarshal(body, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}

	return &record, nil
}

// RecordsByID batch-loads records, skipping unknown ids.
func (s *Store) RecordsByID(ctx context.Context, ids []string) ([]*models.Record, error) {
	records := make([]*models.Record, 0, len(ids))

	for _, id := range ids {
		record, err := s.RecordByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if record != nil {
			records = append(records, record)
		}
	}

	return records, nil
}

// allRecords loads every record, sorted by id for deterministic query order.
func (s *Store) allRecords(ctx context.Context) ([]*models.Record, error) {
	root := os.DirFS(path.Join(s.root, "records"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list record files: %w", err)
	}

	sort.Strings(jsonFiles)

	records := make([]*models.Record, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		record, err := s.RecordByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if record != nil {
			records = append(records, record)
		}
	}

	return records, nil
}

// RecordIDsByMessageID maps message uuids to their owning record ids.
func (s *Store) RecordIDsByMessageID(ctx context.Context, messageIDs []string) (map[string]string, error) {
	records, err := s.allRecords(ctx)
	if err != nil {
		return nil, err
	}

	owners := make(map[string]string, len(messageIDs))

	for _, messageID := range messageIDs {
		if messageID == "" {
			continue
		}

		for _, record := range records {
			if record.TaskForMessage(messageID) != nil {
				owners[messageID] = record.ID

				break
			}
		}
	}

	return owners, nil
}

// PendingMessages returns up to limit sendable messages across all records.
func (s *Store) PendingMessages(ctx context.Context, limit int) ([]models.PendingMessage, error) {
	records, err := s.allRecords(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]models.PendingMessage, 0)

	for _, record := range records {
		for _, msg := range record.SendableMessages() {
			if len(pending) >= limit {
				return pending, nil
			}

			pending = append(pending, msg)
		}
	}

	return pending, nil
}

// SeenGatewayRefs returns the subset of refs already present on an ingested record.
func (s *Store) SeenGatewayRefs(ctx context.Context, refs []string) ([]string, error) {
	records, err := s.allRecords(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)

	for _, record := range records {
		if record.SMS != nil && record.SMS.GatewayRef != "" {
			known[record.SMS.GatewayRef] = true
		}
	}

	seen := make([]string, 0)

	for _, ref := range refs {
		if known[ref] {
			seen = append(seen, ref)
		}
	}

	return seen, nil
}

// CompletedRecords returns up to limit records whose tasks are all terminal.
func (s *Store) CompletedRecords(ctx context.Context, limit int) ([]*models.Record, error) {
	records, err := s.allRecords(ctx)
	if err != nil {
		return nil, err
	}

	completed := make([]*models.Record, 0)

	for _, record := range records {
		if len(completed) >= limit {
			break
		}

		if record.Completed() {
			completed = append(completed, record)
		}
	}

	return completed, nil
}

// BulkSave conditionally writes records, one result per record in input order.
func (s *Store) BulkSave(ctx context.Context, records []*models.Record) ([]persistence.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.MkdirAll(path.Join(s.root, "records"), 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}

	results := make([]persistence.SaveResult, 0, len(records))

	for _, record := range records {
		results = append(results, s.saveOne(ctx, record))
	}

	return results, nil
}

func (s *Store) saveOne(ctx context.Context, record *models.Record) persistence.SaveResult {
	existing, err := s.RecordByID(ctx, record.ID)
	if err != nil {
		return persistence.SaveResult{ID: record.ID, Err: persistence.NewRecordError("BulkSave", record.ID, err)}
	}

	if existing != nil && existing.Rev != record.Rev {
		return persistence.SaveResult{ID: record.ID, Err: persistence.NewRecordError("BulkSave", record.ID, persistence.ErrRevConflict)}
	}

	if existing == nil && record.Rev != "" {
		return persistence.SaveResult{ID: record.ID, Err: persistence.NewRecordError("BulkSave", record.ID, persistence.ErrRecordNotFound)}
	}

	saved := *record
	saved.Rev = bumpRev(record.Rev)

	now := time.Now().UTC()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}

	saved.UpdatedAt = now

	data, err := json.MarshalIndent(&saved, "", "  ")
	if err != nil {
		return persistence.SaveResult{ID: record.ID, Err: persistence.NewRecordError("BulkSave", record.ID, err)}
	}

	err = os.WriteFile(s.recordPath(record.ID), data, 0600)
	if err != nil {
		return persistence.SaveResult{ID: record.ID, Err: persistence.NewRecordError("BulkSave", record.ID, err)}
	}

	return persistence.SaveResult{ID: record.ID, Ok: true, Rev: saved.Rev}
}

// DeleteRecord purges a record, conditional on its revision.
func (s *Store) DeleteRecord(ctx context.Context, id, rev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.RecordByID(ctx, id)
	if err != nil {
		return err
	}

	if existing == nil {
		return persistence.NewRecordError("Delete", id, persistence.ErrRecordNotFound)
	}

	if existing.Rev != rev {
		return persistence.NewRecordError("Delete", id, persistence.ErrRevConflict)
	}

	err = os.Remove(s.recordPath(id))
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}

	return nil
}

func bumpRev(rev string) string {
	if rev == "" {
		return "1"
	}

	n, err := strconv.Atoi(rev)
	if err != nil {
		return rev + "-1"
	}

	return strconv.Itoa(n + 1)
}
