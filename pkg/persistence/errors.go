package persistence

import (
	"errors"
	"fmt"
)

// Standard store error types that all implementations should use.
var (
	// ErrRecordNotFound indicates a record was not found by the given identifier.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRevConflict indicates a conditional write lost the revision check to
	// a concurrent writer.
	ErrRevConflict = errors.New("revision conflict")
)

// RecordError wraps record-related errors with additional context.
type RecordError struct {
	Op       string // Operation being performed (e.g., "BulkSave", "Delete")
	RecordID string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for record %s: %v", e.Op, e.RecordID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for record errors.
func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRecordError creates a new record error with context.
func NewRecordError(op, recordID string, err error) *RecordError {
	return &RecordError{
		Op:       op,
		RecordID: recordID,
		Err:      err,
	}
}

// IsRevConflict checks if an error indicates a lost revision check.
func IsRevConflict(err error) bool {
	return errors.Is(err, ErrRevConflict)
}

// IsRecordNotFound checks if an error indicates a record was not found.
func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
