package store

import (
	"errors"
	"fmt"
)

// Store error types for categorizing persistence failures.
var (
	// ErrConnectionFailed indicates a failure to connect to the database.
	ErrConnectionFailed = errors.New("store: connection failed")

	// ErrQueryFailed indicates a query execution failure.
	ErrQueryFailed = errors.New("store: query failed")

	// ErrBatchInsertFailed indicates a batch insert failure.
	ErrBatchInsertFailed = errors.New("store: batch insert failed")

	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("store: not found")
)

// StoreError wraps persistence errors with operation context.
type StoreError struct {
	Op      string // Operation that failed (e.g., "BulkInsert", "Query")
	Table   string // Table involved, if applicable
	Err     error  // Underlying error
	Retries int    // Number of retries attempted, if applicable
}

// Error returns the error message.
func (e *StoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("store.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("store.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapConnectionError wraps an error as a connection error.
func WrapConnectionError(op string, err error) error {
	return &StoreError{
		Op:  op,
		Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err),
	}
}

// WrapQueryError wraps an error as a query error.
func WrapQueryError(op, table string, err error) error {
	return &StoreError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: %v", ErrQueryFailed, err),
	}
}

// WrapInsertError wraps an error as a batch insert error, recording the
// number of retries attempted.
func WrapInsertError(op, table string, err error, retries int) error {
	return &StoreError{
		Op:      op,
		Table:   table,
		Err:     fmt.Errorf("%w: %v", ErrBatchInsertFailed, err),
		Retries: retries,
	}
}

// IsConnectionError checks if the error is a connection error.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
