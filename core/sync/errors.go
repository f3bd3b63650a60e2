package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotProvisioned is returned when a scope has no persisted metadata yet.
	ErrNotProvisioned = errors.New("scope not provisioned")

	// ErrSchema is returned when tracking infrastructure cannot be created or
	// when the two sides disagree on the table layout of a scope.
	ErrSchema = errors.New("schema mismatch")

	// ErrScopeConflict is returned when a compare-and-swap on scope metadata
	// lost against a concurrent writer.
	ErrScopeConflict = errors.New("scope modified concurrently")

	// ErrCyclicDependency is returned when table foreign keys form a cycle.
	ErrCyclicDependency = errors.New("cyclic table dependency")

	// ErrIncompleteBatch is returned when a batch sequence has gaps or
	// conflicting duplicates.
	ErrIncompleteBatch = errors.New("incomplete batch sequence")

	// ErrTimeout is returned when a store call exceeded its deadline.
	ErrTimeout = errors.New("store call timed out")

	// ErrInvalidConfig is returned for missing or inconsistent configuration.
	ErrInvalidConfig = errors.New("invalid sync configuration")

	// ErrSessionNotFound is returned when a session id is unknown or expired.
	ErrSessionNotFound = errors.New("sync session not found")
)

// IsRetryable reports whether a failed session can be retried as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrScopeConflict) ||
		errors.Is(err, ErrIncompleteBatch) ||
		errors.Is(err, ErrTimeout)
}

// RowError describes a single row that could not be applied.
// Row errors are collected in the session report and never abort a session.
type RowError struct {
	Table   string     `json:"table"`
	Key     Key        `json:"key"`
	Kind    ChangeKind `json:"kind"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

func newRowError(change TrackedRow, err error) RowError {
	return RowError{
		Table:   change.Table,
		Key:     change.Key,
		Kind:    change.Kind,
		Message: err.Error(),
		Err:     err,
	}
}

// Error implements error.
func (e RowError) Error() string {
	return fmt.Sprintf("%s %s %s: %s", e.Kind, e.Table, e.Key, e.Message)
}

// Unwrap returns the underlying store error when known.
func (e RowError) Unwrap() error {
	return e.Err
}

// SyncError wraps a session failure with the state the session was in.
type SyncError struct {
	State State
	Err   error
}

// Error implements error.
func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed in state %s: %v", e.State, e.Err)
}

// Unwrap returns the cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}
