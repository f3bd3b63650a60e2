package sync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tx is a store transaction handed back to the provider on every call.
type Tx interface {
	Commit() error
	Rollback() error
}

// Provider is the store adapter contract. Implementations own change
// capture: every insert, update or delete on a tracked table must produce a
// tracking entry with a fresh version stamp, whoever performs it.
type Provider interface {
	// Name identifies the store, used in logs and provisioning keys.
	Name() string

	// Begin opens a transaction bound to ctx.
	Begin(ctx context.Context) (Tx, error)

	// ReadScopeInfo returns the scope row for (name, peerID) or ErrNotProvisioned.
	ReadScopeInfo(ctx context.Context, tx Tx, name, peerID string) (*ScopeInfo, error)

	// WriteScopeInfo stores info when its Revision matches the stored one
	// (0 creates the row) and increments info.Revision. A lost race returns
	// ErrScopeConflict.
	WriteScopeInfo(ctx context.Context, tx Tx, info *ScopeInfo) error

	// EnsureTrackingInfrastructure idempotently creates the change-tracking
	// structures for tables. Failures wrap ErrSchema.
	EnsureTrackingInfrastructure(ctx context.Context, tx Tx, tables []TableSchema) error

	// Columns returns the synchronized column names of a table.
	Columns(ctx context.Context, tx Tx, table TableSchema) ([]string, error)

	// CurrentVersion returns the highest version stamp issued by the store.
	CurrentVersion(ctx context.Context, tx Tx) (int64, error)

	// SelectTrackedChanges returns tracking entries of table with a version in r.
	// Stores may return several entries per key; they are coalesced by the caller.
	SelectTrackedChanges(ctx context.Context, tx Tx, table TableSchema, r VersionRange) ([]TrackedRow, error)

	// SelectTrackedRows returns the latest tracking entry of each known key,
	// indexed by Key.String().
	SelectTrackedRows(ctx context.Context, tx Tx, table TableSchema, keys []Key) (map[string]TrackedRow, error)

	// ApplyRowChange upserts or deletes one row. The resulting tracking entry
	// carries origin and, when origin is set and change.UpdatedAt is not
	// zero, keeps change.UpdatedAt as its write time. Deleting a missing row
	// is not an error.
	ApplyRowChange(ctx context.Context, tx Tx, table TableSchema, change TrackedRow, origin string) error

	// Deprovision drops the tracking structures of tables and every scope row of scopeName.
	Deprovision(ctx context.Context, tx Tx, scopeName string, tables []TableSchema) error
}

// WithTx runs fn inside a transaction of p. The transaction is committed when
// fn returns nil and rolled back on error or panic. Waiting for the
// transaction to open is bounded by timeout; the transaction itself stays
// bound to ctx.
func WithTx(ctx context.Context, p Provider, timeout time.Duration, fn func(tx Tx) error) (err error) {
	txCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tx, err := begin(txCtx, p, timeout)
	if err != nil {
		return fmt.Errorf("failed to begin transaction on %s: %w", p.Name(), err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction on %s: %w", p.Name(), err)
	}
	return nil
}

type opened struct {
	tx  Tx
	err error
}

// begin opens a transaction on ctx, giving up after timeout. The caller
// cancels ctx once begin fails; a transaction that opens late is rolled back.
func begin(ctx context.Context, p Provider, timeout time.Duration) (Tx, error) {
	if timeout <= 0 {
		return p.Begin(ctx)
	}

	done := make(chan opened, 1)
	go func() {
		tx, err := p.Begin(ctx)
		done <- opened{tx: tx, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.tx, o.err
	case <-ctx.Done():
		go rollbackLate(done)
		return nil, ctx.Err()
	case <-timer.C:
		go rollbackLate(done)
		return nil, fmt.Errorf("%w after %s waiting for a transaction", ErrTimeout, timeout)
	}
}

func rollbackLate(done <-chan opened) {
	if o := <-done; o.err == nil && o.tx != nil {
		_ = o.tx.Rollback()
	}
}

// bounded runs fn with a deadline of timeout. A deadline hit while the parent
// context is still live is reported as ErrTimeout.
func bounded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, err)
	}
	return err
}
