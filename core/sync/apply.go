package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ApplyRequest describes an ordered set of incoming changes.
type ApplyRequest struct {
	// Tables are the scope tables; changes of other tables are rejected.
	Tables []TableSchema

	// Changes must already be in application order (see Order).
	Changes []TrackedRow

	// Anchor is the local version the sender's changes were computed against.
	Anchor int64

	// LocalScope and RemoteScope are the scope ids of receiver and sender.
	// Applied rows are tagged with RemoteScope as origin.
	LocalScope  string
	RemoteScope string

	// MergedOrigin is the origin written for merged rows. Merged rows sent
	// back in the same session carry RemoteScope; rows that must travel on
	// the next session carry "".
	MergedOrigin string

	Policy ConflictPolicy
}

// ApplyResult is the outcome of Applier.Apply.
type ApplyResult struct {
	Stats     ApplyStats
	Applied   int
	Conflicts []ConflictRecord
	Errors    []RowError

	// Outgoing holds rows the sender must receive back because the local
	// side won or a merge happened.
	Outgoing []TrackedRow
}

// ConflictsResolved counts conflicts that did not fail.
func (r *ApplyResult) ConflictsResolved() int {
	n := 0
	for _, c := range r.Conflicts {
		if c.Resolution != ResolutionFailed {
			n++
		}
	}
	return n
}

// Applier writes ordered changes into a provider, one transaction per chunk.
type Applier struct {
	provider  Provider
	logger    *zap.Logger
	chunkSize int
	timeout   time.Duration
}

// NewApplier creates an applier. chunkSize bounds the rows per transaction.
func NewApplier(p Provider, logger *zap.Logger, chunkSize int, timeout time.Duration) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &Applier{provider: p, logger: logger, chunkSize: chunkSize, timeout: timeout}
}

// pass is a run of consecutive changes of one table and one direction.
type pass struct {
	table   TableSchema
	changes []TrackedRow
}

// Apply writes req.Changes. Conflicting rows are resolved with req.Policy and
// failing rows are deferred to the end of their table pass and retried until
// no more of them can be applied, then reported as RowErrors. Cancellation is checked between chunks.
func (a *Applier) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	result := &ApplyResult{}
	tables := tableIndex(req.Tables)

	passes, err := splitPasses(req.Changes, tables)
	if err != nil {
		return result, err
	}

	for _, p := range passes {
		var deferred []TrackedRow
		for start := 0; start < len(p.changes); start += a.chunkSize {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			end := min(start+a.chunkSize, len(p.changes))
			failed, err := a.applyChunk(ctx, req, p.table, p.changes[start:end], result)
			if err != nil {
				return result, err
			}
			deferred = append(deferred, failed...)
		}

		if len(deferred) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := a.retryDeferred(ctx, req, p.table, deferred, result); err != nil {
			return result, err
		}
	}

	a.logger.Debug("Changes applied",
		zap.String("store", a.provider.Name()),
		zap.Int("applied", result.Applied),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// applyChunk applies a chunk in one transaction and returns the rows that
// failed, already resolved, for a later retry.
func (a *Applier) applyChunk(ctx context.Context, req ApplyRequest, table TableSchema, chunk []TrackedRow, result *ApplyResult) ([]TrackedRow, error) {
	var (
		failed    []TrackedRow
		conflicts []ConflictRecord
		outgoing  []TrackedRow
		rowErrs   []RowError
		stats     ApplyStats
		applied   int
	)

	err := WithTx(ctx, a.provider, a.timeout, func(tx Tx) error {
		var local map[string]TrackedRow
		keys := make([]Key, 0, len(chunk))
		for _, c := range chunk {
			if !c.Forced {
				keys = append(keys, c.Key)
			}
		}
		if len(keys) > 0 {
			err := bounded(ctx, a.timeout, func(ctx context.Context) error {
				var err error
				local, err = a.provider.SelectTrackedRows(ctx, tx, table, keys)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to read local tracking of %s: %w", table.Name, err)
			}
		}

		for _, change := range chunk {
			toApply := change
			origin := req.RemoteScope

			if !change.Forced {
				var current *TrackedRow
				if row, ok := local[change.Key.String()]; ok {
					current = &row
				}
				if rec := Detect(current, change, req.Anchor, req.RemoteScope); rec != nil {
					rec.LocalScope = req.LocalScope
					rec.RemoteScope = req.RemoteScope
					if err := Resolve(rec, req.Policy); err != nil {
						conflicts = append(conflicts, *rec)
						rowErrs = append(rowErrs, newRowError(change, err))
						continue
					}
					conflicts = append(conflicts, *rec)

					switch rec.Resolution {
					case ResolutionKeepLocal:
						outgoing = append(outgoing, *rec.Result)
						continue
					case ResolutionMerged:
						outgoing = append(outgoing, *rec.Result)
						toApply = *rec.Result
						origin = req.MergedOrigin
					}
				}
			}

			err := bounded(ctx, a.timeout, func(ctx context.Context) error {
				return a.provider.ApplyRowChange(ctx, tx, table, toApply, origin)
			})
			if err != nil {
				if ctx.Err() != nil || IsRetryable(err) {
					return err
				}
				a.logger.Debug("Row deferred",
					zap.String("table", table.Name),
					zap.String("key", change.Key.String()),
					zap.Error(err))
				toApply.Origin = origin
				failed = append(failed, toApply)
				continue
			}
			stats.add(toApply.Kind)
			applied++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Stats.Inserts += stats.Inserts
	result.Stats.Updates += stats.Updates
	result.Stats.Deletes += stats.Deletes
	result.Applied += applied
	result.Conflicts = append(result.Conflicts, conflicts...)
	result.Outgoing = append(result.Outgoing, outgoing...)
	result.Errors = append(result.Errors, rowErrs...)
	return failed, nil
}

// retryDeferred applies the deferred rows again, round after round, as long
// as each round applies at least one of them. Rows still failing when a round
// makes no progress become RowErrors.
func (a *Applier) retryDeferred(ctx context.Context, req ApplyRequest, table TableSchema, deferred []TrackedRow, result *ApplyResult) error {
	var (
		rowErrs []RowError
		stats   ApplyStats
		applied int
	)

	for len(deferred) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			failed    []TrackedRow
			failures  []error
			progress  int
			roundStat ApplyStats
		)
		err := WithTx(ctx, a.provider, a.timeout, func(tx Tx) error {
			for _, change := range deferred {
				err := bounded(ctx, a.timeout, func(ctx context.Context) error {
					return a.provider.ApplyRowChange(ctx, tx, table, change, change.Origin)
				})
				if err != nil {
					if ctx.Err() != nil || IsRetryable(err) {
						return err
					}
					failed = append(failed, change)
					failures = append(failures, err)
					continue
				}
				roundStat.add(change.Kind)
				progress++
			}
			return nil
		})
		if err != nil {
			return err
		}

		stats.Inserts += roundStat.Inserts
		stats.Updates += roundStat.Updates
		stats.Deletes += roundStat.Deletes
		applied += progress

		if progress == 0 {
			for i, change := range failed {
				rowErrs = append(rowErrs, newRowError(change, failures[i]))
			}
			break
		}
		deferred = failed
	}

	if len(rowErrs) > 0 {
		a.logger.Warn("Rows could not be applied",
			zap.String("store", a.provider.Name()),
			zap.String("table", table.Name),
			zap.Int("count", len(rowErrs)))
	}

	result.Stats.Inserts += stats.Inserts
	result.Stats.Updates += stats.Updates
	result.Stats.Deletes += stats.Deletes
	result.Applied += applied
	result.Errors = append(result.Errors, rowErrs...)
	return nil
}

func splitPasses(changes []TrackedRow, tables map[string]TableSchema) ([]pass, error) {
	var passes []pass
	for _, c := range changes {
		table, ok := tables[c.Table]
		if !ok {
			return nil, fmt.Errorf("%w: table %s is not part of the scope", ErrInvalidConfig, c.Table)
		}
		if n := len(passes); n > 0 {
			last := &passes[n-1]
			if last.table.Name == c.Table && last.changes[0].IsDelete() == c.IsDelete() {
				last.changes = append(last.changes, c)
				continue
			}
		}
		passes = append(passes, pass{table: table, changes: []TrackedRow{c}})
	}
	return passes, nil
}
