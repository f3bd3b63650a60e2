package sync

import (
	"context"
	"fmt"
	"sort"
)

// DeltaOptions tunes ComputeChanges.
type DeltaOptions struct {
	// ExcludeOrigin drops changes whose latest entry came from this scope id,
	// so a peer never receives its own changes back.
	ExcludeOrigin string

	// Initial selects a deep initial copy: tombstones are dropped and the
	// result is exactly the current content of the tables.
	Initial bool
}

// ComputeChanges selects the changes of tables with a version in
// (anchor.LastSyncVersion, current] and coalesces them per key.
// Tables must be given in dependency order.
func ComputeChanges(ctx context.Context, p Provider, tx Tx, anchor *ScopeInfo, tables []TableSchema, current int64, opts DeltaOptions) (*ChangeSet, error) {
	r := VersionRange{From: anchor.LastSyncVersion, To: current}
	if opts.Initial {
		r.From = 0
	}

	cs := &ChangeSet{Range: r, Tables: tableNames(tables)}
	if r.To <= r.From {
		return cs, nil
	}

	for _, table := range tables {
		entries, err := p.SelectTrackedChanges(ctx, tx, table, r)
		if err != nil {
			return nil, fmt.Errorf("failed to select changes of %s: %w", table.Name, err)
		}
		cs.Changes = append(cs.Changes, Coalesce(entries, r, opts)...)
	}

	sortChanges(cs.Changes, cs.Tables)
	return cs, nil
}

// Coalesce reduces the tracking entries of one table to a single change per key.
//
// The net kind follows the first and last entry of the key inside the window:
// a key that existed before the window and still exists is an update, a key
// born inside the window is an insert, and a key whose last entry is a delete
// is a delete even when it was born inside the window.
func Coalesce(entries []TrackedRow, r VersionRange, opts DeltaOptions) []TrackedRow {
	grouped := make(map[string][]TrackedRow)
	var order []string
	for _, e := range entries {
		if !r.Contains(e.Version) {
			continue
		}
		id := e.ID()
		if _, ok := grouped[id]; !ok {
			order = append(order, id)
		}
		grouped[id] = append(grouped[id], e)
	}

	out := make([]TrackedRow, 0, len(order))
	for _, id := range order {
		history := grouped[id]
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].Version < history[j].Version
		})

		first := history[0]
		last := history[len(history)-1]
		if opts.ExcludeOrigin != "" && last.Origin == opts.ExcludeOrigin {
			continue
		}

		existedBefore := first.Kind != ChangeInsert && first.CreatedVersion <= r.From
		change := last
		change.Row = last.Row.Clone()
		switch {
		case last.Kind == ChangeDelete:
			if opts.Initial {
				continue
			}
			change.Kind = ChangeDelete
		case existedBefore:
			change.Kind = ChangeUpdate
		default:
			change.Kind = ChangeInsert
		}
		out = append(out, change)
	}
	return out
}
