package memstore

import (
	"context"
	"fmt"
	"sort"

	"table-sync/core/sync"
)

type tx struct {
	store   *Store
	journal *journal
	done    bool
}

// Commit implements sync.Tx.
func (t *tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.journal.steps = nil
	t.store.unlock()
	return nil
}

// Rollback implements sync.Tx.
func (t *tx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.journal.undo()
	t.store.unlock()
	return nil
}

// Name implements sync.Provider.
func (s *Store) Name() string {
	return s.name
}

// Begin implements sync.Provider.
func (s *Store) Begin(ctx context.Context) (sync.Tx, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	return &tx{store: s, journal: &journal{}}, nil
}

func (s *Store) open(ctx context.Context, t sync.Tx) (*tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mt, ok := t.(*tx)
	if !ok || mt.store != s {
		return nil, fmt.Errorf("transaction does not belong to store %s", s.name)
	}
	if mt.done {
		return nil, ErrTxDone
	}
	return mt, nil
}

// ReadScopeInfo implements sync.Provider.
func (s *Store) ReadScopeInfo(ctx context.Context, t sync.Tx, name, peerID string) (*sync.ScopeInfo, error) {
	if _, err := s.open(ctx, t); err != nil {
		return nil, err
	}
	info, ok := s.scopes[scopeKey{name: name, peer: peerID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", sync.ErrNotProvisioned, name, s.name)
	}
	return info.Clone(), nil
}

// WriteScopeInfo implements sync.Provider.
func (s *Store) WriteScopeInfo(ctx context.Context, t sync.Tx, info *sync.ScopeInfo) error {
	mt, err := s.open(ctx, t)
	if err != nil {
		return err
	}

	key := scopeKey{name: info.Name, peer: info.PeerID}
	stored, exists := s.scopes[key]
	switch {
	case info.Revision == 0 && exists:
		return fmt.Errorf("%w: scope %s already exists", sync.ErrScopeConflict, info.Name)
	case info.Revision != 0 && !exists:
		return fmt.Errorf("%w: scope %s no longer exists", sync.ErrScopeConflict, info.Name)
	case exists && stored.Revision != info.Revision:
		return fmt.Errorf("%w: scope %s at revision %d, expected %d", sync.ErrScopeConflict, info.Name, stored.Revision, info.Revision)
	}

	next := *info.Clone()
	next.Revision++
	s.scopes[key] = next
	mt.journal.add(func() {
		if exists {
			s.scopes[key] = stored
		} else {
			delete(s.scopes, key)
		}
	})

	info.Revision = next.Revision
	return nil
}

// EnsureTrackingInfrastructure implements sync.Provider. Rows present when a
// table becomes tracked are recorded as inserts.
func (s *Store) EnsureTrackingInfrastructure(ctx context.Context, t sync.Tx, tables []sync.TableSchema) error {
	mt, err := s.open(ctx, t)
	if err != nil {
		return err
	}

	for _, schema := range tables {
		tbl, ok := s.tables[schema.Name]
		if !ok {
			return fmt.Errorf("%w: table %s does not exist on %s", sync.ErrSchema, schema.Name, s.name)
		}
		if tbl.tracked {
			continue
		}

		tbl.tracked = true
		mt.journal.add(func() { tbl.tracked = false })

		keys := make([]sync.Key, 0, len(tbl.rows))
		for id := range tbl.rows {
			key, err := sync.ParseKey(id)
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return sync.CompareKeys(keys[i], keys[j]) < 0 })
		for _, key := range keys {
			s.track(mt.journal, tbl, key, sync.ChangeInsert, tbl.rows[key.String()], "", 0)
		}
	}
	return nil
}

// Columns implements sync.Provider.
func (s *Store) Columns(ctx context.Context, t sync.Tx, schema sync.TableSchema) ([]string, error) {
	if _, err := s.open(ctx, t); err != nil {
		return nil, err
	}
	tbl, err := s.table(schema.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sync.ErrSchema, err)
	}
	return append([]string(nil), tbl.schema.Columns...), nil
}

// CurrentVersion implements sync.Provider.
func (s *Store) CurrentVersion(ctx context.Context, t sync.Tx) (int64, error) {
	if _, err := s.open(ctx, t); err != nil {
		return 0, err
	}
	return s.version, nil
}

// SelectTrackedChanges implements sync.Provider. Every log entry in the
// range is returned, oldest first.
func (s *Store) SelectTrackedChanges(ctx context.Context, t sync.Tx, schema sync.TableSchema, r sync.VersionRange) ([]sync.TrackedRow, error) {
	if _, err := s.open(ctx, t); err != nil {
		return nil, err
	}
	tbl, err := s.trackedTable(schema.Name)
	if err != nil {
		return nil, err
	}

	var out []sync.TrackedRow
	for _, entry := range tbl.log {
		if r.Contains(entry.Version) {
			entry.Row = entry.Row.Clone()
			out = append(out, entry)
		}
	}
	return out, nil
}

// SelectTrackedRows implements sync.Provider.
func (s *Store) SelectTrackedRows(ctx context.Context, t sync.Tx, schema sync.TableSchema, keys []sync.Key) (map[string]sync.TrackedRow, error) {
	if _, err := s.open(ctx, t); err != nil {
		return nil, err
	}
	tbl, err := s.trackedTable(schema.Name)
	if err != nil {
		return nil, err
	}

	out := make(map[string]sync.TrackedRow, len(keys))
	for _, key := range keys {
		if entry, ok := tbl.latest[key.String()]; ok {
			entry.Row = entry.Row.Clone()
			out[key.String()] = entry
		}
	}
	return out, nil
}

// ApplyRowChange implements sync.Provider.
func (s *Store) ApplyRowChange(ctx context.Context, t sync.Tx, schema sync.TableSchema, change sync.TrackedRow, origin string) error {
	mt, err := s.open(ctx, t)
	if err != nil {
		return err
	}
	tbl, err := s.table(schema.Name)
	if err != nil {
		return fmt.Errorf("%w: %v", sync.ErrSchema, err)
	}

	var at int64
	if origin != "" {
		at = change.UpdatedAt
	}
	if change.IsDelete() {
		return s.delete(mt.journal, tbl, change.Key, origin, at)
	}

	row := change.Row.Clone()
	if row == nil {
		row = sync.Row{}
	}
	for i, col := range tbl.schema.PrimaryKey {
		if i < len(change.Key) {
			row[col] = change.Key[i]
		}
	}
	return s.upsert(mt.journal, tbl, change.Key, row, origin, at)
}

// Deprovision implements sync.Provider.
func (s *Store) Deprovision(ctx context.Context, t sync.Tx, scopeName string, tables []sync.TableSchema) error {
	mt, err := s.open(ctx, t)
	if err != nil {
		return err
	}

	for _, schema := range tables {
		tbl, ok := s.tables[schema.Name]
		if !ok || !tbl.tracked {
			continue
		}
		log, latest := tbl.log, tbl.latest
		tbl.tracked = false
		tbl.log = nil
		tbl.latest = make(map[string]sync.TrackedRow)
		mt.journal.add(func() {
			tbl.tracked = true
			tbl.log = log
			tbl.latest = latest
		})
	}

	for key, info := range s.scopes {
		if key.name != scopeName {
			continue
		}
		delete(s.scopes, key)
		mt.journal.add(func() { s.scopes[key] = info })
	}
	return nil
}

func (s *Store) trackedTable(name string) (*table, error) {
	tbl, err := s.table(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sync.ErrSchema, err)
	}
	if !tbl.tracked {
		return nil, fmt.Errorf("%w: table %s is not tracked on %s", sync.ErrNotProvisioned, name, s.name)
	}
	return tbl, nil
}
