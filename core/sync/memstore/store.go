package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"table-sync/core/sync"
	"table-sync/core/utils"
)

// ErrForeignKey is returned when a write would break a declared foreign key.
var ErrForeignKey = errors.New("foreign key violation")

// ErrTxDone is returned when a finished transaction is used.
var ErrTxDone = errors.New("transaction already finished")

type scopeKey struct {
	name string
	peer string
}

type table struct {
	schema  sync.TableSchema
	rows    map[string]sync.Row
	tracked bool
	log     []sync.TrackedRow
	latest  map[string]sync.TrackedRow
}

// Store is an in-memory sync.Provider. Every mutation of a tracked table
// appends a tracking entry to the table's change log. One transaction runs
// at a time; writes outside a transaction take the same lock.
type Store struct {
	name    string
	sem     chan struct{}
	tables  map[string]*table
	scopes  map[scopeKey]sync.ScopeInfo
	version int64
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the clock used for tracking timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store.
func New(name string, opts ...Option) *Store {
	s := &Store{
		name:   name,
		sem:    make(chan struct{}, 1),
		tables: make(map[string]*table),
		scopes: make(map[scopeKey]sync.ScopeInfo),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTable registers a table. Columns must be declared.
func (s *Store) CreateTable(schema sync.TableSchema) error {
	if schema.Name == "" || len(schema.PrimaryKey) == 0 || len(schema.Columns) == 0 {
		return fmt.Errorf("table %q needs a name, a primary key and columns", schema.Name)
	}
	if err := s.lock(context.Background()); err != nil {
		return err
	}
	defer s.unlock()

	if _, ok := s.tables[schema.Name]; ok {
		return fmt.Errorf("table %s already exists", schema.Name)
	}
	s.tables[schema.Name] = &table{
		schema: schema,
		rows:   make(map[string]sync.Row),
		latest: make(map[string]sync.TrackedRow),
	}
	return nil
}

// Insert writes a new row as a local change.
func (s *Store) Insert(ctx context.Context, tableName string, row sync.Row) error {
	return s.local(ctx, func(j *journal) error {
		t, err := s.table(tableName)
		if err != nil {
			return err
		}
		key, err := sync.KeyFromRow(row, t.schema.PrimaryKey)
		if err != nil {
			return err
		}
		if _, exists := t.rows[key.String()]; exists {
			return fmt.Errorf("duplicate key %s in %s", key, tableName)
		}
		return s.upsert(j, t, key, row, "", 0)
	})
}

// Update modifies an existing row as a local change.
func (s *Store) Update(ctx context.Context, tableName string, row sync.Row) error {
	return s.local(ctx, func(j *journal) error {
		t, err := s.table(tableName)
		if err != nil {
			return err
		}
		key, err := sync.KeyFromRow(row, t.schema.PrimaryKey)
		if err != nil {
			return err
		}
		current, exists := t.rows[key.String()]
		if !exists {
			return fmt.Errorf("row %s not found in %s", key, tableName)
		}
		merged := current.Clone()
		for k, v := range row {
			merged[k] = v
		}
		return s.upsert(j, t, key, merged, "", 0)
	})
}

// Delete removes a row as a local change.
func (s *Store) Delete(ctx context.Context, tableName string, key sync.Key) error {
	return s.local(ctx, func(j *journal) error {
		t, err := s.table(tableName)
		if err != nil {
			return err
		}
		if _, exists := t.rows[key.String()]; !exists {
			return fmt.Errorf("row %s not found in %s", key, tableName)
		}
		return s.delete(j, t, key, "", 0)
	})
}

// Get returns a copy of a row.
func (s *Store) Get(tableName string, key sync.Key) (sync.Row, bool) {
	if err := s.lock(context.Background()); err != nil {
		return nil, false
	}
	defer s.unlock()

	t, ok := s.tables[tableName]
	if !ok {
		return nil, false
	}
	row, ok := t.rows[key.String()]
	return row.Clone(), ok
}

// Rows returns copies of all rows of a table in key order.
func (s *Store) Rows(tableName string) []sync.Row {
	if err := s.lock(context.Background()); err != nil {
		return nil
	}
	defer s.unlock()

	t, ok := s.tables[tableName]
	if !ok {
		return nil
	}
	keys := make([]sync.Key, 0, len(t.rows))
	for k := range t.rows {
		key, _ := sync.ParseKey(k)
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return sync.CompareKeys(keys[i], keys[j]) < 0 })

	out := make([]sync.Row, 0, len(keys))
	for _, key := range keys {
		out = append(out, t.rows[key.String()].Clone())
	}
	return out
}

// Count returns the number of rows of a table.
func (s *Store) Count(tableName string) int {
	return len(s.Rows(tableName))
}

func (s *Store) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock() {
	<-s.sem
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", name)
	}
	return t, nil
}

// local runs fn as an autocommitted write.
func (s *Store) local(ctx context.Context, fn func(j *journal) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	j := &journal{}
	if err := fn(j); err != nil {
		j.undo()
		return err
	}
	return nil
}

// upsert writes row under key and records the change when the table is
// tracked. A zero at stamps the change with the store clock.
func (s *Store) upsert(j *journal, t *table, key sync.Key, row sync.Row, origin string, at int64) error {
	stored := make(sync.Row, len(t.schema.Columns))
	for _, col := range t.schema.Columns {
		stored[col] = utils.Normalize(row[col])
	}

	if err := s.checkParents(t, stored); err != nil {
		return err
	}

	id := key.String()
	previous, existed := t.rows[id]
	t.rows[id] = stored
	j.add(func() {
		if existed {
			t.rows[id] = previous
		} else {
			delete(t.rows, id)
		}
	})

	kind := sync.ChangeUpdate
	if !existed {
		kind = sync.ChangeInsert
	}
	s.track(j, t, key, kind, stored, origin, at)
	return nil
}

func (s *Store) delete(j *journal, t *table, key sync.Key, origin string, at int64) error {
	id := key.String()
	previous, existed := t.rows[id]
	if !existed {
		return nil
	}
	if err := s.checkChildren(t, previous); err != nil {
		return err
	}

	delete(t.rows, id)
	j.add(func() {
		t.rows[id] = previous
	})

	s.track(j, t, key, sync.ChangeDelete, previous, origin, at)
	return nil
}

func (s *Store) track(j *journal, t *table, key sync.Key, kind sync.ChangeKind, row sync.Row, origin string, at int64) {
	if !t.tracked {
		return
	}
	if at <= 0 {
		at = s.now().UnixMilli()
	}

	id := key.String()
	previous, hadPrevious := t.latest[id]

	prevVersion := s.version
	s.version++
	created := s.version
	if kind != sync.ChangeInsert && hadPrevious {
		created = previous.CreatedVersion
	} else if kind != sync.ChangeInsert {
		created = 0
	}

	entry := sync.TrackedRow{
		Table:          t.schema.Name,
		Key:            key,
		Kind:           kind,
		Version:        s.version,
		CreatedVersion: created,
		Origin:         origin,
		UpdatedAt:      at,
		Row:            row.Clone(),
	}
	t.log = append(t.log, entry)
	t.latest[id] = entry

	logLen := len(t.log) - 1
	j.add(func() {
		s.version = prevVersion
		t.log = t.log[:logLen]
		if hadPrevious {
			t.latest[id] = previous
		} else {
			delete(t.latest, id)
		}
	})
}

func (s *Store) checkParents(t *table, row sync.Row) error {
	for _, fk := range t.schema.ForeignKeys {
		value := row[fk.Column]
		if value == nil {
			continue
		}
		parent, ok := s.tables[fk.Table]
		if !ok {
			continue
		}
		if fk.Table == t.schema.Name && sameValue(row[fk.ReferencedColumn], value) {
			continue
		}
		if !hasValue(parent, fk.ReferencedColumn, value) {
			return fmt.Errorf("%w: %s.%s=%v has no parent in %s", ErrForeignKey, t.schema.Name, fk.Column, value, fk.Table)
		}
	}
	return nil
}

func (s *Store) checkChildren(t *table, row sync.Row) error {
	for _, child := range s.tables {
		for _, fk := range child.schema.ForeignKeys {
			if fk.Table != t.schema.Name {
				continue
			}
			value := row[fk.ReferencedColumn]
			for _, childRow := range child.rows {
				if child == t && sameValue(childRow[fk.ReferencedColumn], value) {
					continue
				}
				if sameValue(childRow[fk.Column], value) {
					return fmt.Errorf("%w: %s is still referenced by %s", ErrForeignKey, t.schema.Name, child.schema.Name)
				}
			}
		}
	}
	return nil
}

func hasValue(t *table, column string, value any) bool {
	for _, row := range t.rows {
		if sameValue(row[column], value) {
			return true
		}
	}
	return false
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return utils.ToString(utils.Normalize(a)) == utils.ToString(utils.Normalize(b))
}

// journal records undo steps of an open transaction.
type journal struct {
	steps []func()
}

func (j *journal) add(step func()) {
	j.steps = append(j.steps, step)
}

func (j *journal) undo() {
	for i := len(j.steps) - 1; i >= 0; i-- {
		j.steps[i]()
	}
	j.steps = nil
}
