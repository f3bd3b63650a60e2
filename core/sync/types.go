package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"table-sync/core/utils"
)

// ChangeKind is the kind of mutation recorded for a tracked row.
type ChangeKind string

const (
	// ChangeInsert records a row that did not exist before.
	ChangeInsert ChangeKind = "insert"
	// ChangeUpdate records a modification of an existing row.
	ChangeUpdate ChangeKind = "update"
	// ChangeDelete records a tombstone.
	ChangeDelete ChangeKind = "delete"
)

// IsValid reports whether k is one of the known change kinds.
func (k ChangeKind) IsValid() bool {
	switch k {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return true
	default:
		return false
	}
}

// Row is the column/value payload of a tracked row.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// UnmarshalJSON decodes a row keeping integral numbers as int64.
func (r *Row) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = nil
		return nil
	}
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(Row, len(raw))
	for k, v := range raw {
		out[k] = utils.Normalize(v)
	}
	*r = out
	return nil
}

// Key is the ordered list of primary-key values identifying a row.
type Key []any

// KeyFromRow extracts the key columns from a row.
func KeyFromRow(row Row, columns []string) (Key, error) {
	key := make(Key, 0, len(columns))
	for _, col := range columns {
		v, ok := row[col]
		if !ok || v == nil {
			return nil, fmt.Errorf("primary key column %s missing from row", col)
		}
		key = append(key, utils.Normalize(v))
	}
	return key, nil
}

// ParseKey decodes the canonical JSON representation produced by Key.String.
func ParseKey(s string) (Key, error) {
	var k Key
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return nil, fmt.Errorf("failed to parse key %q: %w", s, err)
	}
	return k, nil
}

// String returns the canonical representation of the key, a JSON array.
func (k Key) String() string {
	data, err := json.Marshal([]any(k))
	if err != nil {
		return fmt.Sprintf("%v", []any(k))
	}
	return string(data)
}

// UnmarshalJSON decodes a key keeping integral numbers as int64.
func (k *Key) UnmarshalJSON(data []byte) error {
	var raw []any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(Key, len(raw))
	for i, v := range raw {
		out[i] = utils.Normalize(v)
	}
	*k = out
	return nil
}

// CompareKeys orders keys element by element. Numbers compare numerically,
// everything else by its string form. A shorter key sorts first on a tie.
func CompareKeys(a, b Key) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		af, aNum := utils.ToFloat64(a[i])
		bf, bNum := utils.ToFloat64(b[i])
		if aNum && bNum {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			continue
		}
		if c := strings.Compare(utils.ToString(a[i]), utils.ToString(b[i])); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// VersionRange is the half-open interval (From, To] of version stamps.
type VersionRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Contains reports whether v lies in (From, To].
func (r VersionRange) Contains(v int64) bool {
	return v > r.From && v <= r.To
}

// TrackedRow is the change-tracking record of one row: the latest known
// change for a key plus the row payload at that change.
type TrackedRow struct {
	// Table is the tracked table name.
	Table string `json:"table"`

	// Key holds the primary-key values.
	Key Key `json:"key"`

	// Kind is the kind of the change.
	Kind ChangeKind `json:"kind"`

	// Version is the store-local version stamp of the change.
	Version int64 `json:"version"`

	// CreatedVersion is the version at which the key was inserted,
	// 0 when the row existed before tracking started.
	CreatedVersion int64 `json:"created_version"`

	// Origin is the scope id of the peer that produced the change.
	// Empty for changes made locally.
	Origin string `json:"origin,omitempty"`

	// UpdatedAt is the change time in unix milliseconds.
	UpdatedAt int64 `json:"updated_at"`

	// Row is the row content after the change, or before it for deletes.
	Row Row `json:"row,omitempty"`

	// Forced marks a row whose conflict was already resolved by the sender.
	// Receivers apply it without conflict detection.
	Forced bool `json:"forced,omitempty"`
}

// ID identifies the row across tables.
func (t TrackedRow) ID() string {
	return rowID(t.Table, t.Key)
}

// IsDelete reports whether the change is a tombstone.
func (t TrackedRow) IsDelete() bool {
	return t.Kind == ChangeDelete
}

func rowID(table string, key Key) string {
	return table + "|" + key.String()
}

// ChangeSet is the ordered, coalesced set of changes between two version stamps.
type ChangeSet struct {
	// Range is the version window the changes were selected from.
	Range VersionRange `json:"range"`

	// Tables lists the tables covered, in dependency order.
	Tables []string `json:"tables"`

	// Changes holds at most one entry per key.
	Changes []TrackedRow `json:"changes"`
}

// Len returns the number of changes.
func (cs *ChangeSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.Changes)
}

// Remove drops the change for the given row id, if present.
func (cs *ChangeSet) Remove(id string) bool {
	for i, c := range cs.Changes {
		if c.ID() == id {
			cs.Changes = append(cs.Changes[:i], cs.Changes[i+1:]...)
			return true
		}
	}
	return false
}

// Put replaces the change for the row with the same id or appends it.
func (cs *ChangeSet) Put(change TrackedRow) {
	id := change.ID()
	for i, c := range cs.Changes {
		if c.ID() == id {
			cs.Changes[i] = change
			return
		}
	}
	cs.Changes = append(cs.Changes, change)
}

// sortChanges orders changes by table position then key.
func sortChanges(changes []TrackedRow, tables []string) {
	pos := make(map[string]int, len(tables))
	for i, t := range tables {
		pos[t] = i
	}
	sort.SliceStable(changes, func(i, j int) bool {
		pi, iok := pos[changes[i].Table]
		pj, jok := pos[changes[j].Table]
		if !iok {
			pi = len(tables)
		}
		if !jok {
			pj = len(tables)
		}
		if pi != pj {
			return pi < pj
		}
		if changes[i].Table != changes[j].Table {
			return changes[i].Table < changes[j].Table
		}
		return CompareKeys(changes[i].Key, changes[j].Key) < 0
	})
}

// ForeignKey declares that Column references ReferencedColumn of Table.
type ForeignKey struct {
	Column           string `mapstructure:"column" json:"column" yaml:"column"`
	Table            string `mapstructure:"table" json:"table" yaml:"table"`
	ReferencedColumn string `mapstructure:"referenced_column" json:"referenced_column" yaml:"referenced_column"`
}

// TableSchema describes a synchronized table.
type TableSchema struct {
	// Name is the table name.
	Name string `mapstructure:"name" json:"name" yaml:"name"`

	// PrimaryKey lists the primary-key columns in order.
	PrimaryKey []string `mapstructure:"primary_key" json:"primary_key" yaml:"primary_key"`

	// Columns optionally lists the synchronized columns. Stores that can
	// introspect their schema ignore it when empty.
	Columns []string `mapstructure:"columns" json:"columns,omitempty" yaml:"columns"`

	// ForeignKeys declares the parent tables this table depends on.
	ForeignKeys []ForeignKey `mapstructure:"foreign_keys" json:"foreign_keys,omitempty" yaml:"foreign_keys"`
}

// ScopeInfo is the persisted synchronization checkpoint of a scope on one store.
//
// The row with an empty PeerID describes the store itself and carries the
// scope id used as origin for changes it produces. Rows with a PeerID hold
// the anchor up to which this store's changes were delivered to that peer.
type ScopeInfo struct {
	// ID is the scope id of the owning store.
	ID string `json:"id"`

	// Name is the scope name.
	Name string `json:"name"`

	// PeerID is the scope id of the remote peer, empty for the local row.
	PeerID string `json:"peer_id,omitempty"`

	// Tables are the tracked table names.
	Tables []string `json:"tables"`

	// LastSyncVersion is the local version delivered to the peer at the last
	// successful session.
	LastSyncVersion int64 `json:"last_sync_version"`

	// LastSync is the completion time of the last successful session.
	LastSync time.Time `json:"last_sync"`

	// Fingerprint identifies the table/column layout of the scope.
	Fingerprint string `json:"fingerprint"`

	// Revision is the optimistic-concurrency token; 0 means not yet stored.
	Revision int64 `json:"revision"`
}

// IsLocal reports whether the row describes the store itself.
func (s *ScopeInfo) IsLocal() bool {
	return s.PeerID == ""
}

// Clone returns a deep copy of the scope info.
func (s *ScopeInfo) Clone() *ScopeInfo {
	if s == nil {
		return nil
	}
	out := *s
	out.Tables = append([]string(nil), s.Tables...)
	return &out
}

// ApplyStats counts applied mutations by kind.
type ApplyStats struct {
	Inserts int `json:"inserts"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
}

// Total returns the number of applied mutations.
func (s ApplyStats) Total() int {
	return s.Inserts + s.Updates + s.Deletes
}

func (s *ApplyStats) add(kind ChangeKind) {
	switch kind {
	case ChangeInsert:
		s.Inserts++
	case ChangeUpdate:
		s.Updates++
	case ChangeDelete:
		s.Deletes++
	}
}
