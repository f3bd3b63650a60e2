package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"table-sync/core/database"
	"table-sync/core/sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already finished")

// lookupChunk bounds the number of keys per IN list.
const lookupChunk = 500

// Store is a sync.Provider over a gorm connection.
type Store struct {
	name    string
	db      *gorm.DB
	dialect dialect
	logger  *zap.Logger
}

// New creates a store over db. The dialect is taken from the gorm dialector.
func New(name string, db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	d, err := dialectFor(db.Dialector.Name())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{name: name, db: db, dialect: d, logger: logger}, nil
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Dialect returns the name of the SQL dialect in use.
func (s *Store) Dialect() string {
	return s.dialect.Name()
}

type storeTx struct {
	store *Store
	db    *gorm.DB
	stamp originStamp
	done  bool
}

// originStamp is the origin and write time the triggers record for the
// following writes of a transaction. A zero time stamps the current time.
type originStamp struct {
	origin string
	at     int64
}

func (o originStamp) time() interface{} {
	if o.at <= 0 {
		return nil
	}
	return o.at
}

// Commit implements sync.Tx.
func (t *storeTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.resetOrigin(); err != nil {
		_ = t.db.Rollback()
		return err
	}
	return t.db.Commit().Error
}

// Rollback implements sync.Tx.
func (t *storeTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	// Session variables survive a rollback
	_ = t.resetOrigin()
	return t.db.Rollback().Error
}

func (t *storeTx) resetOrigin() error {
	if t.stamp.origin == "" {
		return nil
	}
	if err := t.db.WithContext(context.Background()).Exec(t.store.dialect.ClearOrigin()).Error; err != nil {
		return fmt.Errorf("failed to reset change origin: %w", err)
	}
	t.stamp = originStamp{}
	return nil
}

// useOrigin tags the following writes of the transaction with stamp.
func (t *storeTx) useOrigin(db *gorm.DB, stamp originStamp) error {
	if stamp == t.stamp {
		return nil
	}
	var err error
	if stamp.origin == "" {
		err = db.Exec(t.store.dialect.ClearOrigin()).Error
	} else {
		err = db.Exec(t.store.dialect.SetOrigin(), stamp.origin, stamp.time()).Error
	}
	if err != nil {
		return fmt.Errorf("failed to set change origin: %w", err)
	}
	t.stamp = stamp
	return nil
}

// Name implements sync.Provider.
func (s *Store) Name() string {
	return s.name
}

// Begin implements sync.Provider.
func (s *Store) Begin(ctx context.Context) (sync.Tx, error) {
	db := s.db.WithContext(ctx).Begin()
	if db.Error != nil {
		return nil, db.Error
	}
	return &storeTx{store: s, db: db}, nil
}

// open returns the transaction and a session of it bound to ctx.
func (s *Store) open(ctx context.Context, t sync.Tx) (*gorm.DB, *storeTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	st, ok := t.(*storeTx)
	if !ok || st.store != s {
		return nil, nil, fmt.Errorf("transaction does not belong to store %s", s.name)
	}
	if st.done {
		return nil, nil, ErrTxDone
	}
	return st.db.WithContext(ctx), st, nil
}

func (s *Store) notProvisioned(db *gorm.DB, table string, err error) error {
	exists, existsErr := database.TableExists(db, table)
	if existsErr == nil && !exists {
		return fmt.Errorf("%w: table %s missing on %s", sync.ErrNotProvisioned, table, s.name)
	}
	return err
}

// ReadScopeInfo implements sync.Provider.
func (s *Store) ReadScopeInfo(ctx context.Context, t sync.Tx, name, peerID string) (*sync.ScopeInfo, error) {
	db, _, err := s.open(ctx, t)
	if err != nil {
		return nil, err
	}

	var rec scopeRecord
	err = db.Where("scope_name = ? AND peer_id = ?", name, peerID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s on %s", sync.ErrNotProvisioned, name, s.name)
	}
	if err != nil {
		return nil, s.notProvisioned(db, scopeTable, fmt.Errorf("failed to read scope %s: %w", name, err))
	}
	return rec.toScopeInfo()
}

// WriteScopeInfo implements sync.Provider.
func (s *Store) WriteScopeInfo(ctx context.Context, t sync.Tx, info *sync.ScopeInfo) error {
	db, _, err := s.open(ctx, t)
	if err != nil {
		return err
	}

	rec, err := newScopeRecord(info)
	if err != nil {
		return err
	}

	if info.Revision == 0 {
		var count int64
		err := db.Model(&scopeRecord{}).
			Where("scope_name = ? AND peer_id = ?", info.Name, info.PeerID).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("failed to check scope %s: %w", info.Name, err)
		}
		if count > 0 {
			return fmt.Errorf("%w: scope %s already exists", sync.ErrScopeConflict, info.Name)
		}

		rec.Revision = 1
		if err := db.Create(&rec).Error; err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("%w: scope %s already exists", sync.ErrScopeConflict, info.Name)
			}
			return fmt.Errorf("failed to create scope %s: %w", info.Name, err)
		}
		info.Revision = 1
		return nil
	}

	res := db.Model(&scopeRecord{}).
		Where("scope_name = ? AND peer_id = ? AND revision = ?", info.Name, info.PeerID, info.Revision).
		Updates(map[string]interface{}{
			"scope_id":          rec.ScopeID,
			"tables_json":       rec.TablesJSON,
			"last_sync_version": rec.LastSyncVersion,
			"last_sync_at":      rec.LastSyncAt,
			"fingerprint":       rec.Fingerprint,
			"revision":          info.Revision + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update scope %s: %w", info.Name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: scope %s for peer %q moved past revision %d", sync.ErrScopeConflict, info.Name, info.PeerID, info.Revision)
	}
	info.Revision++
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

// EnsureTrackingInfrastructure implements sync.Provider. Tables that are
// already tracked are left alone.
func (s *Store) EnsureTrackingInfrastructure(ctx context.Context, t sync.Tx, tables []sync.TableSchema) error {
	db, _, err := s.open(ctx, t)
	if err != nil {
		return err
	}

	for _, stmt := range s.dialect.MetadataDDL() {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("%w: failed to create sync metadata on %s: %v", sync.ErrSchema, s.name, err)
		}
	}

	for _, table := range tables {
		tracked, err := database.TableExists(db, trackingTable(table.Name))
		if err != nil {
			return fmt.Errorf("%w: %v", sync.ErrSchema, err)
		}
		if tracked {
			continue
		}

		columns, err := s.columns(db, table)
		if err != nil {
			return err
		}
		for _, stmt := range s.dialect.TrackingDDL(table.Name, table.PrimaryKey, columns) {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("%w: failed to create tracking for %s on %s: %v", sync.ErrSchema, table.Name, s.name, err)
			}
		}

		s.logger.Info("Tracking created",
			zap.String("store", s.name),
			zap.String("table", table.Name),
			zap.Int("columns", len(columns)))
	}
	return nil
}

// Columns implements sync.Provider.
func (s *Store) Columns(ctx context.Context, t sync.Tx, table sync.TableSchema) ([]string, error) {
	db, _, err := s.open(ctx, t)
	if err != nil {
		return nil, err
	}
	return s.columns(db, table)
}

// columns returns the declared columns of table, checked against the
// database, or every column when none are declared. Key columns are always
// included.
func (s *Store) columns(db *gorm.DB, table sync.TableSchema) ([]string, error) {
	infos, err := database.GetTableColumns(db, table.Name)
	if err != nil && !strings.Contains(err.Error(), "1146") {
		return nil, fmt.Errorf("%w: %v", sync.ErrSchema, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: table %s does not exist on %s", sync.ErrSchema, table.Name, s.name)
	}

	present := make(map[string]string, len(infos))
	for _, info := range infos {
		present[strings.ToLower(info.Field)] = info.Field
	}
	lookup := func(col string) (string, error) {
		name, ok := present[strings.ToLower(col)]
		if !ok {
			return "", fmt.Errorf("%w: column %s.%s does not exist on %s", sync.ErrSchema, table.Name, col, s.name)
		}
		return name, nil
	}

	var out []string
	seen := make(map[string]bool)
	for _, col := range table.PrimaryKey {
		name, err := lookup(col)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
		seen[strings.ToLower(name)] = true
	}

	declared := table.Columns
	if len(declared) == 0 {
		declared = database.ColumnNames(infos)
	}
	for _, col := range declared {
		if seen[strings.ToLower(col)] {
			continue
		}
		name, err := lookup(col)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
		seen[strings.ToLower(name)] = true
	}
	return out, nil
}

// CurrentVersion implements sync.Provider.
func (s *Store) CurrentVersion(ctx context.Context, t sync.Tx) (int64, error) {
	db, _, err := s.open(ctx, t)
	if err != nil {
		return 0, err
	}

	var version int64
	err = db.Raw(fmt.Sprintf("SELECT value FROM %s WHERE id = 1", s.dialect.Quote(versionTable))).Scan(&version).Error
	if err != nil {
		return 0, s.notProvisioned(db, versionTable, fmt.Errorf("failed to read version of %s: %w", s.name, err))
	}
	return version, nil
}

// SelectTrackedChanges implements sync.Provider. The tracking table keeps
// the latest entry per key, so at most one entry per key is returned.
func (s *Store) SelectTrackedChanges(ctx context.Context, t sync.Tx, table sync.TableSchema, r sync.VersionRange) ([]sync.TrackedRow, error) {
	db, _, err := s.open(ctx, t)
	if err != nil {
		return nil, err
	}

	var recs []trackingRecord
	err = db.Table(trackingTable(table.Name)).
		Where("version > ? AND version <= ?", r.From, r.To).
		Order("version").
		Find(&recs).Error
	if err != nil {
		return nil, s.notProvisioned(db, trackingTable(table.Name),
			fmt.Errorf("failed to select changes of %s: %w", table.Name, err))
	}
	return toTrackedRows(table.Name, recs)
}

// SelectTrackedRows implements sync.Provider.
func (s *Store) SelectTrackedRows(ctx context.Context, t sync.Tx, table sync.TableSchema, keys []sync.Key) (map[string]sync.TrackedRow, error) {
	db, _, err := s.open(ctx, t)
	if err != nil {
		return nil, err
	}

	out := make(map[string]sync.TrackedRow, len(keys))
	keyExpr := s.dialect.JSONArray(placeholders(len(table.PrimaryKey)))

	for start := 0; start < len(keys); start += lookupChunk {
		chunk := keys[start:min(start+lookupChunk, len(keys))]

		exprs := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(table.PrimaryKey))
		for i, key := range chunk {
			if len(key) != len(table.PrimaryKey) {
				return nil, fmt.Errorf("key %s does not match primary key of %s", key, table.Name)
			}
			exprs[i] = keyExpr
			args = append(args, key...)
		}

		query := fmt.Sprintf("SELECT %s FROM %s WHERE pk_key IN (%s)",
			trackingColumns, s.dialect.Quote(trackingTable(table.Name)), strings.Join(exprs, ", "))

		var recs []trackingRecord
		if err := db.Raw(query, args...).Scan(&recs).Error; err != nil {
			return nil, s.notProvisioned(db, trackingTable(table.Name),
				fmt.Errorf("failed to select tracked rows of %s: %w", table.Name, err))
		}
		rows, err := toTrackedRows(table.Name, recs)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out[row.Key.String()] = row
		}
	}
	return out, nil
}

func toTrackedRows(table string, recs []trackingRecord) ([]sync.TrackedRow, error) {
	out := make([]sync.TrackedRow, 0, len(recs))
	for _, rec := range recs {
		row, err := rec.toTrackedRow(table)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// ApplyRowChange implements sync.Provider. Upserts go through the dialect's
// ON CONFLICT clause; the capture triggers record the result with origin.
func (s *Store) ApplyRowChange(ctx context.Context, t sync.Tx, table sync.TableSchema, change sync.TrackedRow, origin string) error {
	db, st, err := s.open(ctx, t)
	if err != nil {
		return err
	}
	if len(change.Key) != len(table.PrimaryKey) {
		return fmt.Errorf("key %s does not match primary key of %s", change.Key, table.Name)
	}
	stamp := originStamp{origin: origin}
	if origin != "" {
		stamp.at = change.UpdatedAt
	}
	if err := st.useOrigin(db, stamp); err != nil {
		return err
	}

	if change.IsDelete() {
		conds := make([]string, len(table.PrimaryKey))
		for i, col := range table.PrimaryKey {
			conds[i] = s.dialect.Quote(col) + " = ?"
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s", s.dialect.Quote(table.Name), strings.Join(conds, " AND "))
		return db.Exec(query, change.Key...).Error
	}

	values := make(map[string]interface{}, len(change.Row)+len(table.PrimaryKey))
	for col, v := range change.Row {
		values[col] = v
	}

	isKey := make(map[string]bool, len(table.PrimaryKey))
	conflictColumns := make([]clause.Column, len(table.PrimaryKey))
	for i, col := range table.PrimaryKey {
		values[col] = change.Key[i]
		isKey[strings.ToLower(col)] = true
		conflictColumns[i] = clause.Column{Name: col}
	}

	var updates []string
	for col := range values {
		if !isKey[strings.ToLower(col)] {
			updates = append(updates, col)
		}
	}
	sort.Strings(updates)

	onConflict := clause.OnConflict{Columns: conflictColumns}
	if len(updates) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns(updates)
	}
	return db.Table(table.Name).Clauses(onConflict).Create(values).Error
}

// Deprovision implements sync.Provider.
func (s *Store) Deprovision(ctx context.Context, t sync.Tx, scopeName string, tables []sync.TableSchema) error {
	db, _, err := s.open(ctx, t)
	if err != nil {
		return err
	}

	for _, table := range tables {
		for _, stmt := range s.dialect.DropTrackingDDL(table.Name) {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to drop tracking of %s: %w", table.Name, err)
			}
		}
	}

	exists, err := database.TableExists(db, scopeTable)
	if err != nil || !exists {
		return err
	}
	if err := db.Where("scope_name = ?", scopeName).Delete(&scopeRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete scope %s: %w", scopeName, err)
	}
	return nil
}
