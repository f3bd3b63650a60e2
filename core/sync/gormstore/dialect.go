package gormstore

import (
	"fmt"
	"strings"

	"table-sync/core/database"
	"table-sync/core/sync"
)

const (
	scopeTable   = "sync_scope_info"
	versionTable = "sync_version"
	originTable  = "sync_origin"
)

// trackingColumns is the column list shared by every tracking table.
const trackingColumns = "pk_key, kind, version, created_version, origin, updated_at, payload"

// dialect renders the SQL that differs between engines. Change capture is
// done with triggers so that writes made outside the engine are tracked too.
type dialect interface {
	Name() string
	Quote(ident string) string

	// JSONArray renders the canonical key expression over exprs.
	JSONArray(exprs []string) string

	// MetadataDDL creates the scope, version and origin tables.
	MetadataDDL() []string

	// TrackingDDL creates the tracking table of table, records the rows it
	// already holds as inserts and installs the capture triggers.
	TrackingDDL(table string, pk, columns []string) []string

	// DropTrackingDDL removes the triggers and the tracking table.
	DropTrackingDDL(table string) []string

	// SetOrigin tags subsequent changes of the transaction with two
	// parameters: the origin scope id and the write time in unix
	// milliseconds, NULL to stamp the current time.
	SetOrigin() string

	// ClearOrigin resets the tag so that later writes count as local.
	ClearOrigin() string
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case database.DriverSQLite:
		return sqliteDialect{}, nil
	case database.DriverMySQL:
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

func trackingTable(table string) string {
	return table + "_tracking"
}

func triggerName(table string, kind sync.ChangeKind) string {
	return fmt.Sprintf("%s_%s_trigger", table, kind)
}

var triggerKinds = []sync.ChangeKind{sync.ChangeInsert, sync.ChangeUpdate, sync.ChangeDelete}

// refs qualifies each column with prefix, e.g. NEW."Name".
func refs(d dialect, prefix string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = prefix + d.Quote(c)
	}
	return out
}

// objectArgs renders the 'name', value pairs of a JSON object constructor.
func objectArgs(d dialect, prefix string, columns []string) string {
	pairs := make([]string, len(columns))
	for i, c := range columns {
		pairs[i] = fmt.Sprintf("'%s', %s%s", strings.ReplaceAll(c, "'", "''"), prefix, d.Quote(c))
	}
	return strings.Join(pairs, ", ")
}

func placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "?"
	}
	return out
}

func rowPrefix(kind sync.ChangeKind) string {
	if kind == sync.ChangeDelete {
		return "OLD."
	}
	return "NEW."
}

// assignments renders the update list of a tracking upsert. created_version
// only moves on insert.
func assignments(kind sync.ChangeKind, source string) string {
	cols := []string{"kind", "version", "origin", "updated_at", "payload"}
	if kind == sync.ChangeInsert {
		cols = append(cols, "created_version")
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c + " = " + fmt.Sprintf(source, c)
	}
	return strings.Join(out, ", ")
}

func triggerEvent(kind sync.ChangeKind) string {
	return strings.ToUpper(string(kind))
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return database.DriverSQLite }

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) JSONArray(exprs []string) string {
	return "json_array(" + strings.Join(exprs, ", ") + ")"
}

const sqliteNow = "CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)"

func (d sqliteDialect) MetadataDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + scopeTable + ` (
	scope_name TEXT NOT NULL,
	peer_id TEXT NOT NULL DEFAULT '',
	scope_id TEXT NOT NULL,
	tables_json TEXT NOT NULL,
	last_sync_version INTEGER NOT NULL DEFAULT 0,
	last_sync_at INTEGER NOT NULL DEFAULT 0,
	fingerprint TEXT NOT NULL DEFAULT '',
	revision INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (scope_name, peer_id)
)`,
		`CREATE TABLE IF NOT EXISTS ` + versionTable + ` (id INTEGER NOT NULL PRIMARY KEY, value INTEGER NOT NULL)`,
		`INSERT OR IGNORE INTO ` + versionTable + ` (id, value) VALUES (1, 0)`,
		`CREATE TABLE IF NOT EXISTS ` + originTable + ` (id INTEGER NOT NULL PRIMARY KEY, origin TEXT NOT NULL, updated_at INTEGER)`,
	}
}

func (d sqliteDialect) TrackingDDL(table string, pk, columns []string) []string {
	tracking := d.Quote(trackingTable(table))
	order := strings.Join(refs(d, "t.", pk), ", ")

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	pk_key TEXT NOT NULL PRIMARY KEY,
	kind TEXT NOT NULL,
	version INTEGER NOT NULL,
	created_version INTEGER NOT NULL DEFAULT 0,
	origin TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	payload TEXT NOT NULL
)`, tracking),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (version)`, d.Quote(trackingTable(table)+"_version"), tracking),
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s)
SELECT %s, 'insert', v.value + ROW_NUMBER() OVER (ORDER BY %s), v.value + ROW_NUMBER() OVER (ORDER BY %s), '', %s, json_object(%s)
FROM %s t, %s v WHERE v.id = 1`,
			tracking, trackingColumns,
			d.JSONArray(refs(d, "t.", pk)), order, order, sqliteNow, objectArgs(d, "t.", columns),
			d.Quote(table), versionTable),
		fmt.Sprintf(`UPDATE %s SET value = value + (SELECT COUNT(*) FROM %s) WHERE id = 1`, versionTable, d.Quote(table)),
	}
	for _, kind := range triggerKinds {
		stmts = append(stmts, d.trigger(table, kind, pk, columns))
	}
	return stmts
}

func (d sqliteDialect) trigger(table string, kind sync.ChangeKind, pk, columns []string) string {
	prefix := rowPrefix(kind)
	version := fmt.Sprintf("(SELECT value FROM %s WHERE id = 1)", versionTable)

	created := "0"
	if kind == sync.ChangeInsert {
		created = version
	}

	return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER %s ON %s
BEGIN
	UPDATE %s SET value = value + 1 WHERE id = 1;
	INSERT INTO %s (%s)
	VALUES (%s, '%s', %s, %s, COALESCE((SELECT origin FROM %s WHERE id = 1), ''), COALESCE((SELECT updated_at FROM %s WHERE id = 1), %s), json_object(%s))
	ON CONFLICT (pk_key) DO UPDATE SET %s;
END`,
		d.Quote(triggerName(table, kind)), triggerEvent(kind), d.Quote(table),
		versionTable,
		d.Quote(trackingTable(table)), trackingColumns,
		d.JSONArray(refs(d, prefix, pk)), kind, version, created, originTable, originTable, sqliteNow, objectArgs(d, prefix, columns),
		assignments(kind, "excluded.%s"))
}

func (d sqliteDialect) DropTrackingDDL(table string) []string {
	stmts := make([]string, 0, len(triggerKinds)+1)
	for _, kind := range triggerKinds {
		stmts = append(stmts, "DROP TRIGGER IF EXISTS "+d.Quote(triggerName(table, kind)))
	}
	return append(stmts, "DROP TABLE IF EXISTS "+d.Quote(trackingTable(table)))
}

func (sqliteDialect) SetOrigin() string {
	return `INSERT OR REPLACE INTO ` + originTable + ` (id, origin, updated_at) VALUES (1, ?, ?)`
}

func (sqliteDialect) ClearOrigin() string {
	return `DELETE FROM ` + originTable
}

// mysqlDialect keeps the origin and write time in session variables. DDL statements
// commit implicitly on MySQL, so provisioning is not atomic there.
type mysqlDialect struct{}

func (mysqlDialect) Name() string { return database.DriverMySQL }

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) JSONArray(exprs []string) string {
	return "CAST(JSON_ARRAY(" + strings.Join(exprs, ", ") + ") AS CHAR)"
}

const mysqlNow = "ROUND(UNIX_TIMESTAMP(NOW(3)) * 1000)"

func (d mysqlDialect) MetadataDDL() []string {
	return []string{
		"CREATE TABLE IF NOT EXISTS " + d.Quote(scopeTable) + ` (
	scope_name VARCHAR(191) NOT NULL,
	peer_id VARCHAR(64) NOT NULL DEFAULT '',
	scope_id VARCHAR(64) NOT NULL,
	tables_json TEXT NOT NULL,
	last_sync_version BIGINT NOT NULL DEFAULT 0,
	last_sync_at BIGINT NOT NULL DEFAULT 0,
	fingerprint VARCHAR(64) NOT NULL DEFAULT '',
	revision BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (scope_name, peer_id)
)`,
		"CREATE TABLE IF NOT EXISTS " + d.Quote(versionTable) + " (id INT NOT NULL PRIMARY KEY, value BIGINT NOT NULL)",
		"INSERT IGNORE INTO " + d.Quote(versionTable) + " (id, value) VALUES (1, 0)",
	}
}

func (d mysqlDialect) TrackingDDL(table string, pk, columns []string) []string {
	tracking := d.Quote(trackingTable(table))
	order := strings.Join(refs(d, "t.", pk), ", ")

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	pk_key VARCHAR(255) NOT NULL PRIMARY KEY,
	kind VARCHAR(8) NOT NULL,
	version BIGINT NOT NULL,
	created_version BIGINT NOT NULL DEFAULT 0,
	origin VARCHAR(64) NOT NULL DEFAULT '',
	updated_at BIGINT NOT NULL,
	payload JSON NOT NULL,
	INDEX %s (version)
)`, tracking, d.Quote(trackingTable(table)+"_version")),
		fmt.Sprintf(`INSERT IGNORE INTO %s (%s)
SELECT %s, 'insert', v.value + ROW_NUMBER() OVER (ORDER BY %s), v.value + ROW_NUMBER() OVER (ORDER BY %s), '', %s, JSON_OBJECT(%s)
FROM %s t CROSS JOIN %s v WHERE v.id = 1`,
			tracking, trackingColumns,
			d.JSONArray(refs(d, "t.", pk)), order, order, mysqlNow, objectArgs(d, "t.", columns),
			d.Quote(table), d.Quote(versionTable)),
		fmt.Sprintf(`UPDATE %s SET value = value + (SELECT COUNT(*) FROM %s) WHERE id = 1`, d.Quote(versionTable), d.Quote(table)),
	}
	for _, kind := range triggerKinds {
		stmts = append(stmts,
			"DROP TRIGGER IF EXISTS "+d.Quote(triggerName(table, kind)),
			d.trigger(table, kind, pk, columns))
	}
	return stmts
}

func (d mysqlDialect) trigger(table string, kind sync.ChangeKind, pk, columns []string) string {
	prefix := rowPrefix(kind)

	created := "0"
	if kind == sync.ChangeInsert {
		created = "@sync_version"
	}

	return fmt.Sprintf(`CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW
BEGIN
	UPDATE %s SET value = value + 1 WHERE id = 1;
	SET @sync_version = (SELECT value FROM %s WHERE id = 1);
	INSERT INTO %s (%s)
	VALUES (%s, '%s', @sync_version, %s, COALESCE(@sync_origin, ''), COALESCE(@sync_updated_at, %s), JSON_OBJECT(%s))
	ON DUPLICATE KEY UPDATE %s;
END`,
		d.Quote(triggerName(table, kind)), triggerEvent(kind), d.Quote(table),
		d.Quote(versionTable),
		d.Quote(versionTable),
		d.Quote(trackingTable(table)), trackingColumns,
		d.JSONArray(refs(d, prefix, pk)), kind, created, mysqlNow, objectArgs(d, prefix, columns),
		assignments(kind, "VALUES(%s)"))
}

func (d mysqlDialect) DropTrackingDDL(table string) []string {
	stmts := make([]string, 0, len(triggerKinds)+1)
	for _, kind := range triggerKinds {
		stmts = append(stmts, "DROP TRIGGER IF EXISTS "+d.Quote(triggerName(table, kind)))
	}
	return append(stmts, "DROP TABLE IF EXISTS "+d.Quote(trackingTable(table)))
}

func (mysqlDialect) SetOrigin() string {
	return "SET @sync_origin = ?, @sync_updated_at = ?"
}

func (mysqlDialect) ClearOrigin() string {
	return "SET @sync_origin = NULL, @sync_updated_at = NULL"
}
