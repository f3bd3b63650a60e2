package gormstore

import (
	"context"
	"regexp"
	"testing"

	"table-sync/core/sync"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return gormDB, mock
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock := setupMockDB(t)
	store, err := New("central", db, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "mysql", store.Dialect())
	return store, mock
}

var scopeColumns = []string{"scope_name", "peer_id", "scope_id", "tables_json", "last_sync_version", "last_sync_at", "fingerprint", "revision"}

// TestMySQL_ReadScopeInfo tests reading scope rows through the MySQL dialect.
func TestMySQL_ReadScopeInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT \\* FROM `sync_scope_info` WHERE scope_name = \\? AND peer_id = \\?").
			WillReturnRows(sqlmock.NewRows(scopeColumns).
				AddRow("default", "client-1", "server-1", `["Customers","ServiceTickets"]`, 12, 1700000000000, "abc", 3))
		mock.ExpectRollback()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		info, err := store.ReadScopeInfo(ctx, tx, "default", "client-1")
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		assert.Equal(t, "server-1", info.ID)
		assert.Equal(t, []string{"Customers", "ServiceTickets"}, info.Tables)
		assert.Equal(t, int64(12), info.LastSyncVersion)
		assert.Equal(t, int64(1700000000000), info.LastSync.UnixMilli())
		assert.Equal(t, int64(3), info.Revision)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT \\* FROM `sync_scope_info`").
			WillReturnRows(sqlmock.NewRows(scopeColumns))
		mock.ExpectRollback()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = store.ReadScopeInfo(ctx, tx, "default", "client-2")
		assert.ErrorIs(t, err, sync.ErrNotProvisioned)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestMySQL_WriteScopeInfoConflict tests that a lost compare-and-swap is a scope conflict.
func TestMySQL_WriteScopeInfoConflict(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `sync_scope_info` SET .* WHERE scope_name = \\? AND peer_id = \\? AND revision = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	info := &sync.ScopeInfo{ID: "server-1", Name: "default", PeerID: "client-1", Tables: []string{"Customers"}, Revision: 3}
	err = store.WriteScopeInfo(ctx, tx, info)
	assert.ErrorIs(t, err, sync.ErrScopeConflict)
	assert.Equal(t, int64(3), info.Revision)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestMySQL_ApplyRowChange tests the upsert and delete statements and the origin session variables.
func TestMySQL_ApplyRowChange(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET @sync_origin = ?, @sync_updated_at = ?")).
		WithArgs("client-1", int64(1700000000000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `Customers` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET @sync_origin = ?, @sync_updated_at = ?")).
		WithArgs("client-1", nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `ServiceTickets` WHERE `ServiceTicketID` = ?")).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET @sync_origin = NULL, @sync_updated_at = NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	err = store.ApplyRowChange(ctx, tx, customers, sync.TrackedRow{
		Table:     "Customers",
		Key:       sync.Key{int64(1)},
		Kind:      sync.ChangeUpdate,
		UpdatedAt: 1700000000000,
		Row:       sync.Row{"CustomerID": int64(1), "FirstName": "John", "LastName": "Doe"},
	}, "client-1")
	require.NoError(t, err)

	err = store.ApplyRowChange(ctx, tx, serviceTickets, sync.TrackedRow{
		Table: "ServiceTickets",
		Key:   sync.Key{int64(4)},
		Kind:  sync.ChangeDelete,
	}, "client-1")
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestMySQL_Deprovision tests that triggers, tracking tables and scope rows are dropped.
func TestMySQL_Deprovision(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	for _, stmt := range (mysqlDialect{}).DropTrackingDDL("Customers") {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	rows := sqlmock.NewRows([]string{"Field", "Type", "Null", "Key", "Default", "Extra"})
	rows.AddRow("scope_name", "varchar(191)", "NO", "PRI", nil, "")
	mock.ExpectQuery("SHOW COLUMNS FROM `sync_scope_info`").WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM `sync_scope_info` WHERE scope_name = \\?").
		WithArgs("default").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := sync.WithTx(ctx, store, 0, func(tx sync.Tx) error {
		return store.Deprovision(ctx, tx, "default", []sync.TableSchema{customers})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
