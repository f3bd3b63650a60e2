package integrity

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"table-sync/core/database"
	"table-sync/core/sync"
	"table-sync/core/sync/gormstore"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var customers = sync.TableSchema{
	Name:       "Customers",
	PrimaryKey: []string{"CustomerID"},
	Columns:    []string{"CustomerID", "FirstName"},
}

func setupTestApp(t *testing.T) (*fiber.App, *gormstore.Store) {
	t.Helper()

	db, err := database.Connect(database.Config{
		Driver: database.DriverSQLite,
		Name:   filepath.Join(t.TempDir(), "server.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, db.Exec(`CREATE TABLE "Customers" ("CustomerID" INTEGER PRIMARY KEY, "FirstName" TEXT)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO "Customers" VALUES (1, 'John'), (2, 'Jane')`).Error)

	store, err := gormstore.New("server", db, zap.NewNop())
	require.NoError(t, err)
	setup, err := sync.NewSetup(customers)
	require.NoError(t, err)

	feature := NewFeature(store, setup, zap.NewNop())
	assert.Equal(t, "integrity", feature.Name())
	assert.True(t, feature.IsEnabled())

	app := fiber.New()
	require.NoError(t, feature.Load(app))
	return app, store
}

func getReport(t *testing.T, app *fiber.App) (int, TrackingReport) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", "/integrity/tracking", nil), -1)
	require.NoError(t, err)

	var report TrackingReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	return resp.StatusCode, report
}

// TestHandleTrackingCheck tests the report before provisioning, after, and after tracking loss.
func TestHandleTrackingCheck(t *testing.T) {
	app, store := setupTestApp(t)

	status, report := getReport(t, app)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Errors, "table Customers is not tracked")

	_, err := sync.NewScopeManager(store, zap.NewNop(), 0).Provision(context.Background(), "default", []sync.TableSchema{customers})
	require.NoError(t, err)

	status, report = getReport(t, app)
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, report.Healthy)
	require.Len(t, report.Tables, 1)
	assert.Equal(t, int64(2), report.Tables[0].Rows)
	assert.Equal(t, int64(2), report.Tables[0].Entries)

	require.NoError(t, store.DB().Exec(`DELETE FROM "Customers_tracking"`).Error)

	status, report = getReport(t, app)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, []string{"table Customers has 2 rows but 0 live tracking entries"}, report.Errors)
}

// TestHandleScopes tests the scope listing.
func TestHandleScopes(t *testing.T) {
	app, store := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/integrity/scopes", nil), -1)
	require.NoError(t, err)
	var scopes []sync.ScopeInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scopes))
	assert.Empty(t, scopes)

	_, err = sync.NewScopeManager(store, zap.NewNop(), 0).Provision(context.Background(), "default", []sync.TableSchema{customers})
	require.NoError(t, err)

	resp, err = app.Test(httptest.NewRequest("GET", "/integrity/scopes", nil), -1)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scopes))
	require.Len(t, scopes, 1)
	assert.Equal(t, "default", scopes[0].Name)
	assert.Empty(t, scopes[0].PeerID)
	assert.Equal(t, []string{"Customers"}, scopes[0].Tables)
}
