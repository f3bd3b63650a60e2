// Package database handles database connections and schema inspection.
//
// It provides a wrapper around GORM to configure MySQL and SQLite connections
// from the application's configuration. Both the server store and the client
// store of a sync scope are opened through Connect.
//
// # Connect
//
// Connect selects the dialector from Config.Driver. SQLite connections are
// opened with foreign keys enabled and a busy timeout, and are limited to a
// single connection.
//
// # Schema Inspection
//
// GetTableColumns lists the columns of a table for either dialect. The sync
// store adapter uses it to build change-tracking payloads and the scope
// fingerprint, and the integrity feature uses it to check tracking tables.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
//
//	columns, err := database.GetTableColumns(db, "Customers")
package database
