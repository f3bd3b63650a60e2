// Package gormstore provides a sync.Provider for relational databases opened
// through gorm. SQLite and MySQL are supported.
//
// # Change Tracking
//
// Provisioning a table creates a companion <table>_tracking table and three
// AFTER triggers. Every insert, update or delete on the table, whoever issues
// it, bumps the store version in sync_version and upserts one tracking row:
//
//	pk_key           canonical JSON array of the primary-key values
//	kind             insert, update or delete
//	version          store version stamp of the change
//	created_version  version at which the key was inserted
//	origin           scope id of the peer the change came from, '' for local writes
//	updated_at       change time in unix milliseconds
//	payload          JSON object of the tracked columns (old values for deletes)
//
// Rows present at provisioning time are recorded as inserts. Writes made by
// ApplyRowChange carry the origin of the applied session: on SQLite through
// the sync_origin table, on MySQL through the @sync_origin session variable.
// Both are reset before the transaction ends.
//
// Scope rows live in sync_scope_info, keyed by scope name and peer scope id.
//
// # Usage Example
//
//	db, err := database.Connect(cfg.Client.Database)
//	store, err := gormstore.New("client", db, logger)
//	agent, err := sync.NewAgent(store, remote, setup, logger, opts)
package gormstore
