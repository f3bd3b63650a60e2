// Package config provides configuration management for table-sync.
//
// It utilizes Viper for loading configuration from an optional config.yaml,
// environment variables and a .env file.
//
// # Configuration Structure
//
//   - Server: HTTP server settings (port, API key, body limit)
//   - Database: the server store (MySQL or SQLite)
//   - Client: the client store and the sync server URL
//   - Storage: S3/MinIO settings for batch staging
//   - Log: logging level, format and file
//   - Sync: scope name, batch size, timeouts, retries, conflict policy and tables
//
// Scalar keys can be set from the environment as SECTION_KEY, for example
// SYNC_BATCH_SIZE or CLIENT_DATABASE_NAME. The table list, with its foreign
// keys, is structured and only read from config.yaml:
//
//	sync:
//	  conflict_policy: last_write_wins
//	  tables:
//	    - name: Customers
//	      primary_key: [CustomerID]
//	    - name: ServiceTickets
//	      primary_key: [ServiceTicketID]
//	      foreign_keys:
//	        - {column: CustomerID, table: Customers, referenced_column: CustomerID}
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	setup, err := cfg.Sync.Setup()
package config
