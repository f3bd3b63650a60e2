// Package integrity provides health checks of the server store's change tracking.
//
// # Checks Provided
//
//   - Tracking: every configured table exists with its declared columns, has a
//     tracking table, and has exactly one live tracking entry per row.
//   - Scopes: lists the scope rows, one per client with its last synchronized
//     version.
//
// # HTTP Endpoints
//
//   - GET /integrity/tracking : 200 when healthy, 409 with the report otherwise.
//   - GET /integrity/scopes : scope rows.
package integrity
