// Package syncserver exposes the server side of sync sessions over HTTP.
//
// Every route maps to one Orchestrator call. The client drives the session:
//
//   - POST   /sync/sessions                  : open a session (sync.BeginRequest)
//   - POST   /sync/sessions/:id/changes      : compute the server delta
//   - POST   /sync/sessions/:id/upload       : stage one client batch
//   - POST   /sync/sessions/:id/apply        : apply the staged upload
//   - GET    /sync/sessions/:id/download/:i  : fetch one server batch
//   - POST   /sync/sessions/:id/commit       : advance the server anchor
//   - DELETE /sync/sessions/:id              : abort
//
// # Errors
//
// Failures are returned as ErrorResponse with a stable code. StatusFor maps
// engine errors to statuses (409 scope conflict, 422 schema, 400 invalid
// configuration, 408 timeout, 412 incomplete batch, 404 unknown session) and
// SentinelFor lets clients map a code back to the engine error.
//
// # Staging
//
// Uploaded batches are held by a sync.BatchStage until apply. ObjectStage
// keeps them in object storage so large uploads do not sit in server memory.
package syncserver
