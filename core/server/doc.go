// Package server holds the HTTP server configuration.
//
// The serve command builds the fiber application from Config: the listen
// port, the API key protecting every sync route, and the body limit and read
// timeout that bound uploaded change batches.
package server
