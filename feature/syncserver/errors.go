package syncserver

import (
	"errors"

	"table-sync/core/sync"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the JSON body of every failed sync request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeScopeConflict    = "scope_conflict"
	CodeSchema           = "schema"
	CodeInvalidConfig    = "invalid_config"
	CodeCyclicDependency = "cyclic_dependency"
	CodeTimeout          = "timeout"
	CodeIncompleteBatch  = "incomplete_batch"
	CodeSessionNotFound  = "session_not_found"
	CodeNotProvisioned   = "not_provisioned"
	CodeInvalidRequest   = "invalid_request"
	CodeInternal         = "internal"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{sync.ErrScopeConflict, fiber.StatusConflict, CodeScopeConflict},
	{sync.ErrSchema, fiber.StatusUnprocessableEntity, CodeSchema},
	{sync.ErrCyclicDependency, fiber.StatusBadRequest, CodeCyclicDependency},
	{sync.ErrInvalidConfig, fiber.StatusBadRequest, CodeInvalidConfig},
	{sync.ErrTimeout, fiber.StatusRequestTimeout, CodeTimeout},
	{sync.ErrIncompleteBatch, fiber.StatusPreconditionFailed, CodeIncompleteBatch},
	{sync.ErrSessionNotFound, fiber.StatusNotFound, CodeSessionNotFound},
	{sync.ErrNotProvisioned, fiber.StatusNotFound, CodeNotProvisioned},
}

// StatusFor maps an engine error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return fiber.StatusInternalServerError, CodeInternal
}

// SentinelFor returns the engine error behind a code, nil when the code has none.
func SentinelFor(code string) error {
	for _, m := range errorMappings {
		if m.code == code {
			return m.err
		}
	}
	return nil
}
