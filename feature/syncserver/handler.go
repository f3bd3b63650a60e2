package syncserver

import (
	"strconv"

	"table-sync/core/logger"
	"table-sync/core/sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Routes, relative to the router the feature is loaded on.
const (
	SessionsPath = "/sync/sessions"
)

// Handler exposes an Orchestrator over HTTP.
type Handler struct {
	orch   *sync.Orchestrator
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(orch *sync.Orchestrator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orch: orch, logger: logger}
}

// RegisterRoutes registers the sync session routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group(SessionsPath)
	group.Post("/", h.HandleBegin)
	group.Post("/:id/changes", h.HandleChanges)
	group.Post("/:id/upload", h.HandleUpload)
	group.Post("/:id/apply", h.HandleApply)
	group.Get("/:id/download/:index", h.HandleDownload)
	group.Post("/:id/commit", h.HandleCommit)
	group.Delete("/:id", h.HandleAbort)
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, code := StatusFor(err)

	l := logger.WithRayID(h.logger, c).With(
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Error(err))
	if status == fiber.StatusInternalServerError {
		l.Error("Sync request failed")
	} else {
		l.Warn("Sync request rejected")
	}

	return c.Status(status).JSON(ErrorResponse{Error: err.Error(), Code: code})
}

func (h *Handler) badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg, Code: CodeInvalidRequest})
}

// HandleBegin opens a session.
// @Summary Begin Sync Session
// @Description Provisions the server scope when needed, checks the client fingerprint and opens a session.
// @Tags sync
// @Accept json
// @Produce json
// @Param request body sync.BeginRequest true "Session request"
// @Success 200 {object} sync.BeginResponse
// @Failure 400 {object} ErrorResponse "Invalid configuration"
// @Failure 409 {object} ErrorResponse "Scope modified concurrently"
// @Failure 422 {object} ErrorResponse "Schema mismatch"
// @Router /sync/sessions [post]
func (h *Handler) HandleBegin(c *fiber.Ctx) error {
	var req sync.BeginRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid session request: "+err.Error())
	}

	resp, err := h.orch.BeginSession(c.Context(), req)
	if err != nil {
		return h.fail(c, err)
	}

	logger.WithRayID(h.logger, c).Debug("Session opened",
		zap.String("session_id", resp.SessionID),
		zap.String("scope", req.ScopeName),
		zap.String("client_scope_id", req.ClientScopeID))

	return c.JSON(resp)
}

// HandleChanges computes the server delta of a session.
// @Summary Compute Server Changes
// @Description Selects the server changes the client has not seen and splits them into download batches.
// @Tags sync
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} sync.ComputeResponse
// @Failure 404 {object} ErrorResponse "Session not found"
// @Failure 408 {object} ErrorResponse "Store call timed out"
// @Router /sync/sessions/{id}/changes [post]
func (h *Handler) HandleChanges(c *fiber.Ctx) error {
	resp, err := h.orch.ComputeChanges(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

// HandleUpload stages one client batch.
// @Summary Upload Client Batch
// @Description Stages one batch of client changes. Batches may arrive in any order.
// @Tags sync
// @Accept json
// @Param id path string true "Session ID"
// @Param batch body sync.Batch true "Change batch"
// @Success 204
// @Failure 404 {object} ErrorResponse "Session not found"
// @Failure 412 {object} ErrorResponse "Corrupted batch"
// @Router /sync/sessions/{id}/upload [post]
func (h *Handler) HandleUpload(c *fiber.Ctx) error {
	var batch sync.Batch
	if err := c.BodyParser(&batch); err != nil {
		return h.badRequest(c, "invalid batch: "+err.Error())
	}

	if err := h.orch.UploadBatch(c.Context(), c.Params("id"), batch); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleApply applies the staged client changes.
// @Summary Apply Client Changes
// @Description Reassembles the staged batches, applies them with conflict resolution and prepares the download.
// @Tags sync
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} sync.ApplyResponse
// @Failure 404 {object} ErrorResponse "Session not found"
// @Failure 412 {object} ErrorResponse "Incomplete batch sequence"
// @Router /sync/sessions/{id}/apply [post]
func (h *Handler) HandleApply(c *fiber.Ctx) error {
	resp, err := h.orch.ApplyChanges(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(resp)
}

// HandleDownload returns one batch of server changes.
// @Summary Download Server Batch
// @Tags sync
// @Produce json
// @Param id path string true "Session ID"
// @Param index path int true "Batch index"
// @Success 200 {object} sync.Batch
// @Failure 404 {object} ErrorResponse "Session not found"
// @Failure 412 {object} ErrorResponse "Batch index out of range"
// @Router /sync/sessions/{id}/download/{index} [get]
func (h *Handler) HandleDownload(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil || index < 0 {
		return h.badRequest(c, "invalid batch index "+c.Params("index"))
	}

	batch, err := h.orch.DownloadBatch(c.Context(), c.Params("id"), index)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(batch)
}

// HandleCommit stores the server anchor and closes the session.
// @Summary Commit Session
// @Tags sync
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} sync.CommitResponse
// @Failure 404 {object} ErrorResponse "Session not found"
// @Failure 409 {object} ErrorResponse "Scope modified concurrently"
// @Router /sync/sessions/{id}/commit [post]
func (h *Handler) HandleCommit(c *fiber.Ctx) error {
	resp, err := h.orch.CommitSession(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(resp)
}

// HandleAbort drops a session without touching the anchor.
// @Summary Abort Session
// @Tags sync
// @Param id path string true "Session ID"
// @Success 204
// @Router /sync/sessions/{id} [delete]
func (h *Handler) HandleAbort(c *fiber.Ctx) error {
	if err := h.orch.AbortSession(c.Context(), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
