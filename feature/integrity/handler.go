package integrity

import (
	"table-sync/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for integrity checks.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the integrity routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/integrity")
	group.Get("/tracking", h.HandleTrackingCheck)
	group.Get("/scopes", h.HandleScopes)
}

// HandleTrackingCheck checks the tracking tables of every synced table.
// @Summary Check Change Tracking
// @Description Verifies that every configured table exists, has its declared columns and a tracking entry for every live row.
// @Tags integrity
// @Produce json
// @Success 200 {object} TrackingReport "Healthy"
// @Failure 409 {object} TrackingReport "Unhealthy"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /integrity/tracking [get]
func (h *Handler) HandleTrackingCheck(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	report, err := h.service.CheckTracking(c.Context())
	if err != nil {
		l.Error("Tracking check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if !report.Healthy {
		return c.Status(fiber.StatusConflict).JSON(report)
	}
	return c.JSON(report)
}

// HandleScopes lists the scope rows of the server store.
// @Summary List Scopes
// @Description Lists the local scope row and one row per client with its last synchronized version.
// @Tags integrity
// @Produce json
// @Success 200 {array} sync.ScopeInfo
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /integrity/scopes [get]
func (h *Handler) HandleScopes(c *fiber.Ctx) error {
	scopes, err := h.service.Scopes(c.Context())
	if err != nil {
		logger.WithRayID(h.service.logger, c).Error("Scope listing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(scopes)
}
