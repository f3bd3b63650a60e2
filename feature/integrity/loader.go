package integrity

import (
	"table-sync/core/sync"
	"table-sync/core/sync/gormstore"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	service *Service
	handler *Handler
}

// NewFeature creates the integrity feature for a gorm backed store.
func NewFeature(store *gormstore.Store, setup *sync.Setup, logger *zap.Logger) *Feature {
	svc := NewService(store, setup, logger)
	return &Feature{service: svc, handler: NewHandler(svc)}
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "integrity"
}

// IsEnabled reports whether there is a store to inspect.
func (f *Feature) IsEnabled() bool {
	return f.service.store != nil && f.service.setup != nil
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}
