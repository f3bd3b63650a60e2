// Package loader provides the feature loading system of the sync server.
//
// Each feature implements the Feature interface and registers its routes
// when loaded.
//
// # Feature Interface
//
//	type Feature interface {
//	    Name() string
//	    IsEnabled() bool
//	    Load(app fiber.Router) error
//	}
//
// # Manager
//
// The Manager struct holds the registry of available features. It handles:
//   - Registration of features via Register()
//   - Loading of enabled features via LoadAll()
//
// The serve command registers the 'sync' and 'integrity' features.
package loader
