package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Config holds configuration for the HTTP server.
type Config struct {
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey is the secret key required to access the API.
	ApiKey string `mapstructure:"api_key" default:""`
	// BodyLimitMB caps request bodies, which bounds uploaded batch size.
	BodyLimitMB int `mapstructure:"body_limit_mb" default:"16"`
	// ReadTimeoutSeconds bounds reading a full request.
	ReadTimeoutSeconds int `mapstructure:"read_timeout_seconds" default:"60"`
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// FiberConfig returns the fiber settings derived from the configuration.
func (c Config) FiberConfig() fiber.Config {
	cfg := fiber.Config{
		DisableStartupMessage: true,
	}
	if c.BodyLimitMB > 0 {
		cfg.BodyLimit = c.BodyLimitMB * 1024 * 1024
	}
	if c.ReadTimeoutSeconds > 0 {
		cfg.ReadTimeout = time.Duration(c.ReadTimeoutSeconds) * time.Second
	}
	return cfg
}
