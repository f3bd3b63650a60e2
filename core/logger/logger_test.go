package logger

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestNew tests logger construction for the supported levels and formats.
func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		enabled zapcore.Level
		wantErr bool
	}{
		{name: "debug console", cfg: Config{Level: "debug", Format: "console"}, enabled: zapcore.DebugLevel},
		{name: "info json", cfg: Config{Level: "info", Format: "json"}, enabled: zapcore.InfoLevel},
		{name: "warn", cfg: Config{Level: "warn"}, enabled: zapcore.WarnLevel},
		{name: "invalid level", cfg: Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.enabled))
			assert.False(t, log.Core().Enabled(tt.enabled-1))
		})
	}
}

// TestNew_File tests that entries are also written to the configured file.
func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")

	log, err := New(&Config{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("Session completed", zap.String("scope", "default"))
	log.Debug("Hidden")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Session completed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "default", entry["scope"])
}

// TestWithRayID tests that the ray id from the request locals is attached.
func TestWithRayID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	app := fiber.New()
	app.Get("/with", func(c *fiber.Ctx) error {
		c.Locals("ray_id", "ray-123")
		WithRayID(base, c).Info("with")
		return nil
	})
	app.Get("/without", func(c *fiber.Ctx) error {
		WithRayID(base, c).Info("without")
		return nil
	})

	for _, path := range []string{"/with", "/without"} {
		_, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
	}

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "ray-123", entries[0].ContextMap()["ray_id"])
	assert.NotContains(t, entries[1].ContextMap(), "ray_id")
}
