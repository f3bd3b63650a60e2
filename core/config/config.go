package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"table-sync/core/database"
	"table-sync/core/logger"
	"table-sync/core/server"
	"table-sync/core/storage"
	"table-sync/core/sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// Server holds configuration for the HTTP server.
	Server server.Config `mapstructure:"server"`
	// Storage holds configuration for the object storage staging batches.
	Storage storage.Config `mapstructure:"storage"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the server store.
	Database database.Config `mapstructure:"database"`
	// Client holds configuration for the client side of a sync.
	Client ClientConfig `mapstructure:"client"`
	// Sync holds the scope and session settings shared by both sides.
	Sync SyncConfig `mapstructure:"sync"`
}

// ClientConfig holds configuration for the sync command.
type ClientConfig struct {
	// Database is the client store.
	Database database.Config `mapstructure:"database"`
	// ServerURL is the base URL of the sync server.
	ServerURL string `mapstructure:"server_url" default:"http://localhost:8080"`
	// ApiKey is sent as X-API-Key to the server.
	ApiKey string `mapstructure:"api_key" default:""`
	// TimeoutSeconds bounds a single HTTP request.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"60"`
}

// Timeout returns the request timeout.
func (c ClientConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, 60)
}

// SyncConfig holds the scope and session settings.
type SyncConfig struct {
	// ScopeName is the scope synchronized by default.
	ScopeName string `mapstructure:"scope_name" default:"default"`
	// BatchSize bounds rows per batch and per apply transaction.
	BatchSize int `mapstructure:"batch_size" default:"500"`
	// StoreTimeoutSeconds bounds every store call.
	StoreTimeoutSeconds int `mapstructure:"store_timeout_seconds" default:"30"`
	// MaxAttempts bounds retries of retryable session failures.
	MaxAttempts int `mapstructure:"max_attempts" default:"3"`
	// RetryDelayMs is the pause between attempts.
	RetryDelayMs int `mapstructure:"retry_delay_ms" default:"500"`
	// SessionTTLSeconds expires idle server sessions.
	SessionTTLSeconds int `mapstructure:"session_ttl_seconds" default:"1800"`
	// ConflictPolicy is remote_wins, local_wins, last_write_wins or merge.
	ConflictPolicy string `mapstructure:"conflict_policy" default:""`
	// Tables lists the synchronized tables. Only settable from config.yaml.
	Tables []sync.TableSchema `mapstructure:"tables"`
}

// StoreTimeout returns the store call timeout.
func (c SyncConfig) StoreTimeout() time.Duration {
	return seconds(c.StoreTimeoutSeconds, 30)
}

// RetryDelay returns the pause between attempts.
func (c SyncConfig) RetryDelay() time.Duration {
	if c.RetryDelayMs < 0 {
		return 0
	}
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// SessionTTL returns the idle session lifetime.
func (c SyncConfig) SessionTTL() time.Duration {
	return seconds(c.SessionTTLSeconds, 1800)
}

// Setup validates the configured tables.
func (c SyncConfig) Setup() (*sync.Setup, error) {
	return sync.NewSetup(c.Tables...)
}

// Policy returns the configured conflict policy. Merge needs a merge
// function and cannot be configured from a file.
func (c SyncConfig) Policy() (sync.ConflictPolicy, error) {
	if c.ConflictPolicy == "" {
		return sync.ConflictPolicy{}, fmt.Errorf("%w: sync.conflict_policy is not set", sync.ErrInvalidConfig)
	}
	kind, err := sync.ParsePolicyKind(c.ConflictPolicy)
	if err != nil {
		return sync.ConflictPolicy{}, err
	}
	policy := sync.ConflictPolicy{Kind: kind}
	if err := policy.Validate(); err != nil {
		return sync.ConflictPolicy{}, err
	}
	return policy, nil
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// LoadConfig loads configuration from config.yaml, environment variables and
// the .env file found in path. Environment variables win over the file.
func LoadConfig(path string) (*Config, error) {
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Recursively parse struct tags to set default values
	bindValues(v, Config{}, "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Map environment variables to nested keys (e.g. SYNC_BATCH_SIZE -> sync.batch_size)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// bindValues uses reflection to iterate over the struct and set default values in Viper
// based on the 'default' and 'mapstructure' tags.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	// If it's a pointer, get the element
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")

		// Skip if no tag
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		switch field.Type.Kind() {
		case reflect.Struct:
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		case reflect.Slice:
			// Structured lists come from the config file only
			continue
		}

		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
