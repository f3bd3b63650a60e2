package storage

import "time"

// Config holds configuration for the object storage used to stage sync batches.
type Config struct {
	// Enabled switches batch staging from memory to object storage.
	Enabled bool `mapstructure:"enabled" default:"false"`
	// Endpoint is the host:port of the S3 compatible service.
	Endpoint string `mapstructure:"endpoint" default:"localhost:9000"`
	// AccessKey is the access key ID for authentication.
	AccessKey string `mapstructure:"access_key" default:"minioadmin"`
	// SecretKey is the secret access key for authentication.
	SecretKey string `mapstructure:"secret_key" default:"minioadmin"`
	// UseSSL indicates whether to use TLS.
	UseSSL bool `mapstructure:"use_ssl" default:"false"`
	// Bucket holds staged batches.
	Bucket string `mapstructure:"bucket" default:"table-sync"`
	// Prefix is prepended to every staged object name.
	Prefix string `mapstructure:"prefix" default:"batches"`
	// Region is the location of the bucket (e.g., us-east-1).
	Region string `mapstructure:"region" default:""`
	// TimeoutSeconds bounds connection setup and the first response byte.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
}

// Timeout returns the configured timeout, 30 seconds when unset.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
