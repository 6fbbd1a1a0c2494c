// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the document server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string
	ServiceName string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// TLS (optional, HTTPS when both are set)
	TLSCertFile string
	TLSKeyFile  string

	// Storage backend ("local" or "s3", default: "local")
	StorageBackend   string
	LocalStoragePath string
	URLExpiry        time.Duration

	// Uploads
	MaxUploadSize int64

	// Identity used when a request carries no X-User-Id header
	DefaultUserID string

	// Per-user request budget, 0 = unlimited
	RequestsPerMinute int

	// Mounts the /admin/* routes
	AdminEnabled bool
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		ServiceName:       envOr("SERVICE_NAME", "HealthDocumentTracker"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		DatabaseURL:       envOr("DATABASE_URL", ""),
		S3Endpoint:        envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:          envOr("S3_BUCKET", "documents"),
		S3AccessKey:       envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:       envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:          envOr("S3_REGION", "us-east-1"),
		S3UseSSL:          envBool("S3_USE_SSL", false),
		TLSCertFile:       envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:        envOr("TLS_KEY_FILE", ""),
		StorageBackend:    envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath:  envOr("LOCAL_STORAGE_PATH", "/data/documents"),
		URLExpiry:         envDuration("URL_EXPIRY", 24*time.Hour),
		MaxUploadSize:     envInt64("MAX_UPLOAD_SIZE", 50*1024*1024), // 50MB default
		DefaultUserID:     envOr("DEFAULT_USER_ID", "test-user-001"),
		RequestsPerMinute: envInt("REQUESTS_PER_MINUTE", 0),
		AdminEnabled:      envBool("ADMIN_ENABLED", false),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.StorageBackend {
	case "local", "s3":
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q (want local or s3)", cfg.StorageBackend)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}

	return cfg, nil
}

// TLSEnabled reports whether both TLS files are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
