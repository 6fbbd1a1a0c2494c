package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docs?sslmode=disable")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Errorf("unexpected addrs %q %q", cfg.ListenAddr, cfg.MetricsAddr)
	}
	if cfg.StorageBackend != "local" {
		t.Errorf("expected local storage, got %q", cfg.StorageBackend)
	}
	if cfg.DefaultUserID != "test-user-001" {
		t.Errorf("unexpected default user %q", cfg.DefaultUserID)
	}
	if cfg.URLExpiry != 24*time.Hour {
		t.Errorf("unexpected URL expiry %v", cfg.URLExpiry)
	}
	if cfg.TLSEnabled() {
		t.Error("TLS should be off by default")
	}
	if cfg.AdminEnabled {
		t.Error("admin routes should be off by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/docs")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("MAX_UPLOAD_SIZE", "1024")
	t.Setenv("REQUESTS_PER_MINUTE", "30")
	t.Setenv("URL_EXPIRY", "15m")
	t.Setenv("TLS_CERT_FILE", "cert.pem")
	t.Setenv("TLS_KEY_FILE", "key.pem")
	t.Setenv("ADMIN_ENABLED", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageBackend != "s3" || !cfg.S3UseSSL {
		t.Errorf("storage overrides not applied: %+v", cfg)
	}
	if cfg.MaxUploadSize != 1024 || cfg.RequestsPerMinute != 30 {
		t.Errorf("numeric overrides not applied: %d %d", cfg.MaxUploadSize, cfg.RequestsPerMinute)
	}
	if cfg.URLExpiry != 15*time.Minute {
		t.Errorf("URL expiry = %v", cfg.URLExpiry)
	}
	if !cfg.TLSEnabled() {
		t.Error("TLS should be enabled")
	}
	if !cfg.AdminEnabled {
		t.Error("ADMIN_ENABLED=1 should mount admin routes")
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/docs")
	t.Setenv("S3_USE_SSL", "maybe")
	t.Setenv("REQUESTS_PER_MINUTE", "lots")
	t.Setenv("URL_EXPIRY", "tomorrow")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.S3UseSSL || cfg.RequestsPerMinute != 0 || cfg.URLExpiry != 24*time.Hour {
		t.Errorf("invalid values should fall back to defaults: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"DATABASE_URL": ""}},
		{"unknown backend", map[string]string{"DATABASE_URL": "postgres://db", "STORAGE_BACKEND": "ftp"}},
		{"zero upload size", map[string]string{"DATABASE_URL": "postgres://db", "MAX_UPLOAD_SIZE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
