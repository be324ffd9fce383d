package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SiteTitle != "ScreenDawg" {
		t.Errorf("SiteTitle = %q, want %q", cfg.SiteTitle, "ScreenDawg")
	}
	if cfg.MaxUploadMB != 5 {
		t.Errorf("MaxUploadMB = %d, want 5", cfg.MaxUploadMB)
	}
	if cfg.Registry.Path != filepath.Join("data", "db.json") {
		t.Errorf("Registry.Path = %q", cfg.Registry.Path)
	}
	if !cfg.GeneratedSecret || len(cfg.SessionSecret) != 64 {
		t.Errorf("expected a generated 64-char session secret, got %q", cfg.SessionSecret)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config was not written: %v", err)
	}

	// The written file must load back cleanly.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload written defaults: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
site_title: Dawg Pics
base_url: https://i.example.com/
max_upload_mb: 12
allowed_extensions: [".PNG", "jpg", " gif "]
session_secret: s3cret
registry:
  backend: sqlite
  prune_interval: 15m
sessions:
  ttl: 2h
admin:
  username: root
  password: hunter22!
  page_size: 50
`
	if err := os.WriteFile(path, []byte(yml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://i.example.com" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", cfg.BaseURL)
	}
	if cfg.MaxUploadBytes() != 12<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes())
	}
	if got := strings.Join(cfg.AllowedExtensions, ","); got != "png,jpg,gif" {
		t.Errorf("AllowedExtensions = %q", got)
	}
	if cfg.Registry.Path != filepath.Join("data", "screendawg.db") {
		t.Errorf("Registry.Path = %q", cfg.Registry.Path)
	}
	if cfg.Registry.PruneInterval.Duration != 15*time.Minute {
		t.Errorf("PruneInterval = %v", cfg.Registry.PruneInterval)
	}
	if cfg.Sessions.TTL.Duration != 2*time.Hour {
		t.Errorf("Sessions.TTL = %v", cfg.Sessions.TTL)
	}
	if cfg.GeneratedSecret {
		t.Error("configured secret should not be replaced")
	}
	// Values absent from the file keep their defaults.
	if cfg.Blob.Backend != BlobDisk || cfg.Blob.Dir != "uploads" {
		t.Errorf("Blob = %+v, want disk defaults", cfg.Blob)
	}
	if cfg.Admin.PageSize != 50 || cfg.Admin.Username != "root" {
		t.Errorf("Admin = %+v", cfg.Admin)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8099")
	t.Setenv("SCREENDAWG_BASE_URL", "https://env.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8099" {
		t.Errorf("Listen = %q, want :8099", cfg.Listen)
	}
	if cfg.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero upload size", func(c *Config) { c.MaxUploadMB = 0 }, "max_upload_mb"},
		{"bad base url", func(c *Config) { c.BaseURL = "not a url" }, "base_url"},
		{"unknown registry", func(c *Config) { c.Registry.Backend = "bolt" }, "registry.backend"},
		{"s3 without bucket", func(c *Config) { c.Blob.Backend = BlobS3 }, "blob.s3.bucket"},
		{"redis without addr", func(c *Config) { c.Sessions.Backend = SessionsRedis }, "sessions.redis.addr"},
		{"no admin password", func(c *Config) { c.Admin.Password = "" }, "admin.password"},
		{"zero page size", func(c *Config) { c.Admin.PageSize = 0 }, "page_size"},
		{"bad trusted proxy", func(c *Config) { c.RateLimit.TrustedProxies = []string{"lb.internal"} }, "trusted_proxies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestExtensionAllowed(t *testing.T) {
	cfg := Default()
	if !cfg.ExtensionAllowed(".webp") {
		t.Error("empty allow-list should admit everything")
	}

	cfg.AllowedExtensions = []string{"png", "jpg"}
	if !cfg.ExtensionAllowed(".PNG") {
		t.Error(".PNG should be allowed")
	}
	if !cfg.ExtensionAllowed("jpg") {
		t.Error("jpg should be allowed")
	}
	if cfg.ExtensionAllowed(".gif") {
		t.Error(".gif should be rejected")
	}
}
