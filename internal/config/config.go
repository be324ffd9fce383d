// Package config loads the ScreenDawg site settings from a YAML file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry backends.
const (
	RegistryJSON   = "json"
	RegistrySQLite = "sqlite"
)

// Blob backends.
const (
	BlobDisk = "disk"
	BlobS3   = "s3"
)

// Session backends.
const (
	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

// Config holds every setting of a running instance. It is loaded once at
// startup and handed to each component's constructor.
type Config struct {
	SiteTitle         string   `yaml:"site_title"`
	BaseURL           string   `yaml:"base_url"`
	Listen            string   `yaml:"listen"`
	MaxUploadMB       int      `yaml:"max_upload_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	SessionSecret     string   `yaml:"session_secret"`
	DataDir           string   `yaml:"data_dir"`

	Registry  RegistryConfig  `yaml:"registry"`
	Blob      BlobConfig      `yaml:"blob"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Admin     AdminConfig     `yaml:"admin"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	TLS       TLSConfig       `yaml:"tls"`

	// GeneratedSecret is set when SessionSecret was empty and a random one
	// was minted for this process.
	GeneratedSecret bool `yaml:"-"`
}

type RegistryConfig struct {
	Backend       string   `yaml:"backend"`
	Path          string   `yaml:"path"`
	PruneInterval Duration `yaml:"prune_interval"`
}

type BlobConfig struct {
	Backend string   `yaml:"backend"`
	Dir     string   `yaml:"dir"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
}

type SessionsConfig struct {
	Backend string      `yaml:"backend"`
	TTL     Duration    `yaml:"ttl"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AdminConfig seeds the admin credential on first boot. PasswordHash, when
// set, wins over Password and may be an argon2 hex hash or a bcrypt hash.
type AdminConfig struct {
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PasswordHash    string `yaml:"password_hash"`
	PageSize        int    `yaml:"page_size"`
	CredentialsPath string `yaml:"credentials_path"`
}

type RateLimitConfig struct {
	UploadsPerMinute int `yaml:"uploads_per_minute"`
	LoginsPerMinute  int `yaml:"logins_per_minute"`
	// TrustedProxies are addresses or CIDR ranges of reverse proxies whose
	// X-Forwarded-For header names the client. Empty trusts no header.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type TLSConfig struct {
	AutocertDomains []string `yaml:"autocert_domains"`
	CacheDir        string   `yaml:"cache_dir"`
	Email           string   `yaml:"email"`
}

// Duration is a time.Duration that reads "90s" / "1h" style YAML scalars.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		SiteTitle:   "ScreenDawg",
		BaseURL:     "http://localhost:3000",
		Listen:      ":3000",
		MaxUploadMB: 5,
		DataDir:     "data",
		Registry: RegistryConfig{
			Backend:       RegistryJSON,
			PruneInterval: Duration{time.Hour},
		},
		Blob: BlobConfig{
			Backend: BlobDisk,
			Dir:     "uploads",
		},
		Sessions: SessionsConfig{
			Backend: SessionsMemory,
			TTL:     Duration{24 * time.Hour},
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "changeme",
			PageSize: 20,
		},
		RateLimit: RateLimitConfig{
			UploadsPerMinute: 30,
			LoginsPerMinute:  10,
		},
	}
}

// Load reads the YAML file at path on top of Default. A missing file is not
// an error: the defaults are written to path so the operator has something
// to edit.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := cfg.write(path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Listen = ":" + port
	}
	if base := os.Getenv("SCREENDAWG_BASE_URL"); base != "" {
		c.BaseURL = base
	}
	if secret := os.Getenv("SCREENDAWG_SESSION_SECRET"); secret != "" {
		c.SessionSecret = secret
	}
}

// fillDerived computes the values that default relative to other settings.
func (c *Config) fillDerived() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.Registry.Path == "" {
		if c.Registry.Backend == RegistrySQLite {
			c.Registry.Path = filepath.Join(c.DataDir, "screendawg.db")
		} else {
			c.Registry.Path = filepath.Join(c.DataDir, "db.json")
		}
	}
	if c.Admin.CredentialsPath == "" {
		c.Admin.CredentialsPath = filepath.Join(c.DataDir, "admin.json")
	}
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = filepath.Join(c.DataDir, "certs")
	}

	normalized := make([]string, 0, len(c.AllowedExtensions))
	for _, ext := range c.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			normalized = append(normalized, ext)
		}
	}
	c.AllowedExtensions = normalized

	if c.SessionSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		c.SessionSecret = hex.EncodeToString(b)
		c.GeneratedSecret = true
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("config: max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.Admin.PageSize <= 0 {
		return fmt.Errorf("config: admin.page_size must be positive, got %d", c.Admin.PageSize)
	}
	if c.Admin.Username == "" {
		return errors.New("config: admin.username is required")
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return errors.New("config: admin.password or admin.password_hash is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: base_url %q is not an absolute URL", c.BaseURL)
	}

	switch c.Registry.Backend {
	case RegistryJSON, RegistrySQLite:
	default:
		return fmt.Errorf("config: unknown registry.backend %q", c.Registry.Backend)
	}

	switch c.Blob.Backend {
	case BlobDisk:
		if c.Blob.Dir == "" {
			return errors.New("config: blob.dir is required for the disk backend")
		}
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("config: blob.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown blob.backend %q", c.Blob.Backend)
	}

	switch c.Sessions.Backend {
	case SessionsMemory:
	case SessionsRedis:
		if c.Sessions.Redis.Addr == "" {
			return errors.New("config: sessions.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown sessions.backend %q", c.Sessions.Backend)
	}
	if c.Sessions.TTL.Duration <= 0 {
		return errors.New("config: sessions.ttl must be positive")
	}
	for _, p := range c.RateLimit.TrustedProxies {
		_, perr := netip.ParsePrefix(p)
		_, aerr := netip.ParseAddr(p)
		if perr != nil && aerr != nil {
			return fmt.Errorf("config: rate_limit.trusted_proxies entry %q is not an address or CIDR", p)
		}
	}
	return nil
}

// MaxUploadBytes is the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// ExtensionAllowed reports whether ext (with or without the leading dot) may
// be uploaded. An empty allow-list admits every extension.
func (c *Config) ExtensionAllowed(ext string) bool {
	if len(c.AllowedExtensions) == 0 {
		return true
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.AllowedExtensions {
		if allowed == ext {
			return true
		}
	}
	return false
}
