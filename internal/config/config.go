// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete request layer configuration.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Retry   RetryConfig   `yaml:"retry"`
	CSRF    CSRFConfig    `yaml:"csrf"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Guard   GuardConfig   `yaml:"guard"`
	Routes  []RouteConfig `yaml:"routes"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ClientConfig contains transport settings of the HTTP client.
type ClientConfig struct {
	BaseURL             string            `yaml:"base_url"`
	Timeout             time.Duration     `yaml:"timeout"`
	MaxResponseBytes    int64             `yaml:"max_response_bytes"`
	CacheBusterParam    string            `yaml:"cache_buster_param"`
	AutoIdempotencyKeys bool              `yaml:"auto_idempotency_keys"`
	Headers             map[string]string `yaml:"headers"`
	RateLimit           RateLimitConfig   `yaml:"rate_limit"`
}

// RateLimitConfig throttles outgoing attempts. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RetryConfig contains the automatic retry policy.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     float64       `yaml:"jitter"`
}

// CSRFConfig names the token cookie, header, and metadata tag.
type CSRFConfig struct {
	CookieName    string `yaml:"cookie_name"`
	HeaderName    string `yaml:"header_name"`
	MetaName      string `yaml:"meta_name"`
	Bootstrap     bool   `yaml:"bootstrap"`
	BootstrapPath string `yaml:"bootstrap_path"`
}

// AuthConfig contains the authentication endpoints.
type AuthConfig struct {
	LoginPath     string        `yaml:"login_path"`
	VerifyPath    string        `yaml:"verify_path"`
	RefreshPath   string        `yaml:"refresh_path"`
	LogoutPath    string        `yaml:"logout_path"`
	RefreshWindow time.Duration `yaml:"refresh_window"`
}

// StorageConfig selects where session keys are persisted.
type StorageConfig struct {
	Type     string         `yaml:"type"` // memory, file, redis, postgres
	Prefix   string         `yaml:"prefix"`
	File     FileStorage    `yaml:"file"`
	Redis    RedisStorage   `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// FileStorage stores one file per key under Dir.
type FileStorage struct {
	Dir string `yaml:"dir"`
}

// RedisStorage contains Redis connection settings.
type RedisStorage struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// PostgresConfig contains the key/value table settings.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// GuardConfig contains navigation guard settings.
type GuardConfig struct {
	LoginPath     string        `yaml:"login_path"`
	ForbiddenPath string        `yaml:"forbidden_path"`
	TitleSuffix   string        `yaml:"title_suffix"`
	VerifyTTL     time.Duration `yaml:"verify_ttl"`
	// DefaultRequiresAuth protects navigations that match no declared route.
	DefaultRequiresAuth bool `yaml:"default_requires_auth"`
}

// RouteConfig declares one navigable route.
type RouteConfig struct {
	Path         string            `yaml:"path"`
	Title        string            `yaml:"title"`
	RequiresAuth bool              `yaml:"requires_auth"`
	Permissions  []string          `yaml:"permissions"`
	Meta         map[string]string `yaml:"meta"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout:          30 * time.Second,
			MaxResponseBytes: 10 * 1024 * 1024,
			CacheBusterParam: "_t",
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   10 * time.Second,
		},
		CSRF: CSRFConfig{
			CookieName:    "csrf_token",
			HeaderName:    "X-CSRFToken",
			MetaName:      "csrf-token",
			BootstrapPath: "/api/csrf-token",
		},
		Auth: AuthConfig{
			LoginPath:     "/api/auth/login",
			VerifyPath:    "/api/auth/verify",
			RefreshPath:   "/api/auth/refresh",
			LogoutPath:    "/api/auth/logout",
			RefreshWindow: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Type:   "memory",
			Prefix: "reqlayer:",
			Postgres: PostgresConfig{
				Table:        "reqlayer_session",
				MaxOpenConns: 5,
				MaxIdleConns: 2,
			},
		},
		Guard: GuardConfig{
			LoginPath:     "/login",
			ForbiddenPath: "/403",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "reqlayer",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Client.BaseURL != "" {
		u, err := url.Parse(c.Client.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("client.base_url %q must be an absolute URL", c.Client.BaseURL)
		}
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout cannot be negative")
	}
	if c.Client.RateLimit.RPS < 0 {
		return fmt.Errorf("client.rate_limit.rps cannot be negative")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be between 0 and 1, got %v", c.Retry.Jitter)
	}

	if c.Auth.RefreshWindow < 0 {
		return fmt.Errorf("auth.refresh_window cannot be negative")
	}

	switch strings.ToLower(c.Storage.Type) {
	case "", "memory":
	case "file":
		if c.Storage.File.Dir == "" {
			return fmt.Errorf("storage.file.dir is required for file storage")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for redis storage")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}

	if c.Guard.VerifyTTL < 0 {
		return fmt.Errorf("guard.verify_ttl cannot be negative")
	}
	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("routes[%d]: path %q must start with /", i, r.Path)
		}
		if seen[r.Path] {
			return fmt.Errorf("routes[%d]: duplicate path %q", i, r.Path)
		}
		seen[r.Path] = true
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}
