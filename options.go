package reqlayer

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/reqlayer/internal/config"
	"github.com/blueberrycongee/reqlayer/internal/csrf"
	"github.com/blueberrycongee/reqlayer/internal/httputil"
	"github.com/blueberrycongee/reqlayer/internal/interceptor"
	"github.com/blueberrycongee/reqlayer/internal/resilience"
)

// Endpoints are the server paths used by the auth and CSRF helpers.
type Endpoints struct {
	Login   string
	Verify  string
	Refresh string
	Logout  string
	CSRF    string
}

// DefaultEndpoints returns the standard endpoint paths.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:   "/api/auth/login",
		Verify:  "/api/auth/verify",
		Refresh: "/api/auth/refresh",
		Logout:  "/api/auth/logout",
		CSRF:    csrf.DefaultBootstrapPath,
	}
}

// ClientConfig holds all configuration for the Client.
type ClientConfig struct {
	// Transport
	BaseURL          string
	Timeout          time.Duration
	HTTPClient       *http.Client
	Headers          map[string]string
	MaxResponseBytes int64

	// Retry
	RetryCount          int
	RetryBackoff        time.Duration
	RetryMaxBackoff     time.Duration
	RetryJitter         float64
	AutoIdempotencyKeys bool

	// Client-side throttling. RateLimitRPS 0 disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	// CSRF
	CSRFCookie string
	CSRFHeader string
	CSRFMeta   string

	// Request shaping
	CacheBusterParam     string
	RequestInterceptors  []interceptor.RequestFunc
	ResponseInterceptors []interceptor.ResponseFunc

	Endpoints Endpoints

	// Observability
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:          30 * time.Second,
		MaxResponseBytes: httputil.DefaultMaxBodyBytes,
		RetryCount:       resilience.DefaultMaxRetries,
		RetryBackoff:     resilience.DefaultBaseDelay,
		RetryMaxBackoff:  resilience.DefaultMaxDelay,
		RetryJitter:      0,
		RateLimitBurst:   1,
		CSRFCookie:       csrf.DefaultCookieName,
		CSRFHeader:       csrf.DefaultHeaderName,
		CSRFMeta:         csrf.DefaultMetaName,
		CacheBusterParam: interceptor.DefaultCacheBusterParam,
		Endpoints:        DefaultEndpoints(),
		Logger:           slog.Default(),
	}
}

// WithBaseURL sets the URL relative request paths are resolved against.
func WithBaseURL(u string) Option {
	return func(c *ClientConfig) {
		c.BaseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-attempt transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.Timeout = d
	}
}

// WithRetry configures the retry count and base backoff.
// A request is retried at most count times, waiting min(backoff × 2^n, max).
func WithRetry(count int, backoff time.Duration) Option {
	return func(c *ClientConfig) {
		c.RetryCount = count
		c.RetryBackoff = backoff
	}
}

// WithRetryMaxBackoff caps the exponential backoff duration.
// Set to 0 to disable the cap.
func WithRetryMaxBackoff(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.RetryMaxBackoff = d
	}
}

// WithRetryJitter sets the jitter ratio (0.0 - 1.0) applied to retry backoff.
func WithRetryJitter(jitter float64) Option {
	return func(c *ClientConfig) {
		c.RetryJitter = jitter
	}
}

// WithAutoIdempotencyKeys generates an idempotency key for every mutating
// call that has none, which makes those calls eligible for retry.
func WithAutoIdempotencyKeys(enabled bool) Option {
	return func(c *ClientConfig) {
		c.AutoIdempotencyKeys = enabled
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client. A client without a
// cookie jar gets one so CSRF cookies can be read.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *ClientConfig) {
		c.HTTPClient = hc
	}
}

// WithHeader adds a default header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *ClientConfig) {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		c.Headers[key] = value
	}
}

// WithCSRF sets the cookie the token is read from and the header it is sent in.
func WithCSRF(cookie, header string) Option {
	return func(c *ClientConfig) {
		if cookie != "" {
			c.CSRFCookie = cookie
		}
		if header != "" {
			c.CSRFHeader = header
		}
	}
}

// WithCSRFMeta sets the metadata tag name scanned by LoadCSRFMeta.
func WithCSRFMeta(name string) Option {
	return func(c *ClientConfig) {
		if name != "" {
			c.CSRFMeta = name
		}
	}
}

// WithCacheBusterParam sets the query parameter appended to GET requests.
// An empty name disables cache busting.
func WithCacheBusterParam(param string) Option {
	return func(c *ClientConfig) {
		c.CacheBusterParam = param
	}
}

// WithRequestInterceptor appends a request stage after the built-in ones.
func WithRequestInterceptor(fn interceptor.RequestFunc) Option {
	return func(c *ClientConfig) {
		c.RequestInterceptors = append(c.RequestInterceptors, fn)
	}
}

// WithResponseInterceptor appends a response stage. Custom stages run after
// the envelope is decoded and before the retry decision.
func WithResponseInterceptor(fn interceptor.ResponseFunc) Option {
	return func(c *ClientConfig) {
		c.ResponseInterceptors = append(c.ResponseInterceptors, fn)
	}
}

// WithRateLimit throttles outgoing attempts to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *ClientConfig) {
		c.RateLimitRPS = rps
		c.RateLimitBurst = burst
	}
}

// WithMaxResponseBytes caps buffered response bodies. 0 disables the cap.
func WithMaxResponseBytes(n int64) Option {
	return func(c *ClientConfig) {
		c.MaxResponseBytes = n
	}
}

// WithEndpoints overrides the auth and CSRF endpoint paths. Empty fields keep
// their defaults.
func WithEndpoints(e Endpoints) Option {
	return func(c *ClientConfig) {
		if e.Login != "" {
			c.Endpoints.Login = e.Login
		}
		if e.Verify != "" {
			c.Endpoints.Verify = e.Verify
		}
		if e.Refresh != "" {
			c.Endpoints.Refresh = e.Refresh
		}
		if e.Logout != "" {
			c.Endpoints.Logout = e.Logout
		}
		if e.CSRF != "" {
			c.Endpoints.CSRF = e.CSRF
		}
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *ClientConfig) {
		c.Tracer = t
	}
}

// FromConfig applies the client, retry, CSRF, and auth sections of a loaded
// configuration file.
func FromConfig(cfg *config.Config) Option {
	return func(c *ClientConfig) {
		if cfg == nil {
			return
		}
		WithBaseURL(cfg.Client.BaseURL)(c)
		if cfg.Client.Timeout > 0 {
			c.Timeout = cfg.Client.Timeout
		}
		c.MaxResponseBytes = cfg.Client.MaxResponseBytes
		c.CacheBusterParam = cfg.Client.CacheBusterParam
		c.AutoIdempotencyKeys = cfg.Client.AutoIdempotencyKeys
		for k, v := range cfg.Client.Headers {
			WithHeader(k, v)(c)
		}
		c.RateLimitRPS = cfg.Client.RateLimit.RPS
		if cfg.Client.RateLimit.Burst > 0 {
			c.RateLimitBurst = cfg.Client.RateLimit.Burst
		}

		c.RetryCount = cfg.Retry.MaxRetries
		if cfg.Retry.BaseDelay > 0 {
			c.RetryBackoff = cfg.Retry.BaseDelay
		}
		c.RetryMaxBackoff = cfg.Retry.MaxDelay
		c.RetryJitter = cfg.Retry.Jitter

		WithCSRF(cfg.CSRF.CookieName, cfg.CSRF.HeaderName)(c)
		WithCSRFMeta(cfg.CSRF.MetaName)(c)
		WithEndpoints(Endpoints{
			Login:   cfg.Auth.LoginPath,
			Verify:  cfg.Auth.VerifyPath,
			Refresh: cfg.Auth.RefreshPath,
			Logout:  cfg.Auth.LogoutPath,
			CSRF:    cfg.CSRF.BootstrapPath,
		})(c)
	}
}
