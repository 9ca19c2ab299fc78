// Package guard decides, before each route transition, whether navigation
// may proceed or must be redirected.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/blueberrycongee/reqlayer/internal/config"
	"github.com/blueberrycongee/reqlayer/internal/metrics"
	"github.com/blueberrycongee/reqlayer/internal/session"
)

// RedirectParam carries the originally requested path to the login view.
const RedirectParam = "redirect"

// Outcome of a navigation.
type Outcome string

const (
	Allow             Outcome = "allow"
	RedirectLogin     Outcome = "redirect_login"
	RedirectForbidden Outcome = "redirect_forbidden"
)

// Session is the part of the session store the guard drives.
type Session interface {
	State() session.State
	Snapshot() session.Snapshot
	Hydrate(ctx context.Context) error
	VerifyToken(ctx context.Context) bool
	RefreshToken(ctx context.Context) bool
	NeedsRefresh(window time.Duration) bool
	HasPermission(p string) bool
}

// MetaSink receives page metadata for allowed navigations.
type MetaSink interface {
	SetTitle(title string)
	SetMeta(meta map[string]string)
}

// Navigation is a requested route transition.
type Navigation struct {
	From string
	To   string
}

// Decision is the result of Before. Redirect is set for redirect outcomes.
type Decision struct {
	Outcome  Outcome           `json:"outcome"`
	To       string            `json:"to"`
	Redirect string            `json:"redirect,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Title    string            `json:"title,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// Allowed reports whether navigation may proceed.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

// Config controls redirects and verification frequency.
type Config struct {
	LoginPath     string
	ForbiddenPath string
	TitleSuffix   string
	// VerifyTTL skips server verification while a token was verified within
	// the window. 0 verifies on every protected navigation.
	VerifyTTL time.Duration
	// RefreshWindow refreshes tokens that expire within the window.
	RefreshWindow time.Duration
	// DefaultRequiresAuth protects paths that match no route. The login and
	// forbidden pages stay reachable.
	DefaultRequiresAuth bool
}

// ConfigFromFile extracts guard settings from a loaded configuration.
func ConfigFromFile(cfg *config.Config) Config {
	return Config{
		LoginPath:     cfg.Guard.LoginPath,
		ForbiddenPath: cfg.Guard.ForbiddenPath,
		TitleSuffix:   cfg.Guard.TitleSuffix,
		VerifyTTL:     cfg.Guard.VerifyTTL,
		RefreshWindow: cfg.Auth.RefreshWindow,

		DefaultRequiresAuth: cfg.Guard.DefaultRequiresAuth,
	}
}

// Option configures a Guard.
type Option func(*Guard)

// WithRoutes sets the initial route table.
func WithRoutes(routes []Route) Option {
	return func(g *Guard) { g.SetRoutes(routes) }
}

// WithMetaSink sets where titles and metadata are applied.
func WithMetaSink(sink MetaSink) Option {
	return func(g *Guard) { g.meta = sink }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics records decisions.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Guard) { g.metrics = c }
}

// Guard runs the pre-navigation checks.
type Guard struct {
	session  Session
	cfg      Config
	routes   atomic.Pointer[table]
	verified *cache.Cache
	meta     MetaSink
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// New creates a guard bound to sess.
func New(sess Session, cfg Config, opts ...Option) *Guard {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.ForbiddenPath == "" {
		cfg.ForbiddenPath = "/403"
	}
	g := &Guard{
		session:  sess,
		cfg:      cfg,
		verified: cache.New(cfg.VerifyTTL, time.Minute),
		logger:   slog.Default(),
	}
	g.routes.Store(newTable(nil))
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetRoutes replaces the route table. Safe to call while navigations run.
func (g *Guard) SetRoutes(routes []Route) {
	g.routes.Store(newTable(routes))
}

// Before evaluates nav. It always settles to allow or redirect; a panic in a
// dependency is treated as failed verification.
func (g *Guard) Before(ctx context.Context, nav Navigation) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("navigation guard panicked", "to", nav.To, "panic", fmt.Sprint(r))
			d = g.toLogin(nav, "guard failure")
		}
		g.metrics.RecordNavigation(string(d.Outcome))
		g.logger.Debug("navigation decided",
			"from", nav.From,
			"to", nav.To,
			"outcome", d.Outcome,
			"reason", d.Reason,
		)
	}()

	route, params, _ := g.routes.Load().match(nav.To)
	if route == nil && g.cfg.DefaultRequiresAuth && !g.isGuardPage(nav.To) {
		route = &Route{Path: nav.To, RequiresAuth: true}
	}
	if route == nil || !route.RequiresAuth {
		return g.allow(nav, route, params)
	}

	if g.session.State() == session.Anonymous {
		if err := g.session.Hydrate(ctx); err != nil {
			g.logger.Warn("session hydration failed", "error", err)
		}
		if g.session.State() == session.Anonymous {
			return g.toLogin(nav, "not authenticated")
		}
	}

	if !g.verify(ctx) {
		return g.toLogin(nav, "verification failed")
	}

	if g.cfg.RefreshWindow > 0 && g.session.NeedsRefresh(g.cfg.RefreshWindow) {
		if !g.session.RefreshToken(ctx) {
			g.logger.Warn("token refresh failed, continuing with current token")
		}
	}

	for _, p := range route.Permissions {
		if !g.session.HasPermission(p) {
			return Decision{
				Outcome:  RedirectForbidden,
				To:       nav.To,
				Redirect: g.cfg.ForbiddenPath,
				Reason:   "missing permission " + p,
			}
		}
	}

	return g.allow(nav, route, params)
}

func (g *Guard) verify(ctx context.Context) bool {
	token := g.session.Snapshot().Token
	if g.cfg.VerifyTTL > 0 && token != "" {
		if _, ok := g.verified.Get(token); ok {
			return true
		}
	}
	if !g.session.VerifyToken(ctx) {
		g.verified.Flush()
		return false
	}
	if g.cfg.VerifyTTL > 0 {
		// The token may have been rotated during verification.
		if token = g.session.Snapshot().Token; token != "" {
			g.verified.Set(token, struct{}{}, cache.DefaultExpiration)
		}
	}
	return true
}

func (g *Guard) allow(nav Navigation, route *Route, params map[string]string) Decision {
	d := Decision{Outcome: Allow, To: nav.To, Params: params}
	if route == nil {
		return d
	}
	if route.Title != "" {
		d.Title = route.Title + g.cfg.TitleSuffix
	}
	if g.meta != nil {
		if d.Title != "" {
			g.meta.SetTitle(d.Title)
		}
		if len(route.Meta) > 0 {
			g.meta.SetMeta(route.Meta)
		}
	}
	return d
}

func (g *Guard) isGuardPage(to string) bool {
	segs := splitPath(to)
	for _, p := range []string{g.cfg.LoginPath, g.cfg.ForbiddenPath} {
		if p != "" && slices.Equal(segs, splitPath(p)) {
			return true
		}
	}
	return false
}

func (g *Guard) toLogin(nav Navigation, reason string) Decision {
	q := url.Values{}
	q.Set(RedirectParam, nav.To)
	return Decision{
		Outcome:  RedirectLogin,
		To:       nav.To,
		Redirect: g.cfg.LoginPath + "?" + q.Encode(),
		Reason:   reason,
	}
}
