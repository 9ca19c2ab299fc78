package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/reqlayer"
	"github.com/blueberrycongee/reqlayer/internal/config"
	"github.com/blueberrycongee/reqlayer/internal/guard"
	"github.com/blueberrycongee/reqlayer/internal/metrics"
	"github.com/blueberrycongee/reqlayer/internal/session"
	"github.com/blueberrycongee/reqlayer/internal/storage"
	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// app wires the client, session store and guard for one configuration.
type app struct {
	client  *reqlayer.Client
	store   storage.Storage
	session *session.Store
	guard   *guard.Guard
	logger  *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...reqlayer.Option) (*app, error) {
	collector := metrics.NewCollector()

	store, err := storage.Open(ctx, cfg.Storage, collector)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	clientOpts := append([]reqlayer.Option{
		reqlayer.FromConfig(cfg),
		reqlayer.WithLogger(logger),
	}, opts...)
	client, err := reqlayer.New(clientOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	sess := session.New(client, client, store,
		session.WithLogger(logger),
		session.WithMetrics(collector),
	)
	g := guard.New(sess, guard.ConfigFromFile(cfg),
		guard.WithRoutes(guard.RoutesFromConfig(cfg.Routes)),
		guard.WithLogger(logger),
		guard.WithMetrics(collector),
	)

	return &app{
		client:  client,
		store:   store,
		session: sess,
		guard:   g,
		logger:  logger,
	}, nil
}

// start bootstraps CSRF when configured, restores any persisted session and
// logs in when credentials are given.
func (a *app) start(ctx context.Context, cfg *config.Config, creds *types.Credentials) error {
	if cfg.CSRF.Bootstrap {
		if _, err := a.client.BootstrapCSRF(ctx); err != nil {
			a.logger.Warn("csrf bootstrap failed", "error", err)
		}
	}
	if err := a.session.Hydrate(ctx); err != nil {
		a.logger.Warn("session hydration incomplete", "error", err)
	}
	if creds != nil && !a.session.Login(ctx, *creds) {
		return fmt.Errorf("login failed: %s", a.session.Snapshot().LastError)
	}
	return nil
}

// applyConfig is registered with the config manager; only the route table is
// swapped at runtime.
func (a *app) applyConfig(cfg *config.Config) {
	a.guard.SetRoutes(guard.RoutesFromConfig(cfg.Routes))
	a.logger.Info("routes reloaded", "count", len(cfg.Routes))
}

// navigate evaluates each route in order and writes one JSON decision per
// line to w.
func (a *app) navigate(ctx context.Context, routes []string, w io.Writer) error {
	enc := json.NewEncoder(w)
	from := "/"
	for _, to := range routes {
		d := a.guard.Before(ctx, guard.Navigation{From: from, To: to})
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("write decision: %w", err)
		}
		if d.Allowed() {
			from = to
		}
	}
	return nil
}

func (a *app) close() {
	_ = a.session.Close()
	_ = a.client.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("storage close failed", "error", err)
	}
}
