// Package main is the reqlayer command. It loads a configuration, restores
// or creates a session against the configured backend and evaluates
// navigations through the guard.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/reqlayer"
	"github.com/blueberrycongee/reqlayer/internal/config"
	"github.com/blueberrycongee/reqlayer/internal/observability"
	"github.com/blueberrycongee/reqlayer/pkg/types"
)

type routeList []string

func (r *routeList) String() string { return strings.Join(*r, ",") }

func (r *routeList) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	configPath := flag.String("config", "config/reqlayer.yaml", "path to configuration file")
	username := flag.String("username", "", "log in as this user")
	passwordEnv := flag.String("password-env", "REQLAYER_PASSWORD", "environment variable holding the password")
	watch := flag.Bool("watch", false, "keep running, reload routes on config change and serve metrics")
	var routes routeList
	flag.Var(&routes, "route", "navigation target to evaluate (repeatable)")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	cfgManager, err := config.NewManager(*configPath, bootLogger)
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	defer cfgManager.Close()
	cfg := cfgManager.Get()

	// Initialize structured logger
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		JSONFormat: cfg.Logging.Format != "text",
	}, observability.NewRedactor()).Slog()
	slog.SetDefault(logger)
	logger.Info("starting reqlayer", "version", reqlayer.Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	a, err := newApp(ctx, cfg, logger, reqlayer.WithTracer(tp.Tracer()))
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.close()

	var creds *types.Credentials
	if *username != "" {
		creds = &types.Credentials{Username: *username, Password: os.Getenv(*passwordEnv)}
	}
	if err := a.start(ctx, cfg, creds); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if err := a.navigate(ctx, routes, os.Stdout); err != nil {
		logger.Error("navigation failed", "error", err)
		os.Exit(1)
	}

	if !*watch {
		return
	}

	cfgManager.OnChange(a.applyConfig)
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	var server *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
		server = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}
	logger.Info("stopped")
}
