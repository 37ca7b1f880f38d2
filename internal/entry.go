// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/catnip/internal/metrics"
	"github.com/starford/catnip/internal/platform"
	"github.com/starford/catnip/internal/platform/local"
	"github.com/starford/catnip/internal/platform/supabase"
	"github.com/starford/catnip/internal/sse"
	"github.com/starford/catnip/internal/tab"
	"github.com/starford/catnip/internal/view"
	"github.com/starford/catnip/internal/web"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("platform_mode", cfg.Platform.Mode),
		slog.String("templates_dir", cfg.View.TemplatesDir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize the backend platform.
	provider, closer, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("init platform: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	m := app.metrics
	if m == nil {
		m = metrics.New()
	}

	// SSE broker and per-browser tabs.
	broker := sse.NewBroker()
	defer broker.Close()

	tabs := tab.NewRegistry(m.Instrument(provider), broker, logger, cfg.Tabs.IdleTimeout)
	defer tabs.Close()
	m.RegisterTabs(tabs.Len)

	renderer, err := view.NewRenderer(cfg.View.TemplatesDir)
	if err != nil {
		return fmt.Errorf("init templates: %w", err)
	}

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check and metrics endpoints (no tab).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Pages, forms and events.
	r.Mount("/", web.NewRouter(web.NewHandler(renderer, broker), tabs, !cfg.App.DevMode))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Expire idle tabs.
	g.Go(func() error {
		return tabs.RunCleanup(gCtx, cfg.Tabs.CleanupInterval)
	})

	// Reload templates from disk and refresh open pages.
	if renderer.Dir() != "" {
		g.Go(func() error {
			return view.Watch(gCtx, renderer, logger, tabs.ChangedAll)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Open event streams never finish on their own.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stop the cleanup worker and the template watcher.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// newProvider builds the configured platform. closer is nil when the
// platform holds no resources.
func newProvider(cfg *Config) (platform.Provider, io.Closer, error) {
	switch cfg.Platform.Mode {
	case PlatformModeLocal:
		b, err := local.New(local.Config{
			SQLitePath:      cfg.Local.SQLitePath,
			JWTSecret:       cfg.Local.JWTSecret,
			AccessTokenTTL:  cfg.Local.AccessTokenTTL,
			RefreshTokenTTL: cfg.Local.RefreshTokenTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		p, err := supabase.NewProvider(supabase.Config{
			URL:     cfg.Platform.URL,
			AnonKey: cfg.Platform.AnonKey,
			Timeout: cfg.Platform.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	}
}
