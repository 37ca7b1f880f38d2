package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/catnip/internal/mcpserver"
	"github.com/starford/catnip/internal/records"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// RunMCP signs in as email and serves that user's cats over MCP on
// stdin/stdout until the client disconnects.
func RunMCP(ctx context.Context, email, password string, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Stdout carries the protocol, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	provider, closer, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("init platform: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	client, err := provider.NewClient()
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	if _, err := client.SignIn(ctx, email, password); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer func() {
		if err := client.SignOut(context.Background()); err != nil {
			logger.Warn("sign out failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("MCP server starting", slog.String("email", email), slog.String("platform_mode", cfg.Platform.Mode))

	srv := mcpserver.New(records.NewStore(client, logger), Version)
	return srv.ServeStdio()
}
