// Package main is the entry point for the identity server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (environment variables, optionally from .env)
// 2. Create process-wide dependencies (logger, tracer provider)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sakif/identity/internal/config"
	"github.com/sakif/identity/internal/server"
	"github.com/sakif/identity/internal/telemetry"
)

const serviceName = "identity"

func main() {
	// os.Exit skips deferred calls, so everything that must flush on the way
	// out (traces, store, Redis) lives in run.
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// === 2. SET UP LOGGING ===
	// Text for humans in a terminal, JSON for log shippers.
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// === 3. TRACING ===
	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: serviceName,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("flushing traces", slog.String("error", err.Error()))
		}
	}()

	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set: logout cannot revoke tokens before they expire")
	}

	// === 4. CREATE AND START THE SERVER ===
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	srv, err := server.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	return srv.Start()
}

func newLogger(cfg config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel() // validated by config.Load
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
