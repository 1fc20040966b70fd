// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects stores, services, handlers
// and middleware, and decides:
//   - Which user store backs the service (Postgres or SQLite)
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  store (postgres.DB | sqlite.DB)
//	  CredentialHasher → IdentityService → UserHandler
//	  TokenService (+ RedisRevoker) → AuthService → AuthHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/identity/internal/auth"
	"github.com/sakif/identity/internal/config"
	"github.com/sakif/identity/internal/handler"
	"github.com/sakif/identity/internal/metrics"
	"github.com/sakif/identity/internal/middleware"
	"github.com/sakif/identity/internal/repository"
	pgRepo "github.com/sakif/identity/internal/repository/postgres"
	sqliteRepo "github.com/sakif/identity/internal/repository/sqlite"
	"github.com/sakif/identity/internal/service"
)

// userStore is a repository the server owns and must close on shutdown.
type userStore interface {
	repository.UserRepository
	Close() error
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store connection and the optional Redis client. Both
// are closed by Close, which Start calls after the HTTP server has drained.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   userStore
	redis   *redis.Client // nil when REDIS_ADDR is unset
	metrics *metrics.Metrics
	backend string
}

// New creates a Server from cfg. ctx bounds store connection and migration.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	// === CREATE USER STORE ===
	store, backend, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening user store: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.New(),
		backend: backend,
	}

	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	if err := s.setupRoutes(); err != nil {
		s.Close() // Clean up connections if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// openStore picks Postgres when DATABASE_URL is set, SQLite otherwise.
func openStore(ctx context.Context, cfg config.Config) (userStore, string, error) {
	if cfg.DatabaseURL != "" {
		db, err := pgRepo.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return db, "postgres", nil
	}

	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, "", fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, "", err
	}
	return db, "sqlite", nil
}

// newHasher builds the credential hasher. The configured algorithm hashes
// new passwords; the other one stays registered for verification so that
// switching HASH_ALGORITHM does not lock anyone out.
func newHasher(cfg config.Config) (*auth.CredentialHasher, error) {
	bcryptHasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	argonCfg := auth.DefaultArgon2Config()
	argonCfg.Memory = cfg.Argon2MemoryKB
	argonCfg.Time = cfg.Argon2Time
	argonCfg.Parallelism = cfg.Argon2Parallelism
	argonHasher, err := auth.NewArgon2Hasher(argonCfg)
	if err != nil {
		return nil, err
	}

	if cfg.HashAlgorithm == config.HashArgon2id {
		return auth.NewCredentialHasher(argonHasher, cfg.HashConcurrency, bcryptHasher), nil
	}
	return auth.NewCredentialHasher(bcryptHasher, cfg.HashConcurrency, argonHasher), nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /users/create       → register a user (201)
// GET    /users/             → list users (id, email, name)
// GET    /users/{id}         → get one user
// PUT    /users/update/{id}  → change name and/or password
// DELETE /users/delete/{id}  → delete a user
// POST   /auth/login         → issue a session token
// GET    /auth/validate      → identity behind the token   [auth]
// POST   /auth/logout        → revoke the token            [auth]
// GET    /healthz, /readyz   → probes
// GET    /metrics            → Prometheus exposition
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info
// 5. Metrics: counts requests per route pattern
func (s *Server) setupRoutes() error {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))

	// === Services ===
	hasher, err := newHasher(s.config)
	if err != nil {
		return fmt.Errorf("creating credential hasher: %w", err)
	}

	tokenOpts := []auth.TokenOption{
		auth.WithIssuer(s.config.JWTIssuer),
		auth.WithTTL(s.config.JWTTTL),
	}
	var revoker *auth.RedisRevoker
	if s.redis != nil {
		revoker = auth.NewRedisRevoker(s.redis, "")
		tokenOpts = append(tokenOpts, auth.WithRevoker(revoker))
	}
	tokens, err := auth.NewTokenService(s.config.JWTSecret, tokenOpts...)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	// Notice: the handlers never touch the store directly.
	identity := service.NewIdentityService(s.store, hasher, s.metrics, s.logger)
	sessions := service.NewAuthService(identity, s.store, tokens, s.metrics, s.logger)

	// === Probes ===
	deps := map[string]handler.Pinger{"store": s.store}
	if revoker != nil {
		deps["redis"] = revoker
	}
	health := handler.NewHealthHandler(deps, s.logger)
	s.router.Get("/healthz", health.HandleHealthz)
	s.router.Get("/readyz", health.HandleReadyz)
	s.router.Handle("/metrics", s.metrics.Handler())

	// === API Routes ===
	s.router.Route("/users", handler.NewUserHandler(identity, s.logger).Routes)
	s.router.Route("/auth", handler.NewAuthHandler(sessions, s.config.SecureCookie, s.logger).Routes)

	return nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store and the Redis client.
func (s *Server) Close() error {
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (SHUTDOWN_TIMEOUT)
// 3. Close the store and Redis (flushes the SQLite WAL, returns pool conns)
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("store", s.backend),
			slog.String("hash_algorithm", s.config.HashAlgorithm),
			slog.Bool("revocation", s.redis != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
