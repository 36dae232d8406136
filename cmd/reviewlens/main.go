// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/olegiv/reviewlens/internal/aggregate"
	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/config"
	"github.com/olegiv/reviewlens/internal/flight"
	"github.com/olegiv/reviewlens/internal/handler/api"
	"github.com/olegiv/reviewlens/internal/logging"
	"github.com/olegiv/reviewlens/internal/metrics"
	"github.com/olegiv/reviewlens/internal/middleware"
	"github.com/olegiv/reviewlens/internal/resolver"
	"github.com/olegiv/reviewlens/internal/scheduler"
	"github.com/olegiv/reviewlens/internal/service"
	"github.com/olegiv/reviewlens/internal/store"
	"github.com/olegiv/reviewlens/internal/version"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.BoolVar(showHelp, "h", false, "Show help information (shorthand)")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "reviewlens - precomputed review analytics\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  REVIEWLENS_DB_PATH           SQLite database path (default: ./data/reviewlens.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  REVIEWLENS_SERVER_PORT       Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  REVIEWLENS_ENV               Environment: development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  REVIEWLENS_STORE_BACKEND     Precomputed store: memory|sqlite|redis (default: sqlite)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  REVIEWLENS_REDIS_URL         Redis URL for the redis store (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  REVIEWLENS_DEFAULT_MAX_AGE   Default freshness bound (default: 15m)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  REVIEWLENS_DO_SEED           Seed demo products and reviews (default: false)\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		_, _ = fmt.Printf("reviewlens %s (commit: %s, built: %s)\n", appVersion, appGitCommit, appBuildTime)
		os.Exit(0)
	}

	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env files if present (development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	versionInfo := version.New(appVersion, appGitCommit, appBuildTime)
	clock := clockwork.NewRealClock()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	slog.Info("initializing database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	slog.Info("running database migrations")
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready")

	// Upgrade logger to also write WARN and ERROR logs to the event log table
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger = slog.New(logging.NewEventLogHandler(textHandler, db))
	slog.SetDefault(logger)
	slog.Info("event log integration enabled", "min_level", "warn")

	ctx := context.Background()
	if cfg.DoSeed {
		if err := store.Seed(ctx, db, clock.Now()); err != nil {
			return fmt.Errorf("seeding database: %w", err)
		}
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	cacheCfg := cfg.CacheConfig()
	cacheCfg.Clock = clock
	cacheCfg.Breaker.OnStateChange = func(state circuitbreaker.State) {
		switch state {
		case circuitbreaker.ClosedState:
			m.SetBreakerState(0)
		case circuitbreaker.HalfOpenState:
			m.SetBreakerState(1)
		case circuitbreaker.OpenState:
			m.SetBreakerState(2)
		}
	}
	backend, backendInfo, err := cache.NewBackend(cacheCfg, db, logger)
	if err != nil {
		return fmt.Errorf("creating precomputed store: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("error closing precomputed store", "error", err)
		}
	}()

	coord := flight.New(flight.Options{
		ComputeTimeout: cfg.ComputeTimeout,
		Logger:         logger,
		Metrics:        m,
	})
	engine := aggregate.NewEngine(store.New(db), clock, logger)
	res := resolver.New(backend, engine, coord, resolver.Options{
		SyncTimeout:  cfg.SyncTimeout,
		TTL:          cfg.TTLs(),
		RefreshEvery: cfg.RefreshEvery,
		Clock:        clock,
		Logger:       logger,
		Metrics:      m,
	})

	reviews := service.NewReviewService(db, clock, logger)
	reviews.OnReviewWritten(res.InvalidateProduct)
	events := service.NewEventService(db, clock)

	sched := scheduler.New(backend, res, scheduler.NewRegistry(db, logger), scheduler.Options{
		Cadences: cfg.Cadences(),
		Workers:  cfg.RefreshWorkers,
		Backoff:  scheduler.DefaultBackoffOptions(),
		Clock:    clock,
		Logger:   logger,
		Metrics:  m,
	})
	retention := time.Duration(cfg.EventRetentionDays) * 24 * time.Hour
	sched.AddJob(scheduler.Job{
		Source:          "retention",
		Name:            "events",
		Description:     "Delete event log entries past the retention period",
		DefaultSchedule: cfg.RetentionSchedule,
		Manual:          true,
		Run: func(ctx context.Context) error {
			n, err := events.DeleteOldEvents(ctx, retention)
			if err != nil {
				return err
			}
			slog.Info("old events deleted", "category", "scheduler", "count", n)
			return nil
		},
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting refresh scheduler: %w", err)
	}

	apiHandler := api.NewHandler(api.Deps{
		Resolver:      res,
		DefaultPolicy: cfg.DefaultPolicy(),
		Reviews:       reviews,
		Events:        events,
		Scheduler:     sched,
		Store:         backend,
		Backend:       backendInfo,
		Flight:        coord,
		Version:       versionInfo,
		Clock:         clock,
		Logger:        logger,
	})
	rateLimiter := middleware.NewClientRateLimiter(cfg.APIRateLimit, cfg.APIRateBurst, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(chimw.GetHead) // Handle HEAD requests for uptime monitoring
	r.Use(metrics.NewHTTPMetrics(reg).Middleware)
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig(cfg.IsDevelopment())))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimiter.Middleware)
		apiHandler.Routes(r)
	})
	r.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.SyncTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env, "version", versionInfo.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		slog.Error("error stopping refresh scheduler", "error", err)
	}
	if err := coord.Close(shutdownCtx); err != nil {
		slog.Error("error draining computations", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
