// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the reviewlens configuration from REVIEWLENS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"

	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/resolver"
	"github.com/olegiv/reviewlens/internal/scheduler"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath     string `env:"REVIEWLENS_DB_PATH" envDefault:"./data/reviewlens.db"`
	ServerHost string `env:"REVIEWLENS_SERVER_HOST" envDefault:"localhost"`
	ServerPort int    `env:"REVIEWLENS_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"REVIEWLENS_ENV" envDefault:"development"`
	LogLevel   string `env:"REVIEWLENS_LOG_LEVEL" envDefault:"info"`

	// API rate limiting per client IP
	APIRateLimit float64 `env:"REVIEWLENS_API_RATE_LIMIT" envDefault:"100"`
	APIRateBurst int     `env:"REVIEWLENS_API_RATE_BURST" envDefault:"200"`

	// Precomputed store
	StoreBackend     string        `env:"REVIEWLENS_STORE_BACKEND" envDefault:"sqlite"` // memory, sqlite or redis
	RedisURL         string        `env:"REVIEWLENS_REDIS_URL"`
	CachePrefix      string        `env:"REVIEWLENS_CACHE_PREFIX" envDefault:"reviewlens:"`
	FallbackToMemory bool          `env:"REVIEWLENS_STORE_FALLBACK" envDefault:"true"`
	BreakerThreshold uint          `env:"REVIEWLENS_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerDelay     time.Duration `env:"REVIEWLENS_BREAKER_DELAY" envDefault:"30s"`

	// Resolver and computation
	SyncTimeout    time.Duration `env:"REVIEWLENS_SYNC_TIMEOUT" envDefault:"10s"`
	ComputeTimeout time.Duration `env:"REVIEWLENS_COMPUTE_TIMEOUT" envDefault:"2m"`
	DefaultMaxAge  time.Duration `env:"REVIEWLENS_DEFAULT_MAX_AGE" envDefault:"15m"`
	StaleTolerance time.Duration `env:"REVIEWLENS_STALE_TOLERANCE" envDefault:"24h"`
	RefreshEvery   time.Duration `env:"REVIEWLENS_FORCE_REFRESH_EVERY" envDefault:"10s"`

	// Per-type TTLs; 0 leaves the record to the refresh scheduler.
	TrendTTL      time.Duration `env:"REVIEWLENS_TTL_SENTIMENT_TREND" envDefault:"0"`
	KeywordTTL    time.Duration `env:"REVIEWLENS_TTL_KEYWORD_SENTIMENT" envDefault:"0"`
	PlatformTTL   time.Duration `env:"REVIEWLENS_TTL_PLATFORM_RATING" envDefault:"0"`
	ComparisonTTL time.Duration `env:"REVIEWLENS_TTL_PRODUCT_COMPARISON" envDefault:"0"`

	// Refresh scheduler
	TrendSchedule      string `env:"REVIEWLENS_SCHEDULE_SENTIMENT_TREND" envDefault:"@every 5m"`
	KeywordSchedule    string `env:"REVIEWLENS_SCHEDULE_KEYWORD_SENTIMENT" envDefault:"@every 30m"`
	PlatformSchedule   string `env:"REVIEWLENS_SCHEDULE_PLATFORM_RATING" envDefault:"@every 2m"`
	ComparisonSchedule string `env:"REVIEWLENS_SCHEDULE_PRODUCT_COMPARISON" envDefault:"@every 10m"`
	RefreshBatchSize   int    `env:"REVIEWLENS_REFRESH_BATCH_SIZE" envDefault:"50"`
	RefreshWorkers     int    `env:"REVIEWLENS_REFRESH_WORKERS" envDefault:"4"`

	// Event log
	EventRetentionDays int    `env:"REVIEWLENS_EVENT_RETENTION_DAYS" envDefault:"30"`
	RetentionSchedule  string `env:"REVIEWLENS_RETENTION_SCHEDULE" envDefault:"0 3 * * *"`

	// Seeding configuration
	DoSeed bool `env:"REVIEWLENS_DO_SEED" envDefault:"false"` // Seed demo products and reviews
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// SlogLevel converts LogLevel into a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CacheConfig returns the precomputed store configuration.
func (c Config) CacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Type = c.StoreBackend
	cfg.RedisURL = c.RedisURL
	cfg.Prefix = c.CachePrefix
	cfg.FallbackToMemory = c.FallbackToMemory
	cfg.Breaker.FailureThreshold = c.BreakerThreshold
	cfg.Breaker.Delay = c.BreakerDelay
	return cfg
}

// TTLs returns the per-type record TTLs.
func (c Config) TTLs() map[model.StatType]time.Duration {
	return map[model.StatType]time.Duration{
		model.StatSentimentTrend:             c.TrendTTL,
		model.StatKeywordSentiment:           c.KeywordTTL,
		model.StatPlatformRatingDistribution: c.PlatformTTL,
		model.StatProductComparison:          c.ComparisonTTL,
	}
}

// Cadences returns the refresh cadences with configured schedules and batch size.
func (c Config) Cadences() map[model.StatType]scheduler.Cadence {
	cadences := scheduler.DefaultCadences()
	schedules := map[model.StatType]string{
		model.StatSentimentTrend:             c.TrendSchedule,
		model.StatKeywordSentiment:           c.KeywordSchedule,
		model.StatPlatformRatingDistribution: c.PlatformSchedule,
		model.StatProductComparison:          c.ComparisonSchedule,
	}
	for t, spec := range schedules {
		cad := cadences[t]
		cad.Schedule = spec
		if c.RefreshBatchSize > 0 {
			cad.BatchSize = c.RefreshBatchSize
		}
		if every, ok := everyInterval(spec); ok {
			cad.RefreshAfter = every
		}
		cadences[t] = cad
	}
	return cadences
}

// DefaultPolicy returns the policy used when a request does not name one.
func (c Config) DefaultPolicy() resolver.Policy {
	return resolver.StaleWhileRevalidate(c.DefaultMaxAge, c.StaleTolerance)
}

// everyInterval extracts the interval of an "@every <duration>" spec.
func everyInterval(spec string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(spec, "@every ")
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(rest))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values and returns every problem found.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case cache.BackendMemory, cache.BackendSQLite:
	case cache.BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REVIEWLENS_REDIS_URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("REVIEWLENS_STORE_BACKEND must be memory, sqlite or redis, got %q", c.StoreBackend))
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("REVIEWLENS_SERVER_PORT out of range: %d", c.ServerPort))
	}

	for name, d := range map[string]time.Duration{
		"REVIEWLENS_SYNC_TIMEOUT":    c.SyncTimeout,
		"REVIEWLENS_COMPUTE_TIMEOUT": c.ComputeTimeout,
		"REVIEWLENS_BREAKER_DELAY":   c.BreakerDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	for t, d := range c.TTLs() {
		if d < 0 {
			errs = append(errs, fmt.Errorf("TTL of %s must not be negative, got %s", t, d))
		}
	}
	if err := c.DefaultPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("default policy: %w", err))
	}

	for t, cad := range c.Cadences() {
		if err := validateSchedule(cad.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("refresh schedule of %s: %w", t, err))
		}
	}
	if err := validateSchedule(c.RetentionSchedule); err != nil {
		errs = append(errs, fmt.Errorf("REVIEWLENS_RETENTION_SCHEDULE: %w", err))
	}
	if c.RefreshBatchSize < 0 || c.RefreshWorkers < 1 {
		errs = append(errs, fmt.Errorf("refresh batch size and workers must be positive, got %d and %d", c.RefreshBatchSize, c.RefreshWorkers))
	}
	if c.APIRateLimit <= 0 || c.APIRateBurst < 1 {
		errs = append(errs, fmt.Errorf("REVIEWLENS_API_RATE_LIMIT and REVIEWLENS_API_RATE_BURST must be positive, got %g and %d", c.APIRateLimit, c.APIRateBurst))
	}
	if c.EventRetentionDays < 1 {
		errs = append(errs, fmt.Errorf("REVIEWLENS_EVENT_RETENTION_DAYS must be at least 1, got %d", c.EventRetentionDays))
	}

	return errors.Join(errs...)
}

// validateSchedule accepts standard cron specs and "@" descriptors.
func validateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}
