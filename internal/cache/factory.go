// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// NewBackend creates the configured backend wrapped in a GuardedStore.
// db is required for the sqlite backend.
func NewBackend(cfg Config, db *sql.DB, logger *slog.Logger) (*GuardedStore, BackendInfo, error) {
	var (
		inner Backend
		info  = BackendInfo{Type: cfg.Type}
	)

	switch cfg.Type {
	case BackendMemory, "":
		info.Type = BackendMemory
		inner = newMemoryBackend(cfg)

	case BackendSQLite:
		if db == nil {
			return nil, info, fmt.Errorf("sqlite backend requires a database")
		}
		inner = NewSQLStore(db, cfg.Clock)

	case BackendRedis:
		opts := DefaultRedisStoreOptions()
		opts.URL = cfg.RedisURL
		if cfg.Prefix != "" {
			opts.Prefix = cfg.Prefix
		}
		opts.Clock = cfg.Clock

		rs, err := NewRedisStore(opts)
		if err != nil {
			if !cfg.FallbackToMemory {
				return nil, info, fmt.Errorf("connecting to redis: %w", err)
			}
			logger.Warn("redis unavailable, falling back to memory store",
				"category", "cache",
				"error", err,
			)
			info = BackendInfo{Type: BackendMemory, IsFallback: true, Error: err.Error()}
			inner = newMemoryBackend(cfg)
			break
		}
		inner = rs

	default:
		return nil, info, fmt.Errorf("unknown store backend %q", cfg.Type)
	}

	logger.Info("precomputed store ready", "backend", info.Type, "fallback", info.IsFallback)
	return NewGuardedStore(inner, cfg.Breaker, logger), info, nil
}

func newMemoryBackend(cfg Config) *MemoryStore {
	return NewMemoryStore(MemoryStoreOptions{
		Clock:           cfg.Clock,
		CleanupInterval: cfg.CleanupInterval,
	})
}
