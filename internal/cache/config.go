// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Backend types
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds configuration for backend creation.
type Config struct {
	// Type is the backend type: "memory", "sqlite" or "redis"
	Type string

	// RedisURL is the Redis connection URL (only for redis type)
	// Example: redis://localhost:6379/0
	RedisURL string

	// Prefix is the key prefix for Redis (only for redis type)
	Prefix string

	// FallbackToMemory selects the memory backend when Redis is unreachable
	FallbackToMemory bool

	// CleanupInterval is the janitor interval of the memory backend
	CleanupInterval time.Duration

	// Breaker configures the circuit breaker wrapped around the backend
	Breaker BreakerOptions

	Clock clockwork.Clock
}

// DefaultConfig returns default backend configuration.
func DefaultConfig() Config {
	return Config{
		Type:             BackendSQLite,
		Prefix:           "reviewlens:",
		FallbackToMemory: true,
		CleanupInterval:  time.Minute,
		Breaker:          DefaultBreakerOptions(),
	}
}

// BackendInfo describes the backend that was actually created.
type BackendInfo struct {
	Type       string `json:"type"`
	IsFallback bool   `json:"is_fallback"`
	Error      string `json:"error,omitempty"`
}
