// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/olegiv/reviewlens/internal/model"
)

// BreakerOptions configures the circuit breaker of a GuardedStore.
type BreakerOptions struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint
	// Delay is how long the breaker stays open before probing again.
	Delay time.Duration
	// SuccessThreshold is the number of half-open successes that closes the breaker.
	SuccessThreshold uint
	// OnStateChange is called with the new state after every transition.
	OnStateChange func(state circuitbreaker.State)
}

// DefaultBreakerOptions returns the production breaker settings.
func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		FailureThreshold: 5,
		Delay:            30 * time.Second,
		SuccessThreshold: 1,
	}
}

// GuardedStore wraps a Backend with a circuit breaker. Backend faults and an
// open breaker surface as ErrStoreUnavailable; misses pass through unchanged.
type GuardedStore struct {
	inner  Backend
	cb     circuitbreaker.CircuitBreaker[any]
	logger *slog.Logger
}

// NewGuardedStore wraps inner.
func NewGuardedStore(inner Backend, opts BreakerOptions, logger *slog.Logger) *GuardedStore {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 1
	}
	if opts.SuccessThreshold == 0 {
		opts.SuccessThreshold = 1
	}

	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(opts.FailureThreshold).
		WithDelay(opts.Delay).
		WithSuccessThreshold(opts.SuccessThreshold).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			logger.Warn("precomputed store circuit breaker changed state",
				"category", "cache",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if opts.OnStateChange != nil {
				opts.OnStateChange(e.NewState)
			}
		}).
		Build()

	return &GuardedStore{inner: inner, cb: cb, logger: logger}
}

// State returns the breaker state.
func (g *GuardedStore) State() circuitbreaker.State {
	return g.cb.State()
}

// Unwrap returns the wrapped backend.
func (g *GuardedStore) Unwrap() Backend {
	return g.inner
}

func (g *GuardedStore) acquire() error {
	if !g.cb.TryAcquirePermit() {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, circuitbreaker.ErrOpen)
	}
	return nil
}

// record classifies err for the breaker and maps backend faults.
func (g *GuardedStore) record(err error) error {
	switch {
	case err == nil, errors.Is(err, ErrCacheMiss), errors.Is(err, context.Canceled):
		g.cb.RecordSuccess()
		return err
	default:
		g.cb.RecordError(err)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// Get retrieves a record through the breaker.
func (g *GuardedStore) Get(ctx context.Context, key model.Key, maxAge time.Duration) (*Record, error) {
	if err := g.acquire(); err != nil {
		return nil, err
	}
	rec, err := g.inner.Get(ctx, key, maxAge)
	return rec, g.record(err)
}

// Put stores a record through the breaker.
func (g *GuardedStore) Put(ctx context.Context, rec *Record) (bool, error) {
	if err := g.acquire(); err != nil {
		return false, err
	}
	stored, err := g.inner.Put(ctx, rec)
	return stored, g.record(err)
}

// Invalidate removes records through the breaker.
func (g *GuardedStore) Invalidate(ctx context.Context, statType model.StatType, identifier string) (int, error) {
	if err := g.acquire(); err != nil {
		return 0, err
	}
	n, err := g.inner.Invalidate(ctx, statType, identifier)
	return n, g.record(err)
}

// SweepExpired sweeps through the breaker.
func (g *GuardedStore) SweepExpired(ctx context.Context) (int, error) {
	if err := g.acquire(); err != nil {
		return 0, err
	}
	n, err := g.inner.SweepExpired(ctx)
	return n, g.record(err)
}

// Touch increments an access counter through the breaker.
func (g *GuardedStore) Touch(ctx context.Context, key model.Key) error {
	if err := g.acquire(); err != nil {
		return err
	}
	return g.record(g.inner.Touch(ctx, key))
}

// List enumerates records through the breaker.
func (g *GuardedStore) List(ctx context.Context, f ListFilter) ([]*Record, error) {
	if err := g.acquire(); err != nil {
		return nil, err
	}
	recs, err := g.inner.List(ctx, f)
	return recs, g.record(err)
}

// Close closes the wrapped backend.
func (g *GuardedStore) Close() error {
	return g.inner.Close()
}

// Stats forwards to the wrapped backend when it keeps statistics.
func (g *GuardedStore) Stats() Stats {
	if sp, ok := g.inner.(StatsProvider); ok {
		return sp.Stats()
	}
	return Stats{}
}

// ResetStats forwards to the wrapped backend when it keeps statistics.
func (g *GuardedStore) ResetStats() {
	if sp, ok := g.inner.(StatsProvider); ok {
		sp.ResetStats()
	}
}

var _ Backend = (*GuardedStore)(nil)
var _ StatsProvider = (*GuardedStore)(nil)
