// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package resolver answers stat requests from the precomputed store,
// recomputing through the in-flight coordinator when a record is missing or too old.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/olegiv/reviewlens/internal/aggregate"
	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/flight"
	"github.com/olegiv/reviewlens/internal/metrics"
	"github.com/olegiv/reviewlens/internal/model"
)

// Source tells where a result came from.
type Source string

const (
	SourceFresh    Source = metrics.SourceFresh
	SourceStale    Source = metrics.SourceStale
	SourceComputed Source = metrics.SourceComputed
	SourceFallback Source = metrics.SourceFallback
	SourceUncached Source = metrics.SourceUncached
)

// Default option values.
const (
	DefaultSyncTimeout  = 10 * time.Second
	DefaultRefreshEvery = 10 * time.Second
)

// maxLimiters bounds the per-key force-refresh limiter map before idle entries are pruned.
const maxLimiters = 1024

// Computer runs aggregations. *aggregate.Engine satisfies it.
type Computer interface {
	ComputeAsOf(ctx context.Context, q model.Query, asOf time.Time) (aggregate.Snapshot, error)
	IncrementalAsOf(ctx context.Context, q model.Query, existing []byte, since int64, asOf time.Time) (aggregate.Snapshot, error)
}

// Result is a resolved statistic.
type Result struct {
	Query      model.Query
	Payload    json.RawMessage
	ComputedAt time.Time
	Source     Source
}

// Options configures a Resolver.
type Options struct {
	// SyncTimeout bounds how long a caller waits for a synchronous recompute.
	SyncTimeout time.Duration
	// TTL sets ExpiresAt per stat type. Missing or zero leaves expiry to the scheduler.
	TTL map[model.StatType]time.Duration
	// RefreshEvery is the minimum spacing of ForceRefresh calls per key.
	RefreshEvery time.Duration

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Resolver serves statistics under a freshness policy.
type Resolver struct {
	store   cache.Backend
	engine  Computer
	flight  *flight.Coordinator
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	degraded atomic.Bool

	limMu    sync.Mutex
	limiters map[model.Key]*rate.Limiter
}

// New creates a Resolver.
func New(store cache.Backend, engine Computer, coord *flight.Coordinator, opts Options) *Resolver {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	if opts.RefreshEvery <= 0 {
		opts.RefreshEvery = DefaultRefreshEvery
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		store:    store,
		engine:   engine,
		flight:   coord,
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		limiters: make(map[model.Key]*rate.Limiter),
	}
}

// Resolve returns the statistic named by q under policy p.
//
// A record within MaxAge is served as is. Under stale-while-revalidate a
// record within StaleTolerance is served while one background refresh runs.
// Anything else is recomputed synchronously; if that fails or times out the
// last stored record is served instead. When the store is unavailable the
// statistic is computed without caching.
func (r *Resolver) Resolve(ctx context.Context, q model.Query, p Policy) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	key := q.Key()
	rec, err := r.store.Get(ctx, key, 0)

	var prior *cache.Record
	switch {
	case err == nil:
		r.storeRecovered()
		age := rec.Age(r.clock.Now())
		if age <= p.MaxAge {
			r.touch(ctx, key)
			return r.result(q, rec, SourceFresh), nil
		}
		if p.Mode == ModeStaleWhileRevalidate && age <= p.StaleTolerance {
			r.revalidate(q, rec)
			r.touch(ctx, key)
			return r.result(q, rec, SourceStale), nil
		}
		prior = rec
	case errors.Is(err, cache.ErrCacheMiss):
		r.storeRecovered()
	case errors.Is(err, cache.ErrStoreUnavailable):
		return r.resolveUncached(ctx, q, err)
	default:
		return nil, err
	}

	return r.recompute(ctx, q, prior)
}

// recompute computes q synchronously, falling back to prior when the
// computation fails or outlives SyncTimeout.
func (r *Resolver) recompute(ctx context.Context, q model.Query, prior *cache.Record) (*Result, error) {
	syncCtx, cancel := context.WithTimeout(ctx, r.opts.SyncTimeout)
	defer cancel()

	rec, _, err := r.flight.Run(syncCtx, q.Key(), r.computeFunc(q, nil))
	if err == nil {
		r.touch(ctx, rec.Key)
		return r.result(q, rec, SourceComputed), nil
	}

	if prior != nil && canFallBack(err) {
		r.logger.Warn("recompute failed, serving last stored record",
			"category", "cache",
			"stat_type", q.Type,
			"identifier", q.Identifier,
			"computed_at", prior.ComputedAt,
			"error", err,
		)
		r.touch(ctx, prior.Key)
		return r.result(q, prior, SourceFallback), nil
	}
	return nil, err
}

// resolveUncached serves q while the store is unavailable.
func (r *Resolver) resolveUncached(ctx context.Context, q model.Query, cause error) (*Result, error) {
	r.enterDegraded(cause)
	r.metrics.ObserveDegraded()

	syncCtx, cancel := context.WithTimeout(ctx, r.opts.SyncTimeout)
	defer cancel()

	rec, _, err := r.flight.Run(syncCtx, q.Key(), r.computeFunc(q, nil))
	if err != nil {
		return nil, err
	}
	return r.result(q, rec, SourceUncached), nil
}

// revalidate starts a background refresh of a stale record.
func (r *Resolver) revalidate(q model.Query, stale *cache.Record) {
	if r.flight.Go(q.Key(), r.computeFunc(q, stale)) {
		r.logger.Debug("revalidating stale record",
			"stat_type", q.Type,
			"identifier", q.Identifier,
			"age", stale.Age(r.clock.Now()),
		)
	}
}

// Refresh recomputes q in full and stores the result.
func (r *Resolver) Refresh(ctx context.Context, q model.Query) (*cache.Record, error) {
	rec, _, err := r.flight.Run(ctx, q.Key(), r.computeFunc(q, nil))
	return rec, err
}

// RefreshFrom brings prior up to date, incrementally where the stat type allows.
func (r *Resolver) RefreshFrom(ctx context.Context, prior *cache.Record) (*cache.Record, error) {
	q, err := prior.Query()
	if err != nil {
		return nil, fmt.Errorf("restoring query of %s: %w", prior.Key, err)
	}
	rec, _, err := r.flight.Run(ctx, prior.Key, r.computeFunc(q, prior))
	return rec, err
}

// ForceRefresh recomputes every cached params variant of (statType, identifier),
// or the default variant when none is cached. Calls for one key are rate limited.
func (r *Resolver) ForceRefresh(ctx context.Context, statType model.StatType, identifier string) ([]*Result, error) {
	if !statType.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownStatType, statType)
	}
	if !r.allowRefresh(model.Key{Type: statType, Identifier: identifier}) {
		return nil, ErrRefreshRateLimited
	}

	recs, err := r.store.List(ctx, cache.ListFilter{StatType: statType, Identifier: identifier})
	if err != nil {
		return nil, fmt.Errorf("listing cached variants: %w", err)
	}

	queries := make([]model.Query, 0, len(recs))
	for _, rec := range recs {
		q, err := rec.Query()
		if err != nil {
			return nil, fmt.Errorf("restoring query of %s: %w", rec.Key, err)
		}
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		params, err := model.DefaultParams(statType)
		if err != nil {
			return nil, err
		}
		q, err := model.NewQuery(statType, identifier, params)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}

	results := make([]*Result, 0, len(queries))
	for _, q := range queries {
		rec, err := r.Refresh(ctx, q)
		if err != nil {
			return nil, err
		}
		results = append(results, r.result(q, rec, SourceComputed))
	}

	r.logger.Info("statistic force refreshed",
		"category", "cache",
		"stat_type", statType,
		"identifier", identifier,
		"variants", len(results),
	)
	return results, nil
}

// InvalidateProduct drops the product-scoped records that a new review of
// productID makes wrong. Global, platform and comparison records are left
// to their TTL and the refresh scheduler.
func (r *Resolver) InvalidateProduct(ctx context.Context, productID string) error {
	total := 0
	for _, t := range []model.StatType{model.StatSentimentTrend, model.StatKeywordSentiment} {
		n, err := r.store.Invalidate(ctx, t, productID)
		if err != nil {
			if errors.Is(err, cache.ErrStoreUnavailable) {
				r.enterDegraded(err)
			}
			return fmt.Errorf("invalidating %s for %s: %w", t, productID, err)
		}
		total += n
	}
	r.logger.Debug("invalidated product statistics", "product_id", productID, "records", total)
	return nil
}

// FreshnessEntry describes one stored record.
type FreshnessEntry struct {
	StatType    model.StatType  `json:"stat_type"`
	Identifier  string          `json:"identifier"`
	Params      json.RawMessage `json:"params"`
	ComputedAt  time.Time       `json:"computed_at"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	AccessCount int64           `json:"access_count"`
	AgeSeconds  float64         `json:"age_seconds"`
}

// FreshnessReport lists every unexpired record, oldest computation first.
func (r *Resolver) FreshnessReport(ctx context.Context) ([]FreshnessEntry, error) {
	recs, err := r.store.List(ctx, cache.ListFilter{OrderBy: cache.ByComputedAt})
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	out := make([]FreshnessEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FreshnessEntry{
			StatType:    rec.Key.Type,
			Identifier:  rec.Key.Identifier,
			Params:      rec.Params,
			ComputedAt:  rec.ComputedAt,
			ExpiresAt:   rec.ExpiresAt,
			AccessCount: rec.AccessCount,
			AgeSeconds:  rec.Age(now).Seconds(),
		})
	}
	return out, nil
}

// Degraded reports whether the store is currently being bypassed.
func (r *Resolver) Degraded() bool {
	return r.degraded.Load()
}

// computeFunc builds the coordinator job for q. With a base record of an
// incremental stat type, only reviews stored after base.Watermark are read.
func (r *Resolver) computeFunc(q model.Query, base *cache.Record) flight.Func {
	return func(ctx context.Context) (*cache.Record, error) {
		asOf := time.UnixMilli(r.clock.Now().UnixMilli()).UTC()

		var (
			snap aggregate.Snapshot
			err  error
			mode = "full"
		)
		if base != nil && aggregate.SupportsIncremental(q.Type) {
			mode = "incremental"
			snap, err = r.engine.IncrementalAsOf(ctx, q, base.Payload, base.Watermark, asOf)
		} else {
			snap, err = r.engine.ComputeAsOf(ctx, q, asOf)
		}
		r.metrics.ObserveCompute(string(q.Type), mode, r.clock.Since(asOf), failure(err))
		if err != nil {
			return nil, err
		}

		rec, err := cache.NewRecord(q, snap.Payload, asOf, r.opts.TTL[q.Type])
		if err != nil {
			return nil, err
		}
		rec.Watermark = snap.Watermark
		r.put(ctx, rec)
		return rec, nil
	}
}

func (r *Resolver) put(ctx context.Context, rec *cache.Record) {
	stored, err := r.store.Put(ctx, rec)
	switch {
	case err == nil:
		r.storeRecovered()
		if !stored {
			r.logger.Debug("newer record already stored", "key", rec.Key.String())
		}
	case errors.Is(err, cache.ErrStoreUnavailable):
		r.enterDegraded(err)
	default:
		r.logger.Warn("failed to store computed statistic",
			"category", "cache",
			"key", rec.Key.String(),
			"error", err,
		)
	}
}

func (r *Resolver) touch(ctx context.Context, key model.Key) {
	if err := r.store.Touch(ctx, key); err != nil {
		if errors.Is(err, cache.ErrStoreUnavailable) {
			r.enterDegraded(err)
			return
		}
		r.logger.Debug("failed to record access", "key", key.String(), "error", err)
	}
}

func (r *Resolver) result(q model.Query, rec *cache.Record, src Source) *Result {
	r.metrics.ObserveResolve(string(q.Type), string(src))
	return &Result{
		Query:      q,
		Payload:    rec.Payload,
		ComputedAt: rec.ComputedAt,
		Source:     src,
	}
}

func (r *Resolver) enterDegraded(cause error) {
	if r.degraded.CompareAndSwap(false, true) {
		r.logger.Warn("precomputed store unavailable, serving uncached results",
			"category", "cache",
			"error", cause,
		)
	}
}

func (r *Resolver) storeRecovered() {
	if r.degraded.CompareAndSwap(true, false) {
		r.logger.Info("precomputed store recovered", "category", "cache")
	}
}

func (r *Resolver) allowRefresh(key model.Key) bool {
	now := r.clock.Now()

	r.limMu.Lock()
	defer r.limMu.Unlock()

	lim, ok := r.limiters[key]
	if !ok {
		if len(r.limiters) >= maxLimiters {
			for k, l := range r.limiters {
				if l.TokensAt(now) >= 1 {
					delete(r.limiters, k)
				}
			}
		}
		lim = rate.NewLimiter(rate.Every(r.opts.RefreshEvery), 1)
		r.limiters[key] = lim
	}
	return lim.AllowN(now, 1)
}

// canFallBack reports whether a stored record may stand in for a failed recompute.
// Insufficient data is an answer, not a failure.
func canFallBack(err error) bool {
	if errors.Is(err, aggregate.ErrInsufficientData) {
		return false
	}
	var cerr *aggregate.ComputationError
	return errors.As(err, &cerr) ||
		errors.Is(err, flight.ErrCoordinatorTimeout) ||
		errors.Is(err, flight.ErrComputationPanicked) ||
		errors.Is(err, context.DeadlineExceeded)
}

// failure filters the errors that count as failed computations.
func failure(err error) error {
	if errors.Is(err, aggregate.ErrInsufficientData) {
		return nil
	}
	return err
}
