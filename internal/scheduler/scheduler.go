// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler keeps popular precomputed statistics fresh.
//
// Each stat type has its own cadence. A cycle scans the store for the type,
// queues eligible keys by due time, refreshes a bounded batch and sweeps
// expired records. Cycles are driven by cron jobs kept in a Registry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/metrics"
	"github.com/olegiv/reviewlens/internal/model"
)

// JobSource is the registry source of the per-type refresh jobs.
const JobSource = "refresh"

// Refresh outcomes reported to metrics.
const (
	outcomeStored  = "stored"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// Refresher brings a stored record up to date and writes it back.
type Refresher interface {
	RefreshFrom(ctx context.Context, prior *cache.Record) (*cache.Record, error)
}

// Cadence controls how one stat type is refreshed.
type Cadence struct {
	// Schedule is the cron spec of the refresh job.
	Schedule string
	// BatchSize caps the refreshes of a single cycle.
	BatchSize int
	// RefreshAfter is the record age at which a key becomes due.
	RefreshAfter time.Duration
}

// DefaultCadences returns the refresh cadence of every stat type.
// Keyword sentiment is the most expensive and the least volatile.
func DefaultCadences() map[model.StatType]Cadence {
	return map[model.StatType]Cadence{
		model.StatSentimentTrend:             {Schedule: "@every 5m", BatchSize: 50, RefreshAfter: 5 * time.Minute},
		model.StatKeywordSentiment:           {Schedule: "@every 30m", BatchSize: 20, RefreshAfter: 30 * time.Minute},
		model.StatPlatformRatingDistribution: {Schedule: "@every 2m", BatchSize: 50, RefreshAfter: 2 * time.Minute},
		model.StatProductComparison:          {Schedule: "@every 10m", BatchSize: 20, RefreshAfter: 10 * time.Minute},
	}
}

// Options configures a RefreshScheduler.
type Options struct {
	Cadences map[model.StatType]Cadence
	Workers  int
	// ScanLimit caps the records listed per cycle. 0 lists all.
	ScanLimit int
	Backoff   BackoffOptions
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// CycleReport summarizes one refresh cycle.
type CycleReport struct {
	StatType  model.StatType `json:"stat_type"`
	Scanned   int            `json:"scanned"`
	Queued    int            `json:"queued"`
	Refreshed int            `json:"refreshed"`
	Failed    int            `json:"failed"`
	Swept     int            `json:"swept"`
	Duration  time.Duration  `json:"duration"`
}

// RefreshScheduler owns the due-queues and per-key states of all stat types.
type RefreshScheduler struct {
	store     cache.Backend
	refresher Refresher
	registry  *Registry
	cadences  map[model.StatType]Cadence
	workers   int
	scanLimit int
	backoff   BackoffOptions
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	queues map[model.StatType]*dueQueue
	states map[model.Key]*keyState

	cron   *cron.Cron
	extra  []Job
	cancel context.CancelFunc
}

// New creates a scheduler refreshing records of store through refresher.
// registry may be nil when schedule overrides are not needed.
func New(store cache.Backend, refresher Refresher, registry *Registry, opts Options) *RefreshScheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Backoff == (BackoffOptions{}) {
		opts.Backoff = DefaultBackoffOptions()
	}
	cadences := DefaultCadences()
	for t, c := range opts.Cadences {
		cadences[t] = c
	}
	if registry == nil {
		registry = NewRegistry(nil, opts.Logger)
	}

	queues := make(map[model.StatType]*dueQueue, len(model.AllStatTypes))
	for _, t := range model.AllStatTypes {
		queues[t] = newDueQueue()
	}

	return &RefreshScheduler{
		store:     store,
		refresher: refresher,
		registry:  registry,
		cadences:  cadences,
		workers:   opts.Workers,
		scanLimit: opts.ScanLimit,
		backoff:   opts.Backoff,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		queues:    queues,
		states:    make(map[model.Key]*keyState),
	}
}

// Registry returns the job registry used by Start.
func (s *RefreshScheduler) Registry() *Registry {
	return s.registry
}

// Cadence returns the cadence of statType.
func (s *RefreshScheduler) Cadence(statType model.StatType) Cadence {
	return s.cadences[statType]
}

// State returns the refresh state of key.
func (s *RefreshScheduler) State(key model.Key) KeyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st.state
	}
	return StateIdle
}

// QueueLen returns the number of keys queued for statType.
func (s *RefreshScheduler) QueueLen(statType model.StatType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[statType]; ok {
		return q.Len()
	}
	return 0
}

// RunCycle runs one refresh cycle for statType.
func (s *RefreshScheduler) RunCycle(ctx context.Context, statType model.StatType) (CycleReport, error) {
	report := CycleReport{StatType: statType}
	if !statType.Valid() {
		return report, fmt.Errorf("%w: %q", model.ErrUnknownStatType, statType)
	}
	start := s.clock.Now()
	cad := s.cadences[statType]

	records, err := s.store.List(ctx, cache.ListFilter{
		StatType: statType,
		OrderBy:  cache.ByAccessCount,
		Limit:    s.scanLimit,
	})
	if err != nil {
		return report, fmt.Errorf("listing %s records: %w", statType, err)
	}
	report.Scanned = len(records)

	batch := s.enqueue(statType, records, cad)
	report.Queued = len(batch)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, e := range batch {
		g.Go(func() error {
			stored := s.refresh(gctx, e)
			mu.Lock()
			if stored {
				report.Refreshed++
			} else {
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	swept, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.logger.Warn("sweeping expired records failed", "error", err)
	}
	report.Swept = swept
	s.metrics.ObserveSweep(swept)
	report.Duration = s.clock.Since(start)

	if report.Queued > 0 || report.Swept > 0 {
		s.logger.Info("refresh cycle finished",
			"stat_type", statType,
			"scanned", report.Scanned,
			"refreshed", report.Refreshed,
			"failed", report.Failed,
			"swept", report.Swept,
			"duration", report.Duration,
		)
	}
	return report, nil
}

// enqueue moves eligible records into the due-queue of statType and pops
// the due batch. Popped keys are marked Computing.
func (s *RefreshScheduler) enqueue(statType model.StatType, records []*cache.Record, cad Cadence) []*dueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	q := s.queues[statType]
	seen := make(map[model.Key]struct{}, len(records))

	for _, rec := range records {
		if rec.ExpiresAt != nil {
			// TTL records expire on their own.
			continue
		}
		seen[rec.Key] = struct{}{}
		st := s.states[rec.Key]
		if st != nil && !st.eligible(now) {
			if st.state == StateFailed {
				s.metrics.ObserveRefresh(string(statType), outcomeSkipped)
			}
			continue
		}
		if st == nil {
			st = newKeyState(s.backoff, s.clock)
			s.states[rec.Key] = st
		}
		st.state = StateQueued
		q.Upsert(rec, rec.ComputedAt.Add(cad.RefreshAfter))
	}

	// Keys that left the store were invalidated or expired.
	for _, key := range q.Retain(seen) {
		delete(s.states, key)
	}
	for key, st := range s.states {
		if key.Type != statType || st.state == StateComputing {
			continue
		}
		if _, ok := seen[key]; !ok {
			delete(s.states, key)
		}
	}

	batch := q.PopDue(now, cad.BatchSize)
	for _, e := range batch {
		s.states[e.key].state = StateComputing
	}
	s.metrics.SetQueueDepth(string(statType), q.Len())
	return batch
}

// refresh recomputes one popped entry and records the outcome.
func (s *RefreshScheduler) refresh(ctx context.Context, e *dueEntry) bool {
	_, err := s.refresher.RefreshFrom(ctx, e.record)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[e.key]
	if st == nil {
		st = newKeyState(s.backoff, s.clock)
		s.states[e.key] = st
	}

	if err != nil {
		delay := st.fail(s.clock.Now())
		s.metrics.ObserveRefresh(string(e.key.Type), outcomeFailed)
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "scheduled refresh failed",
			"stat_type", e.key.Type,
			"identifier", e.key.Identifier,
			"failures", st.failures,
			"retry_in", delay,
			"error", err,
		)
		return false
	}

	st.state = StateStored
	s.metrics.ObserveRefresh(string(e.key.Type), outcomeStored)
	// Stored is transient: the key is Idle again with a fresh backoff.
	delete(s.states, e.key)
	return true
}

// AddJob registers an additional periodic job started alongside the refresh jobs.
// It must be called before Start.
func (s *RefreshScheduler) AddJob(job Job) {
	s.extra = append(s.extra, job)
}

// Start schedules one refresh job per stat type plus the added jobs and starts cron.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cronLogger := newCronLogger(s.logger)
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	jobs := make([]Job, 0, len(model.AllStatTypes)+len(s.extra))
	for _, statType := range model.AllStatTypes {
		jobs = append(jobs, Job{
			Source:          JobSource,
			Name:            string(statType),
			Description:     "Refresh popular " + string(statType) + " records",
			DefaultSchedule: s.cadences[statType].Schedule,
			Manual:          true,
			Run: func(ctx context.Context) error {
				_, err := s.RunCycle(ctx, statType)
				return err
			},
		})
	}
	jobs = append(jobs, s.extra...)

	for _, job := range jobs {
		if err := s.registry.Schedule(runCtx, c, job); err != nil {
			cancel()
			return err
		}
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info("scheduler started", "jobs", len(c.Entries()))
	return nil
}

// Stop stops cron and waits for running jobs until ctx ends.
func (s *RefreshScheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	defer s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out; cancelling running jobs")
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func newCronLogger(logger *slog.Logger) cron.Logger {
	return cronLogger{logger: logger.With("category", "scheduler")}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
