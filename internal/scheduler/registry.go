// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/reviewlens/internal/store"
)

// scheduleParser accepts standard five-field specs and descriptors such as "@every 5m".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a schedule the registry accepts.
func ValidateSchedule(spec string) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Error represents a scheduler error.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrJobNotFound is returned for jobs that were never registered.
	ErrJobNotFound Error = "job not found"

	// ErrManualTriggerUnavailable is returned by TriggerNow for jobs without Manual.
	ErrManualTriggerUnavailable Error = "manual trigger not available"
)

// Job describes a periodic job.
type Job struct {
	Source          string
	Name            string
	Description     string
	DefaultSchedule string
	// Run executes one pass of the job.
	Run func(ctx context.Context) error
	// Manual allows TriggerNow.
	Manual bool
}

func (j Job) key() string {
	return j.Source + ":" + j.Name
}

// registeredJob is a Job bound to a cron entry.
type registeredJob struct {
	Job
	schedule string // effective schedule (override or default)
	cron     *cron.Cron
	entryID  cron.EntryID
	run      func()
}

// JobInfo is the public view of a registered job.
type JobInfo struct {
	Source          string    `json:"source"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	DefaultSchedule string    `json:"default_schedule"`
	Schedule        string    `json:"schedule"`
	IsOverridden    bool      `json:"is_overridden"`
	LastRun         time.Time `json:"last_run"`
	NextRun         time.Time `json:"next_run"`
	CanTrigger      bool      `json:"can_trigger"`
}

// Registry keeps the cron entries of all jobs and their persisted schedule overrides.
type Registry struct {
	queries *store.Queries
	logger  *slog.Logger
	mu      sync.RWMutex
	jobs    map[string]*registeredJob // key: "source:name"
}

// NewRegistry creates a registry. db must carry the scheduler_overrides
// migration; a nil db keeps overrides in memory only.
func NewRegistry(db store.DBTX, logger *slog.Logger) *Registry {
	r := &Registry{
		logger: logger,
		jobs:   make(map[string]*registeredJob),
	}
	if db != nil {
		r.queries = store.New(db)
	}
	return r
}

// EffectiveSchedule returns the persisted override for a job, or def.
func (r *Registry) EffectiveSchedule(ctx context.Context, source, name, def string) string {
	if r.queries == nil {
		return def
	}
	override, err := r.queries.GetSchedulerOverride(ctx, store.SchedulerOverrideKey{Source: source, Name: name})
	switch {
	case err == nil && override != "":
		if ValidateSchedule(override) == nil {
			return override
		}
		r.logger.Warn("ignoring invalid schedule override", "source", source, "name", name, "schedule", override)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		r.logger.Warn("failed to read schedule override", "source", source, "name", name, "error", err)
	}
	return def
}

// Schedule adds job to c under its effective schedule and records it.
// Each run gets ctx; failures are logged and the job stays scheduled.
func (r *Registry) Schedule(ctx context.Context, c *cron.Cron, job Job) error {
	if err := ValidateSchedule(job.DefaultSchedule); err != nil {
		return fmt.Errorf("job %s: %w", job.key(), err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	schedule := r.EffectiveSchedule(lookupCtx, job.Source, job.Name, job.DefaultSchedule)
	cancel()

	run := func() {
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			r.logger.Error("scheduled job failed",
				"category", "scheduler",
				"source", job.Source,
				"name", job.Name,
				"error", err,
			)
			return
		}
		r.logger.Debug("scheduled job finished", "source", job.Source, "name", job.Name, "duration", time.Since(start))
	}

	entryID, err := c.AddFunc(schedule, run)
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", job.key(), err)
	}

	r.mu.Lock()
	r.jobs[job.key()] = &registeredJob{
		Job:      job,
		schedule: schedule,
		cron:     c,
		entryID:  entryID,
		run:      run,
	}
	r.mu.Unlock()

	r.logger.Debug("registered scheduled job", "source", job.Source, "name", job.Name, "schedule", schedule)
	return nil
}

// List returns all registered jobs sorted by source then name.
func (r *Registry) List() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]JobInfo, 0, len(r.jobs))
	for _, job := range r.jobs {
		entry := job.cron.Entry(job.entryID)
		result = append(result, JobInfo{
			Source:          job.Source,
			Name:            job.Name,
			Description:     job.Description,
			DefaultSchedule: job.DefaultSchedule,
			Schedule:        job.schedule,
			IsOverridden:    job.schedule != job.DefaultSchedule,
			LastRun:         entry.Prev,
			NextRun:         entry.Next,
			CanTrigger:      job.Manual,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Source != result[j].Source {
			return result[i].Source < result[j].Source
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// TriggerNow runs a job synchronously and returns its error.
func (r *Registry) TriggerNow(ctx context.Context, source, name string) error {
	r.mu.RLock()
	job, ok := r.jobs[source+":"+name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrJobNotFound, source, name)
	}
	if !job.Manual {
		return fmt.Errorf("%w for %s:%s", ErrManualTriggerUnavailable, source, name)
	}

	r.logger.Info("manually triggering job", "source", source, "name", name)
	return job.Run(ctx)
}

// UpdateSchedule moves a job to a new schedule and persists the override.
func (r *Registry) UpdateSchedule(ctx context.Context, source, name, schedule string) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[source+":"+name]
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrJobNotFound, source, name)
	}
	if err := r.reschedule(job, schedule); err != nil {
		return err
	}

	if err := r.persistOverride(ctx, source, name, schedule); err != nil {
		r.logger.Error("failed to persist schedule override", "error", err, "source", source, "name", name)
	}

	r.logger.Info("updated job schedule", "source", source, "name", name, "schedule", schedule)
	return nil
}

// ResetSchedule removes the override and restores the default schedule.
func (r *Registry) ResetSchedule(ctx context.Context, source, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[source+":"+name]
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrJobNotFound, source, name)
	}
	if job.schedule != job.DefaultSchedule {
		if err := r.reschedule(job, job.DefaultSchedule); err != nil {
			return err
		}
	}

	if err := r.persistOverride(ctx, source, name, ""); err != nil {
		r.logger.Error("failed to remove schedule override", "error", err, "source", source, "name", name)
	}

	r.logger.Info("reset job schedule to default", "source", source, "name", name, "schedule", job.DefaultSchedule)
	return nil
}

// Unregister removes a job and its cron entry. The persisted override is kept.
func (r *Registry) Unregister(source, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := source + ":" + name
	if job, ok := r.jobs[key]; ok {
		job.cron.Remove(job.entryID)
		delete(r.jobs, key)
		r.logger.Debug("unregistered scheduled job", "source", source, "name", name)
	}
}

// reschedule swaps the cron entry of job. Callers hold r.mu.
func (r *Registry) reschedule(job *registeredJob, schedule string) error {
	job.cron.Remove(job.entryID)
	entryID, err := job.cron.AddFunc(schedule, job.run)
	if err != nil {
		restored, restoreErr := job.cron.AddFunc(job.schedule, job.run)
		if restoreErr != nil {
			return fmt.Errorf("critical: failed to restore schedule after update failure: %w (original: %w)", restoreErr, err)
		}
		job.entryID = restored
		return fmt.Errorf("failed to apply new schedule: %w", err)
	}
	job.entryID = entryID
	job.schedule = schedule
	return nil
}

// persistOverride stores schedule for a job; an empty schedule deletes the override.
func (r *Registry) persistOverride(ctx context.Context, source, name, schedule string) error {
	if r.queries == nil {
		return nil
	}
	key := store.SchedulerOverrideKey{Source: source, Name: name}
	if schedule == "" {
		return r.queries.DeleteSchedulerOverride(ctx, key)
	}
	return r.queries.UpsertSchedulerOverride(ctx, key, schedule)
}
