// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/reviewlens/internal/testutil"
)

func newTestRegistry(t *testing.T) (*Registry, *sql.DB, *cron.Cron) {
	t.Helper()
	db := testutil.TestMemoryDB(t)
	c := cron.New(cron.WithParser(scheduleParser))
	t.Cleanup(func() { <-c.Stop().Done() })
	return NewRegistry(db, testutil.TestLoggerSilent()), db, c
}

func noopJob(source, name, schedule string) Job {
	return Job{
		Source:          source,
		Name:            name,
		Description:     "Test job",
		DefaultSchedule: schedule,
		Run:             func(context.Context) error { return nil },
	}
}

func readOverride(t *testing.T, db *sql.DB, source, name string) (string, error) {
	t.Helper()
	var schedule string
	err := db.QueryRow("SELECT override_schedule FROM scheduler_overrides WHERE source = ? AND name = ?", source, name).Scan(&schedule)
	return schedule, err
}

func TestSchedule(t *testing.T) {
	registry, _, c := newTestRegistry(t)

	if err := registry.Schedule(context.Background(), c, noopJob("refresh", "sentiment_trend", "@every 5m")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	jobs := registry.List()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	job := jobs[0]
	if job.Source != "refresh" || job.Name != "sentiment_trend" {
		t.Errorf("job = %s:%s", job.Source, job.Name)
	}
	if job.Schedule != "@every 5m" {
		t.Errorf("job.Schedule = %q, want %q", job.Schedule, "@every 5m")
	}
	if job.IsOverridden {
		t.Error("job.IsOverridden should be false")
	}
	if job.CanTrigger {
		t.Error("job.CanTrigger should be false")
	}
	if len(c.Entries()) != 1 {
		t.Errorf("cron entries = %d, want 1", len(c.Entries()))
	}
}

func TestScheduleInvalidDefault(t *testing.T) {
	registry, _, c := newTestRegistry(t)

	err := registry.Schedule(context.Background(), c, noopJob("refresh", "bad", "every five minutes"))
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if len(registry.List()) != 0 {
		t.Error("invalid job should not be registered")
	}
}

func TestScheduleUsesPersistedOverride(t *testing.T) {
	registry, db, c := newTestRegistry(t)

	if _, err := db.Exec("INSERT INTO scheduler_overrides (source, name, override_schedule, updated_at) VALUES (?, ?, ?, ?)",
		"refresh", "keyword_sentiment", "@every 1h", 0); err != nil {
		t.Fatalf("failed to insert override: %v", err)
	}

	if err := registry.Schedule(context.Background(), c, noopJob("refresh", "keyword_sentiment", "@every 30m")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	job := registry.List()[0]
	if job.Schedule != "@every 1h" {
		t.Errorf("job.Schedule = %q, want override %q", job.Schedule, "@every 1h")
	}
	if !job.IsOverridden {
		t.Error("job.IsOverridden should be true")
	}
}

func TestEffectiveSchedule(t *testing.T) {
	registry, db, _ := newTestRegistry(t)
	ctx := context.Background()

	if got := registry.EffectiveSchedule(ctx, "refresh", "x", "@every 2m"); got != "@every 2m" {
		t.Errorf("EffectiveSchedule = %q, want default", got)
	}

	if _, err := db.Exec("INSERT INTO scheduler_overrides (source, name, override_schedule, updated_at) VALUES (?, ?, ?, ?)",
		"refresh", "x", "not a schedule", 0); err != nil {
		t.Fatalf("failed to insert override: %v", err)
	}
	if got := registry.EffectiveSchedule(ctx, "refresh", "x", "@every 2m"); got != "@every 2m" {
		t.Errorf("invalid override should be ignored, got %q", got)
	}
}

func TestUpdateSchedule(t *testing.T) {
	registry, db, c := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.Schedule(ctx, c, noopJob("refresh", "sentiment_trend", "@every 5m")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := registry.UpdateSchedule(ctx, "refresh", "sentiment_trend", "*/15 * * * *"); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}

	job := registry.List()[0]
	if job.Schedule != "*/15 * * * *" {
		t.Errorf("job.Schedule = %q", job.Schedule)
	}
	if !job.IsOverridden {
		t.Error("job.IsOverridden should be true after update")
	}
	if len(c.Entries()) != 1 {
		t.Errorf("cron entries = %d, want 1", len(c.Entries()))
	}

	override, err := readOverride(t, db, "refresh", "sentiment_trend")
	if err != nil {
		t.Fatalf("override not persisted: %v", err)
	}
	if override != "*/15 * * * *" {
		t.Errorf("override = %q", override)
	}
}

func TestUpdateScheduleInvalidCron(t *testing.T) {
	registry, _, c := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.Schedule(ctx, c, noopJob("refresh", "sentiment_trend", "@every 5m")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	err := registry.UpdateSchedule(ctx, "refresh", "sentiment_trend", "61 * * * *")
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if !strings.Contains(err.Error(), "invalid cron expression") {
		t.Errorf("unexpected error: %v", err)
	}
	if got := registry.List()[0].Schedule; got != "@every 5m" {
		t.Errorf("schedule changed to %q after failed update", got)
	}
}

func TestUpdateScheduleNotFound(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	if err := registry.UpdateSchedule(context.Background(), "refresh", "missing", "@every 1h"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("error = %v, want ErrJobNotFound", err)
	}
}

func TestResetSchedule(t *testing.T) {
	registry, db, c := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.Schedule(ctx, c, noopJob("refresh", "product_comparison", "@every 10m")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := registry.UpdateSchedule(ctx, "refresh", "product_comparison", "@every 1h"); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	if err := registry.ResetSchedule(ctx, "refresh", "product_comparison"); err != nil {
		t.Fatalf("ResetSchedule: %v", err)
	}

	job := registry.List()[0]
	if job.Schedule != "@every 10m" || job.IsOverridden {
		t.Errorf("job = %+v, want default schedule", job)
	}
	if _, err := readOverride(t, db, "refresh", "product_comparison"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("override should be deleted, got err %v", err)
	}

	// Resetting an already default job is a no-op.
	if err := registry.ResetSchedule(ctx, "refresh", "product_comparison"); err != nil {
		t.Errorf("ResetSchedule on default: %v", err)
	}
}

func TestResetScheduleNotFound(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	if err := registry.ResetSchedule(context.Background(), "refresh", "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestTriggerNow(t *testing.T) {
	registry, _, c := newTestRegistry(t)
	ctx := context.Background()

	calls := 0
	job := noopJob("refresh", "platform_rating_distribution", "@every 2m")
	job.Manual = true
	job.Run = func(context.Context) error {
		calls++
		return nil
	}
	if err := registry.Schedule(ctx, c, job); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if err := registry.TriggerNow(ctx, "refresh", "platform_rating_distribution"); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestTriggerNowReturnsJobError(t *testing.T) {
	registry, _, c := newTestRegistry(t)
	ctx := context.Background()

	errBoom := errors.New("boom")
	job := noopJob("retention", "events", "0 3 * * *")
	job.Manual = true
	job.Run = func(context.Context) error { return errBoom }
	if err := registry.Schedule(ctx, c, job); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if err := registry.TriggerNow(ctx, "retention", "events"); !errors.Is(err, errBoom) {
		t.Errorf("TriggerNow error = %v, want %v", err, errBoom)
	}
}

func TestTriggerNowNotAllowed(t *testing.T) {
	registry, _, c := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.TriggerNow(ctx, "refresh", "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("error = %v, want ErrJobNotFound", err)
	}

	if err := registry.Schedule(ctx, c, noopJob("refresh", "auto", "@every 1h")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	err := registry.TriggerNow(ctx, "refresh", "auto")
	if !errors.Is(err, ErrManualTriggerUnavailable) {
		t.Errorf("expected manual trigger error, got %v", err)
	}
}

func TestListSorted(t *testing.T) {
	registry, _, c := newTestRegistry(t)
	ctx := context.Background()

	for _, j := range []Job{
		noopJob("retention", "events", "0 3 * * *"),
		noopJob("refresh", "sentiment_trend", "@every 5m"),
		noopJob("refresh", "keyword_sentiment", "@every 30m"),
	} {
		if err := registry.Schedule(ctx, c, j); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	jobs := registry.List()
	want := []string{"refresh:keyword_sentiment", "refresh:sentiment_trend", "retention:events"}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for i, w := range want {
		if got := jobs[i].Source + ":" + jobs[i].Name; got != w {
			t.Errorf("jobs[%d] = %q, want %q", i, got, w)
		}
	}
}

func TestUnregister(t *testing.T) {
	registry, _, c := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.Schedule(ctx, c, noopJob("refresh", "sentiment_trend", "@every 5m")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	registry.Unregister("refresh", "sentiment_trend")

	if len(registry.List()) != 0 {
		t.Error("job still listed after Unregister")
	}
	if len(c.Entries()) != 0 {
		t.Error("cron entry still present after Unregister")
	}
}

func TestRegistryWithoutDB(t *testing.T) {
	registry := NewRegistry(nil, testutil.TestLoggerSilent())
	c := cron.New(cron.WithParser(scheduleParser))
	ctx := context.Background()

	if err := registry.Schedule(ctx, c, noopJob("refresh", "sentiment_trend", "@every 5m")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := registry.UpdateSchedule(ctx, "refresh", "sentiment_trend", "@every 1m"); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	if err := registry.ResetSchedule(ctx, "refresh", "sentiment_trend"); err != nil {
		t.Fatalf("ResetSchedule: %v", err)
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"@every 5m", false},
		{"@hourly", false},
		{"0 3 * * *", false},
		{"*/15 * * * *", false},
		{"", true},
		{"61 * * * *", true},
		{"* * * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ValidateSchedule(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}
