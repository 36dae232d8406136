// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/store"
	"github.com/olegiv/reviewlens/internal/testutil"
)

// discardHandler is a slog.Handler that discards all logs.
type discardHandler struct{}

func (h discardHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h discardHandler) WithGroup(string) slog.Handler             { return h }

func listEvents(t *testing.T, db *sql.DB) []model.Event {
	t.Helper()
	events, err := store.New(db).ListEvents(context.Background(), store.ListEventsParams{Limit: 50})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	return events
}

func decodeMetadata(t *testing.T, e model.Event) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal([]byte(e.Metadata), &m); err != nil {
		t.Fatalf("metadata %q is not JSON: %v", e.Metadata, err)
	}
	return m
}

func TestEventLogHandler_Levels(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	logger := slog.New(NewEventLogHandler(discardHandler{}, db))
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("store unavailable")
	logger.Error("computation failed")

	events := listEvents(t, db)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	levels := map[string]string{}
	for _, e := range events {
		levels[e.Message] = e.Level
	}
	if levels["store unavailable"] != model.EventLevelWarning {
		t.Errorf("warn level = %q", levels["store unavailable"])
	}
	if levels["computation failed"] != model.EventLevelError {
		t.Errorf("error level = %q", levels["computation failed"])
	}
}

func TestEventLogHandler_CustomLevel(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	logger := slog.New(NewEventLogHandlerWithLevel(discardHandler{}, db, slog.LevelError))
	logger.Warn("refresh slow")
	logger.Error("refresh failed")

	events := listEvents(t, db)
	if len(events) != 1 || events[0].Message != "refresh failed" {
		t.Errorf("events = %+v, want only the error", events)
	}
}

func TestEventLogHandler_CategoryInference(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"cache backend unreachable", model.EventCategoryCache},
		{"circuit breaker opened", model.EventCategoryCache},
		{"scheduled refresh failed", model.EventCategoryScheduler},
		{"cron: panic", model.EventCategoryScheduler},
		{"computation timed out", model.EventCategoryAggregate},
		{"review rejected", model.EventCategoryIngest},
		{"something else", model.EventCategorySystem},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			db, cleanup := testutil.TestDB(t)
			defer cleanup()

			slog.New(NewEventLogHandler(discardHandler{}, db)).Warn(tt.message)

			events := listEvents(t, db)
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			if events[0].Category != tt.want {
				t.Errorf("Category = %q, want %q", events[0].Category, tt.want)
			}
		})
	}
}

func TestEventLogHandler_ExplicitCategory(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	logger := slog.New(NewEventLogHandler(discardHandler{}, db))
	logger.Error("cache miss storm", "category", model.EventCategoryAggregate)

	// A category bound through With is honored too.
	logger.With("category", model.EventCategoryScheduler).Warn("something happened")

	events := listEvents(t, db)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	got := map[string]string{}
	for _, e := range events {
		got[e.Message] = e.Category
	}
	if got["cache miss storm"] != model.EventCategoryAggregate {
		t.Errorf("explicit category = %q", got["cache miss storm"])
	}
	if got["something happened"] != model.EventCategoryScheduler {
		t.Errorf("With category = %q", got["something happened"])
	}
}

func TestEventLogHandler_Metadata(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	logger := slog.New(NewEventLogHandler(discardHandler{}, db)).
		With("component", "resolver").
		WithGroup("stat")
	logger.Error("refresh failed",
		"type", "sentiment_trend",
		"identifier", `P"1`,
		"error", errors.New("line1\nline2"),
		slog.Group("window", "days", 30),
	)

	events := listEvents(t, db)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	m := decodeMetadata(t, events[0])
	want := map[string]string{
		"component":        "resolver",
		"stat.type":        "sentiment_trend",
		"stat.identifier":  `P"1`,
		"stat.error":       "line1\nline2",
		"stat.window.days": "30",
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("metadata[%q] = %q, want %q", k, m[k], v)
		}
	}
	if _, ok := m["category"]; ok {
		t.Error("category should not be part of metadata")
	}
}

func TestEventLogHandler_EmptyMetadata(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	slog.New(NewEventLogHandler(discardHandler{}, db)).Warn("bare", "category", model.EventCategorySystem)

	events := listEvents(t, db)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Metadata != "{}" {
		t.Errorf("Metadata = %q, want {}", events[0].Metadata)
	}
}

func TestSlogLevelToEventLevel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, model.EventLevelInfo},
		{slog.LevelInfo, model.EventLevelInfo},
		{slog.LevelWarn, model.EventLevelWarning},
		{slog.LevelError, model.EventLevelError},
		{slog.LevelError + 4, model.EventLevelError},
	}
	for _, tt := range tests {
		if got := slogLevelToEventLevel(tt.level); got != tt.want {
			t.Errorf("slogLevelToEventLevel(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}
