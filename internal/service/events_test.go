// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/testutil"
)

var serviceNow = time.Date(2026, 5, 20, 15, 0, 0, 0, time.UTC)

func TestLogEvent(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	svc := NewEventService(db, clockwork.NewFakeClockAt(serviceNow))
	ctx := context.Background()

	err := svc.LogEvent(ctx, model.EventLevelInfo, model.EventCategoryScheduler, "refresh cycle finished", map[string]any{
		"refreshed": 3,
	})
	if err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var level, category, message, metadata string
	var createdAt int64
	err = db.QueryRow("SELECT level, category, message, metadata, created_at FROM events").Scan(&level, &category, &message, &metadata, &createdAt)
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if level != model.EventLevelInfo {
		t.Errorf("level = %q, want %q", level, model.EventLevelInfo)
	}
	if category != model.EventCategoryScheduler {
		t.Errorf("category = %q, want %q", category, model.EventCategoryScheduler)
	}
	if message != "refresh cycle finished" {
		t.Errorf("message = %q", message)
	}
	if metadata != `{"refreshed":3}` {
		t.Errorf("metadata = %q, want %q", metadata, `{"refreshed":3}`)
	}
	if createdAt != serviceNow.UnixMilli() {
		t.Errorf("created_at = %d, want %d", createdAt, serviceNow.UnixMilli())
	}
}

func TestLogEvent_NilMetadata(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	svc := NewEventService(db, nil)
	if err := svc.LogWarning(context.Background(), model.EventCategoryCache, "store degraded", nil); err != nil {
		t.Fatalf("LogWarning failed: %v", err)
	}

	var metadata string
	if err := db.QueryRow("SELECT metadata FROM events").Scan(&metadata); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if metadata != "{}" {
		t.Errorf("metadata = %q, want %q", metadata, "{}")
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name  string
		logFn func(*EventService, context.Context) error
		want  string
	}{
		{"info", func(svc *EventService, ctx context.Context) error {
			return svc.LogInfo(ctx, model.EventCategorySystem, "started", nil)
		}, model.EventLevelInfo},
		{"warning", func(svc *EventService, ctx context.Context) error {
			return svc.LogWarning(ctx, model.EventCategoryCache, "breaker open", nil)
		}, model.EventLevelWarning},
		{"error", func(svc *EventService, ctx context.Context) error {
			return svc.LogError(ctx, model.EventCategoryAggregate, "computation failed", nil)
		}, model.EventLevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, cleanup := testutil.TestDB(t)
			defer cleanup()

			svc := NewEventService(db, nil)
			if err := tt.logFn(svc, context.Background()); err != nil {
				t.Fatalf("log failed: %v", err)
			}
			events, err := svc.ListEvents(context.Background(), "", 10)
			if err != nil {
				t.Fatalf("ListEvents: %v", err)
			}
			if len(events) != 1 || events[0].Level != tt.want {
				t.Errorf("events = %+v, want one %s event", events, tt.want)
			}
		})
	}
}

func TestListEvents_Category(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	svc := NewEventService(db, nil)
	ctx := context.Background()
	_ = svc.LogInfo(ctx, model.EventCategoryCache, "a", nil)
	_ = svc.LogInfo(ctx, model.EventCategoryScheduler, "b", nil)
	_ = svc.LogInfo(ctx, model.EventCategoryCache, "c", nil)

	events, err := svc.ListEvents(ctx, model.EventCategoryCache, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d cache events, want 2", len(events))
	}
}

func TestDeleteOldEvents(t *testing.T) {
	db, cleanup := testutil.TestDB(t)
	defer cleanup()

	clock := clockwork.NewFakeClockAt(serviceNow)
	svc := NewEventService(db, clock)
	ctx := context.Background()

	if err := svc.LogInfo(ctx, model.EventCategorySystem, "old", nil); err != nil {
		t.Fatal(err)
	}
	clock.Advance(40 * 24 * time.Hour)
	if err := svc.LogInfo(ctx, model.EventCategorySystem, "recent", nil); err != nil {
		t.Fatal(err)
	}

	deleted, err := svc.DeleteOldEvents(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteOldEvents: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	events, _ := svc.ListEvents(ctx, "", 10)
	if len(events) != 1 || events[0].Message != "recent" {
		t.Errorf("remaining events = %+v", events)
	}
}
