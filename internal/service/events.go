// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package service provides the write-side business logic: review ingestion
// and the operational event log.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/store"
)

// EventService records and prunes operational events.
type EventService struct {
	queries *store.Queries
	clock   clockwork.Clock
}

// NewEventService creates a new EventService. A nil clock uses the real clock.
func NewEventService(db store.DBTX, clock clockwork.Clock) *EventService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EventService{
		queries: store.New(db),
		clock:   clock,
	}
}

// LogEvent creates a new event log entry.
func (s *EventService) LogEvent(ctx context.Context, level, category, message string, metadata map[string]any) error {
	metadataJSON := "{}"
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encoding event metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	_, err := s.queries.CreateEvent(ctx, store.CreateEventParams{
		Level:     level,
		Category:  category,
		Message:   message,
		Metadata:  metadataJSON,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("creating event: %w", err)
	}
	return nil
}

// LogInfo logs an info-level event.
func (s *EventService) LogInfo(ctx context.Context, category, message string, metadata map[string]any) error {
	return s.LogEvent(ctx, model.EventLevelInfo, category, message, metadata)
}

// LogWarning logs a warning-level event.
func (s *EventService) LogWarning(ctx context.Context, category, message string, metadata map[string]any) error {
	return s.LogEvent(ctx, model.EventLevelWarning, category, message, metadata)
}

// LogError logs an error-level event.
func (s *EventService) LogError(ctx context.Context, category, message string, metadata map[string]any) error {
	return s.LogEvent(ctx, model.EventLevelError, category, message, metadata)
}

// ListEvents returns the newest events, optionally limited to one category.
func (s *EventService) ListEvents(ctx context.Context, category string, limit int) ([]model.Event, error) {
	return s.queries.ListEvents(ctx, store.ListEventsParams{Category: category, Limit: limit})
}

// DeleteOldEvents removes events older than the specified duration.
func (s *EventService) DeleteOldEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	return s.queries.DeleteEventsBefore(ctx, cutoff)
}
