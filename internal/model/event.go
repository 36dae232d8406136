// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// Event levels
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// Event categories
const (
	EventCategoryCache     = "cache"
	EventCategoryScheduler = "scheduler"
	EventCategoryAggregate = "aggregate"
	EventCategoryIngest    = "ingest"
	EventCategorySystem    = "system"
)

// Event is an operational log entry persisted for later inspection.
type Event struct {
	ID        int64
	Level     string
	Category  string
	Message   string
	Metadata  string // JSON string
	CreatedAt time.Time
}
