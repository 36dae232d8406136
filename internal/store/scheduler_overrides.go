// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"
)

// SchedulerOverrideKey addresses a job's schedule override.
type SchedulerOverrideKey struct {
	Source string
	Name   string
}

// GetSchedulerOverride returns the override schedule or sql.ErrNoRows.
func (q *Queries) GetSchedulerOverride(ctx context.Context, key SchedulerOverrideKey) (string, error) {
	var schedule string
	err := q.db.QueryRowContext(ctx,
		`SELECT override_schedule FROM scheduler_overrides WHERE source = ? AND name = ?`,
		key.Source, key.Name,
	).Scan(&schedule)
	return schedule, err
}

const upsertSchedulerOverride = `
INSERT INTO scheduler_overrides (source, name, override_schedule, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(source, name) DO UPDATE SET
    override_schedule = excluded.override_schedule,
    updated_at = excluded.updated_at
`

// UpsertSchedulerOverride persists a schedule override.
func (q *Queries) UpsertSchedulerOverride(ctx context.Context, key SchedulerOverrideKey, schedule string) error {
	_, err := q.db.ExecContext(ctx, upsertSchedulerOverride, key.Source, key.Name, schedule, toMillis(time.Now()))
	return err
}

// DeleteSchedulerOverride removes a schedule override.
func (q *Queries) DeleteSchedulerOverride(ctx context.Context, key SchedulerOverrideKey) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM scheduler_overrides WHERE source = ? AND name = ?`, key.Source, key.Name)
	return err
}
