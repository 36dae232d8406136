// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"fmt"
	"time"
)

// Mode selects how a resolver treats records older than MaxAge.
type Mode int

const (
	// ModeMustBeFresh recomputes synchronously when the record is older than MaxAge.
	ModeMustBeFresh Mode = iota
	// ModeStaleWhileRevalidate serves records up to StaleTolerance old and
	// refreshes them in the background.
	ModeStaleWhileRevalidate
)

func (m Mode) String() string {
	switch m {
	case ModeMustBeFresh:
		return "fresh"
	case ModeStaleWhileRevalidate:
		return "swr"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Policy is the freshness contract of one Resolve call.
type Policy struct {
	Mode           Mode
	MaxAge         time.Duration
	StaleTolerance time.Duration
}

// MustBeFresh accepts records no older than maxAge.
func MustBeFresh(maxAge time.Duration) Policy {
	return Policy{Mode: ModeMustBeFresh, MaxAge: maxAge}
}

// StaleWhileRevalidate accepts records no older than maxAge outright and
// records up to staleTolerance old while a refresh runs in the background.
func StaleWhileRevalidate(maxAge, staleTolerance time.Duration) Policy {
	return Policy{Mode: ModeStaleWhileRevalidate, MaxAge: maxAge, StaleTolerance: staleTolerance}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAge < 0 {
		return fmt.Errorf("%w: max age must not be negative", ErrInvalidPolicy)
	}
	switch p.Mode {
	case ModeMustBeFresh:
		return nil
	case ModeStaleWhileRevalidate:
		if p.StaleTolerance < p.MaxAge {
			return fmt.Errorf("%w: stale tolerance %s is below max age %s", ErrInvalidPolicy, p.StaleTolerance, p.MaxAge)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidPolicy, int(p.Mode))
	}
}

// ParseMode maps the API spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "fresh":
		return ModeMustBeFresh, nil
	case "swr":
		return ModeStaleWhileRevalidate, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidPolicy, s)
	}
}
