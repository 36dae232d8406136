// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

// Error represents a resolver error.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrInvalidPolicy is returned for inconsistent freshness bounds.
	ErrInvalidPolicy Error = "invalid freshness policy"

	// ErrRefreshRateLimited is returned when a key was force-refreshed too recently.
	ErrRefreshRateLimited Error = "refresh rate limited"
)
