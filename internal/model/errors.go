// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

// Error represents a validation error of the model package.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrUnknownStatType is returned for statistic types outside the closed set.
	ErrUnknownStatType Error = "unknown stat type"

	// ErrInvalidParams is returned when statistic parameters fail validation.
	ErrInvalidParams Error = "invalid stat parameters"
)
