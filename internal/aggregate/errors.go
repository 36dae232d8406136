// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package aggregate

import (
	"fmt"

	"github.com/olegiv/reviewlens/internal/model"
)

// Error represents an aggregation error.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrInsufficientData means the window holds nothing to aggregate.
	// Callers treat it as an empty result rather than a failure.
	ErrInsufficientData Error = "insufficient data"

	// ErrIncrementalUnsupported is returned for stat types that can only be recomputed fully.
	ErrIncrementalUnsupported Error = "incremental update not supported"

	// ErrUnknownProduct is returned when a comparison names a product that does not exist.
	ErrUnknownProduct Error = "unknown product"
)

// ComputationError reports a failed aggregation for one statistic.
type ComputationError struct {
	StatType   model.StatType
	Identifier string
	Err        error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computing %s for %s: %v", e.StatType, e.Identifier, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

func computationError(q model.Query, err error) error {
	if err == nil {
		return nil
	}
	return &ComputationError{StatType: q.Type, Identifier: q.Identifier, Err: err}
}
