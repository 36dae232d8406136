// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// KeyState is the refresh state of one scheduled key.
type KeyState int

// Key states. Stored returns to Idle immediately; Failed holds until its
// backoff elapses.
const (
	StateIdle KeyState = iota
	StateQueued
	StateComputing
	StateStored
	StateFailed
)

func (s KeyState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateComputing:
		return "computing"
	case StateStored:
		return "stored"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// BackoffOptions configures the retry delay after failed refreshes.
type BackoffOptions struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultBackoffOptions returns the delays used in production.
func DefaultBackoffOptions() BackoffOptions {
	return BackoffOptions{
		InitialInterval:     30 * time.Second,
		MaxInterval:         30 * time.Minute,
		Multiplier:          2,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

// keyState tracks one key between cycles. Keys without an entry are Idle.
type keyState struct {
	state    KeyState
	failures int
	retryAt  time.Time
	bo       *backoff.ExponentialBackOff
}

func newKeyState(opts BackoffOptions, clock clockwork.Clock) *keyState {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialInterval
	bo.MaxInterval = opts.MaxInterval
	bo.Multiplier = opts.Multiplier
	bo.RandomizationFactor = opts.RandomizationFactor
	bo.MaxElapsedTime = 0 // keys are retried for as long as they stay cached
	bo.Clock = clock
	bo.Reset()
	return &keyState{state: StateIdle, bo: bo}
}

// fail records a failed refresh at now and arms the next retry.
func (s *keyState) fail(now time.Time) time.Duration {
	s.failures++
	s.state = StateFailed
	delay := s.bo.NextBackOff()
	s.retryAt = now.Add(delay)
	return delay
}

// eligible reports whether the key may be queued, or requeued, at now.
func (s *keyState) eligible(now time.Time) bool {
	switch s.state {
	case StateComputing:
		return false
	case StateFailed:
		return !now.Before(s.retryAt)
	}
	return true
}
