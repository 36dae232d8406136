// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cache stores precomputed statistics keyed by (stat type, identifier, params).
package cache

import (
	"context"
	"time"

	"github.com/olegiv/reviewlens/internal/model"
)

// Record is one precomputed statistic. Records are immutable once built;
// stores replace them whole.
type Record struct {
	Key         model.Key
	Params      []byte // JSON encoded model.Params
	Payload     []byte // JSON encoded result
	ComputedAt  time.Time
	ExpiresAt   *time.Time // nil means the refresh scheduler owns its lifetime
	AccessCount int64
	// Watermark is the last review sequence folded into Payload.
	Watermark int64
}

// Expired reports whether the record is logically expired at now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Age returns how old the record is at now.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.ComputedAt)
}

// Query restores the query that produced the record.
func (r *Record) Query() (model.Query, error) {
	params, err := model.DecodeParams(r.Key.Type, r.Params)
	if err != nil {
		return model.Query{}, err
	}
	return model.Query{Type: r.Key.Type, Identifier: r.Key.Identifier, Params: params}, nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Params = append([]byte(nil), r.Params...)
	c.Payload = append([]byte(nil), r.Payload...)
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

// NewRecord builds a record for q. Times are truncated to milliseconds,
// the precision every backend persists.
func NewRecord(q model.Query, payload []byte, computedAt time.Time, ttl time.Duration) (*Record, error) {
	params, err := model.EncodeParams(q.Params)
	if err != nil {
		return nil, err
	}
	computedAt = time.UnixMilli(computedAt.UnixMilli()).UTC()
	rec := &Record{
		Key:        q.Key(),
		Params:     params,
		Payload:    payload,
		ComputedAt: computedAt,
	}
	if ttl > 0 {
		exp := computedAt.Add(ttl)
		rec.ExpiresAt = &exp
	}
	return rec, nil
}

// Store is the precomputed store contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Get returns the record for key, or ErrCacheMiss when it is absent,
	// logically expired, or older than maxAge. maxAge 0 disables the age bound.
	Get(ctx context.Context, key model.Key, maxAge time.Duration) (*Record, error)

	// Put atomically replaces the record for rec.Key unless the stored one
	// was computed later. It reports whether rec was stored.
	Put(ctx context.Context, rec *Record) (bool, error)

	// Invalidate removes every params variant of (statType, identifier).
	Invalidate(ctx context.Context, statType model.StatType, identifier string) (int, error)

	// SweepExpired removes logically expired records. It is idempotent.
	SweepExpired(ctx context.Context) (int, error)
}

// Order selects the sort order of List.
type Order int

const (
	// ByAccessCount lists the most accessed records first.
	ByAccessCount Order = iota
	// ByComputedAt lists the oldest computations first.
	ByComputedAt
)

// ListFilter narrows List. Zero fields are ignored.
type ListFilter struct {
	StatType   model.StatType
	Identifier string
	OrderBy    Order
	Limit      int
}

// Tracker exposes access bookkeeping and enumeration.
type Tracker interface {
	// Touch increments the access counter of key. Missing keys are ignored.
	Touch(ctx context.Context, key model.Key) error

	// List returns unexpired records.
	List(ctx context.Context, f ListFilter) ([]*Record, error)
}

// Backend is a complete store implementation.
type Backend interface {
	Store
	Tracker
	Close() error
}

// StatsProvider is an optional interface for backends that keep statistics.
type StatsProvider interface {
	Stats() Stats
	ResetStats()
}

// Stats holds backend statistics.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Rejects int64 `json:"rejects"` // conditional puts refused because a newer record exists
	Items   int   `json:"items"`
}

// HitRate returns the hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Error represents an error type for store operations.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrCacheMiss indicates the key was not found, expired, or is too old.
	ErrCacheMiss Error = "cache miss"

	// ErrCacheClosed indicates the store has been closed.
	ErrCacheClosed Error = "cache closed"

	// ErrStoreUnavailable indicates the backend cannot serve requests.
	ErrStoreUnavailable Error = "precomputed store unavailable"
)
