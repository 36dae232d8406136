// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/olegiv/reviewlens/internal/model"
)

// MemoryStore is a thread-safe in-process Backend.
// Records are swapped as whole pointers under a mutex; readers get clones.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[model.Key]*Record
	clock   clockwork.Clock
	stopCh  chan struct{}
	closed  atomic.Bool

	// Statistics
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	rejects atomic.Int64
}

// MemoryStoreOptions configures the memory store.
type MemoryStoreOptions struct {
	Clock           clockwork.Clock
	CleanupInterval time.Duration // Interval for expired record cleanup (0 = no cleanup)
}

// NewMemoryStore creates a new memory store with the given options.
func NewMemoryStore(opts MemoryStoreOptions) *MemoryStore {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	s := &MemoryStore{
		records: make(map[model.Key]*Record),
		clock:   opts.Clock,
		stopCh:  make(chan struct{}),
	}

	if opts.CleanupInterval > 0 {
		go s.cleanupLoop(opts.CleanupInterval)
	}

	return s
}

// Get retrieves a record.
func (s *MemoryStore) Get(_ context.Context, key model.Key, maxAge time.Duration) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrCacheClosed
	}

	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()

	now := s.clock.Now()
	if !ok || rec.Expired(now) || (maxAge > 0 && rec.Age(now) > maxAge) {
		s.misses.Add(1)
		return nil, ErrCacheMiss
	}

	s.hits.Add(1)
	return rec.Clone(), nil
}

// Put stores rec unless a record computed later already exists.
func (s *MemoryStore) Put(_ context.Context, rec *Record) (bool, error) {
	if s.closed.Load() {
		return false, ErrCacheClosed
	}

	next := rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.records[rec.Key]; ok {
		if cur.ComputedAt.After(rec.ComputedAt) {
			s.rejects.Add(1)
			return false, nil
		}
		if cur.AccessCount > next.AccessCount {
			next.AccessCount = cur.AccessCount
		}
	}

	s.records[rec.Key] = next
	s.sets.Add(1)
	return true, nil
}

// Invalidate removes every params variant of (statType, identifier).
func (s *MemoryStore) Invalidate(_ context.Context, statType model.StatType, identifier string) (int, error) {
	if s.closed.Load() {
		return 0, ErrCacheClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.records {
		if key.Type == statType && key.Identifier == identifier {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// SweepExpired removes logically expired records.
func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrCacheClosed
	}
	return s.removeExpired(), nil
}

// Touch increments the access counter of key.
func (s *MemoryStore) Touch(_ context.Context, key model.Key) error {
	if s.closed.Load() {
		return ErrCacheClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.records[key]; ok {
		next := *cur
		next.AccessCount++
		s.records[key] = &next
	}
	return nil
}

// List returns unexpired records.
func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrCacheClosed
	}

	now := s.clock.Now()
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for key, rec := range s.records {
		if rec.Expired(now) {
			continue
		}
		if f.StatType != "" && key.Type != f.StatType {
			continue
		}
		if f.Identifier != "" && key.Identifier != f.Identifier {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sortRecords(out, f.OrderBy)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close stops the cleanup goroutine and rejects further calls.
func (s *MemoryStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
	return nil
}

// Stats returns store statistics.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	items := len(s.records)
	s.mu.RUnlock()

	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Rejects: s.rejects.Load(),
		Items:   items,
	}
}

// ResetStats resets the statistics counters.
func (s *MemoryStore) ResetStats() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.rejects.Store(0)
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.removeExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) removeExpired() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, key)
			n++
		}
	}
	return n
}

// sortRecords orders records deterministically for List.
func sortRecords(recs []*Record, order Order) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		switch order {
		case ByComputedAt:
			if !a.ComputedAt.Equal(b.ComputedAt) {
				return a.ComputedAt.Before(b.ComputedAt)
			}
		default:
			if a.AccessCount != b.AccessCount {
				return a.AccessCount > b.AccessCount
			}
		}
		return a.Key.String() < b.Key.String()
	})
}

var _ Backend = (*MemoryStore)(nil)
var _ StatsProvider = (*MemoryStore)(nil)
