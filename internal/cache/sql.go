// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/store"
)

// SQLStore keeps records in the stat_records table of the application database.
type SQLStore struct {
	queries *store.Queries
	clock   clockwork.Clock
	closed  atomic.Bool

	// Statistics
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	rejects atomic.Int64
}

// NewSQLStore creates a store on top of a migrated database.
func NewSQLStore(db store.DBTX, clock clockwork.Clock) *SQLStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SQLStore{queries: store.New(db), clock: clock}
}

// Get retrieves a record.
func (s *SQLStore) Get(ctx context.Context, key model.Key, maxAge time.Duration) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrCacheClosed
	}

	row, err := s.queries.GetStatRecord(ctx, rowKey(key))
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	rec := fromRow(row)
	now := s.clock.Now()
	if rec.Expired(now) || (maxAge > 0 && rec.Age(now) > maxAge) {
		s.misses.Add(1)
		return nil, ErrCacheMiss
	}

	s.hits.Add(1)
	return rec, nil
}

// Put stores rec unless a record computed later already exists.
func (s *SQLStore) Put(ctx context.Context, rec *Record) (bool, error) {
	if s.closed.Load() {
		return false, ErrCacheClosed
	}

	stored, err := s.queries.UpsertStatRecord(ctx, store.StatRecord{
		StatType:    string(rec.Key.Type),
		Identifier:  rec.Key.Identifier,
		ParamsHash:  rec.Key.ParamsHash,
		Params:      string(rec.Params),
		Payload:     rec.Payload,
		ComputedAt:  rec.ComputedAt,
		ExpiresAt:   rec.ExpiresAt,
		AccessCount: rec.AccessCount,
		Watermark:   rec.Watermark,
	})
	if err != nil {
		return false, err
	}
	if stored {
		s.sets.Add(1)
	} else {
		s.rejects.Add(1)
	}
	return stored, nil
}

// Invalidate removes every params variant of (statType, identifier).
func (s *SQLStore) Invalidate(ctx context.Context, statType model.StatType, identifier string) (int, error) {
	if s.closed.Load() {
		return 0, ErrCacheClosed
	}
	n, err := s.queries.DeleteStatRecordsByIdentifier(ctx, string(statType), identifier)
	return int(n), err
}

// SweepExpired removes logically expired records.
func (s *SQLStore) SweepExpired(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrCacheClosed
	}
	n, err := s.queries.DeleteExpiredStatRecords(ctx, s.clock.Now())
	return int(n), err
}

// Touch increments the access counter of key.
func (s *SQLStore) Touch(ctx context.Context, key model.Key) error {
	if s.closed.Load() {
		return ErrCacheClosed
	}
	return s.queries.TouchStatRecord(ctx, rowKey(key))
}

// List returns unexpired records.
func (s *SQLStore) List(ctx context.Context, f ListFilter) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrCacheClosed
	}

	order := store.OrderByAccessCount
	if f.OrderBy == ByComputedAt {
		order = store.OrderByComputedAt
	}
	rows, err := s.queries.ListStatRecords(ctx, store.ListStatRecordsParams{
		StatType:   string(f.StatType),
		Identifier: f.Identifier,
		Now:        s.clock.Now(),
		OrderBy:    order,
		Limit:      f.Limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// Close marks the store closed. The database handle belongs to the caller.
func (s *SQLStore) Close() error {
	s.closed.Store(true)
	return nil
}

// Stats returns store statistics. Items is not tracked.
func (s *SQLStore) Stats() Stats {
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Rejects: s.rejects.Load(),
	}
}

// ResetStats resets the statistics counters.
func (s *SQLStore) ResetStats() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.rejects.Store(0)
}

func rowKey(key model.Key) store.StatRecordKey {
	return store.StatRecordKey{
		StatType:   string(key.Type),
		Identifier: key.Identifier,
		ParamsHash: key.ParamsHash,
	}
}

func fromRow(row store.StatRecord) *Record {
	return &Record{
		Key: model.Key{
			Type:       model.StatType(row.StatType),
			Identifier: row.Identifier,
			ParamsHash: row.ParamsHash,
		},
		Params:      []byte(row.Params),
		Payload:     row.Payload,
		ComputedAt:  row.ComputedAt,
		ExpiresAt:   row.ExpiresAt,
		AccessCount: row.AccessCount,
		Watermark:   row.Watermark,
	}
}

var _ Backend = (*SQLStore)(nil)
var _ StatsProvider = (*SQLStore)(nil)
