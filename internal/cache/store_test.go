// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/testutil"
)

// storeEpoch lies ahead of the wall clock so Redis key expiry never fires
// before the fake clock says a record has expired.
var storeEpoch = time.Now().UTC().Truncate(time.Millisecond).Add(24 * time.Hour)

// skipIfNoRedis skips the test if Redis is not configured.
func skipIfNoRedis(t *testing.T) string {
	url := os.Getenv("REVIEWLENS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping Redis tests: REVIEWLENS_TEST_REDIS_URL not set")
	}
	return url
}

type backendFactory func(t *testing.T, clock clockwork.Clock) Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T, clock clockwork.Clock) Backend {
			s := NewMemoryStore(MemoryStoreOptions{Clock: clock})
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"sqlite": func(t *testing.T, clock clockwork.Clock) Backend {
			db, cleanup := testutil.TestDB(t)
			t.Cleanup(cleanup)
			return NewSQLStore(db, clock)
		},
		"redis": func(t *testing.T, clock clockwork.Clock) Backend {
			url := skipIfNoRedis(t)
			opts := DefaultRedisStoreOptions()
			opts.URL = url
			opts.Prefix = fmt.Sprintf("test-%d:", time.Now().UnixNano())
			opts.Clock = clock
			s, err := NewRedisStore(opts)
			if err != nil {
				t.Fatalf("failed to create Redis store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func trendQuery(t *testing.T, product string, days int) model.Query {
	t.Helper()
	q, err := model.NewQuery(model.StatSentimentTrend, product, model.TrendParams{Days: days, Interval: model.IntervalDay})
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	return q
}

func mustRecord(t *testing.T, q model.Query, payload string, computedAt time.Time, ttl time.Duration) *Record {
	t.Helper()
	rec, err := NewRecord(q, []byte(payload), computedAt, ttl)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return rec
}

func TestStore_Contract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("get put", func(t *testing.T) { testGetPut(t, factory) })
			t.Run("conditional put", func(t *testing.T) { testConditionalPut(t, factory) })
			t.Run("max age", func(t *testing.T) { testMaxAge(t, factory) })
			t.Run("ttl", func(t *testing.T) { testTTL(t, factory) })
			t.Run("invalidate", func(t *testing.T) { testInvalidate(t, factory) })
			t.Run("touch and list", func(t *testing.T) { testTouchList(t, factory) })
			t.Run("concurrent puts", func(t *testing.T) { testConcurrentPuts(t, factory) })
		})
	}
}

func testGetPut(t *testing.T, factory backendFactory) {
	clock := clockwork.NewFakeClockAt(storeEpoch)
	s := factory(t, clock)
	ctx := context.Background()
	q := trendQuery(t, "p1", 30)

	if _, err := s.Get(ctx, q.Key(), 0); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	rec := mustRecord(t, q, `{"v":1}`, storeEpoch, 0)
	rec.Watermark = 17
	stored, err := s.Put(ctx, rec)
	if err != nil || !stored {
		t.Fatalf("Put: stored=%v err=%v", stored, err)
	}

	got, err := s.Get(ctx, q.Key(), 0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Payload) != `{"v":1}` {
		t.Errorf("payload = %s", got.Payload)
	}
	if got.Watermark != 17 {
		t.Errorf("watermark = %d, want 17", got.Watermark)
	}
	if !got.ComputedAt.Equal(storeEpoch) {
		t.Errorf("computedAt = %v, want %v", got.ComputedAt, storeEpoch)
	}
	if got.ExpiresAt != nil {
		t.Errorf("expiresAt = %v, want nil", got.ExpiresAt)
	}

	restored, err := got.Query()
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if restored.Key() != q.Key() {
		t.Errorf("restored key = %v, want %v", restored.Key(), q.Key())
	}
}

func testConditionalPut(t *testing.T, factory backendFactory) {
	clock := clockwork.NewFakeClockAt(storeEpoch)
	s := factory(t, clock)
	ctx := context.Background()
	q := trendQuery(t, "p1", 30)

	if _, err := s.Put(ctx, mustRecord(t, q, `"new"`, storeEpoch, 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	stored, err := s.Put(ctx, mustRecord(t, q, `"old"`, storeEpoch.Add(-time.Minute), 0))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if stored {
		t.Error("older computation replaced a newer record")
	}

	got, err := s.Get(ctx, q.Key(), 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Payload) != `"new"` {
		t.Errorf("payload = %s, want the newer record", got.Payload)
	}
}

func testMaxAge(t *testing.T, factory backendFactory) {
	clock := clockwork.NewFakeClockAt(storeEpoch)
	s := factory(t, clock)
	ctx := context.Background()
	q := trendQuery(t, "p1", 30)

	if _, err := s.Put(ctx, mustRecord(t, q, `1`, storeEpoch, 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clock.Advance(10 * time.Minute)

	if _, err := s.Get(ctx, q.Key(), 5*time.Minute); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("record older than maxAge returned: %v", err)
	}
	if _, err := s.Get(ctx, q.Key(), 15*time.Minute); err != nil {
		t.Errorf("record within maxAge not returned: %v", err)
	}
}

func testTTL(t *testing.T, factory backendFactory) {
	clock := clockwork.NewFakeClockAt(storeEpoch)
	s := factory(t, clock)
	ctx := context.Background()
	short := trendQuery(t, "short", 30)
	long := trendQuery(t, "long", 30)
	forever := trendQuery(t, "forever", 30)

	for _, rec := range []*Record{
		mustRecord(t, short, `1`, storeEpoch, time.Minute),
		mustRecord(t, long, `1`, storeEpoch, time.Hour),
		mustRecord(t, forever, `1`, storeEpoch, 0),
	} {
		if _, err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	clock.Advance(time.Minute)

	if _, err := s.Get(ctx, short.Key(), 0); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expired record returned: %v", err)
	}
	if _, err := s.Get(ctx, long.Key(), 0); err != nil {
		t.Errorf("unexpired record missing: %v", err)
	}

	listed, err := s.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 {
		t.Errorf("List returned %d records, want 2 unexpired", len(listed))
	}

	n, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if n, _ := s.SweepExpired(ctx); n != 0 {
		t.Errorf("second sweep removed %d, want 0", n)
	}
	if _, err := s.Get(ctx, forever.Key(), 0); err != nil {
		t.Errorf("scheduler-managed record swept: %v", err)
	}
}

func testInvalidate(t *testing.T, factory backendFactory) {
	clock := clockwork.NewFakeClockAt(storeEpoch)
	s := factory(t, clock)
	ctx := context.Background()

	q7 := trendQuery(t, "p1", 7)
	q30 := trendQuery(t, "p1", 30)
	other := trendQuery(t, "p2", 30)
	for _, q := range []model.Query{q7, q30, other} {
		if _, err := s.Put(ctx, mustRecord(t, q, `1`, storeEpoch, 0)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	n, err := s.Invalidate(ctx, model.StatSentimentTrend, "p1")
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 2 {
		t.Errorf("invalidated %d, want 2", n)
	}
	for _, q := range []model.Query{q7, q30} {
		if _, err := s.Get(ctx, q.Key(), 0); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("invalidated record %v still present", q.Key())
		}
	}
	if _, err := s.Get(ctx, other.Key(), 0); err != nil {
		t.Errorf("unrelated record removed: %v", err)
	}
}

func testTouchList(t *testing.T, factory backendFactory) {
	clock := clockwork.NewFakeClockAt(storeEpoch)
	s := factory(t, clock)
	ctx := context.Background()

	hot := trendQuery(t, "hot", 30)
	cold := trendQuery(t, "cold", 30)
	if _, err := s.Put(ctx, mustRecord(t, hot, `1`, storeEpoch, 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Put(ctx, mustRecord(t, cold, `1`, storeEpoch.Add(-time.Hour), 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	for range 3 {
		if err := s.Touch(ctx, hot.Key()); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}
	if err := s.Touch(ctx, trendQuery(t, "missing", 30).Key()); err != nil {
		t.Errorf("Touch on missing key: %v", err)
	}

	// A replacement keeps the counter.
	if _, err := s.Put(ctx, mustRecord(t, hot, `2`, storeEpoch.Add(time.Second), 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	byAccess, err := s.List(ctx, ListFilter{StatType: model.StatSentimentTrend, OrderBy: ByAccessCount})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byAccess) != 2 || byAccess[0].Key != hot.Key() || byAccess[0].AccessCount != 3 {
		t.Fatalf("List by access = %+v, want hot first with 3 accesses", byAccess)
	}

	byAge, err := s.List(ctx, ListFilter{OrderBy: ByComputedAt, Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byAge) != 1 || byAge[0].Key != cold.Key() {
		t.Errorf("List by age = %+v, want cold only", byAge)
	}

	scoped, err := s.List(ctx, ListFilter{StatType: model.StatSentimentTrend, Identifier: "cold"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(scoped) != 1 {
		t.Errorf("List by identifier returned %d records, want 1", len(scoped))
	}
}

func testConcurrentPuts(t *testing.T, factory backendFactory) {
	clock := clockwork.NewFakeClockAt(storeEpoch)
	s := factory(t, clock)
	ctx := context.Background()
	q := trendQuery(t, "p1", 30)

	const writers = 20
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := mustRecord(t, q, fmt.Sprintf(`%d`, i), storeEpoch.Add(time.Duration(i)*time.Second), 0)
			if _, err := s.Put(ctx, rec); err != nil {
				t.Errorf("Put: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, q.Key(), 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Payload) != fmt.Sprintf(`%d`, writers-1) {
		t.Errorf("payload = %s, want the latest computation %d", got.Payload, writers-1)
	}

	listed, err := s.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("got %d records for one key, want 1", len(listed))
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	s := NewMemoryStore(MemoryStoreOptions{Clock: clockwork.NewFakeClockAt(storeEpoch)})
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	q := trendQuery(t, "p1", 30)

	_, _ = s.Get(ctx, q.Key(), 0)
	_, _ = s.Put(ctx, mustRecord(t, q, `1`, storeEpoch, 0))
	_, _ = s.Put(ctx, mustRecord(t, q, `0`, storeEpoch.Add(-time.Second), 0))
	_, _ = s.Get(ctx, q.Key(), 0)

	stats := s.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Sets != 1 || stats.Rejects != 1 || stats.Items != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.HitRate() != 50 {
		t.Errorf("hit rate = %v, want 50", stats.HitRate())
	}

	s.ResetStats()
	if s.Stats().Hits != 0 {
		t.Error("ResetStats did not reset hits")
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(MemoryStoreOptions{})
	_ = s.Close()
	_ = s.Close()

	if _, err := s.Get(context.Background(), trendQuery(t, "p1", 1).Key(), 0); !errors.Is(err, ErrCacheClosed) {
		t.Errorf("expected ErrCacheClosed, got %v", err)
	}
}

func TestMemoryStore_CleanupLoop(t *testing.T) {
	clock := clockwork.NewFakeClockAt(storeEpoch)
	s := NewMemoryStore(MemoryStoreOptions{Clock: clock, CleanupInterval: time.Minute})
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := s.Put(ctx, mustRecord(t, trendQuery(t, "p1", 1), `1`, storeEpoch, 30*time.Second)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for cleanup ticker: %v", err)
	}
	clock.Advance(time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().Items != 0 {
		if time.Now().After(deadline) {
			t.Fatal("cleanup loop did not remove expired record")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDecodePayload(t *testing.T) {
	trend, err := DecodePayload[model.SentimentTrend]([]byte(`{"product_id":"p1","days":7,"interval":"day","buckets":[]}`))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if trend.ProductID != "p1" || trend.Days != 7 {
		t.Errorf("decoded = %+v", trend)
	}

	if _, err := DecodePayload[model.SentimentTrend]([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestHashTagPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"reviewlens:", "{reviewlens:}"},
		{"", "{}"},
		{"{tenant}:reviewlens:", "{tenant}:reviewlens:"},
	}
	for _, tt := range tests {
		if got := hashTagPrefix(tt.prefix); got != tt.want {
			t.Errorf("hashTagPrefix(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}

	s := &RedisStore{prefix: hashTagPrefix("reviewlens:")}
	for _, key := range []string{s.recKey("k"), s.idxKey(model.StatSentimentTrend, "p1"), s.zsetKey("exp")} {
		if !strings.HasPrefix(key, "{reviewlens:}") {
			t.Errorf("key %q does not carry the hash tag", key)
		}
	}
}
