// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"testing"
	"time"

	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/model"
)

var queueEpoch = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func queueRecord(t *testing.T, id string, accessCount int64) *cache.Record {
	t.Helper()
	q, err := model.NewQuery(model.StatSentimentTrend, id, model.TrendParams{Days: 30, Interval: model.IntervalDay})
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	rec, err := cache.NewRecord(q, []byte(`{}`), queueEpoch, 0)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	rec.AccessCount = accessCount
	return rec
}

func identifiers(entries []*dueEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.key.Identifier
	}
	return out
}

func TestDueQueue_Order(t *testing.T) {
	q := newDueQueue()
	q.Upsert(queueRecord(t, "late", 100), queueEpoch.Add(2*time.Minute))
	q.Upsert(queueRecord(t, "cold", 1), queueEpoch)
	q.Upsert(queueRecord(t, "hot", 9), queueEpoch)
	q.Upsert(queueRecord(t, "b-tie", 3), queueEpoch.Add(time.Minute))
	q.Upsert(queueRecord(t, "a-tie", 3), queueEpoch.Add(time.Minute))

	got := identifiers(q.PopDue(queueEpoch.Add(time.Hour), 0))
	want := []string{"late", "hot", "a-tie", "b-tie", "cold"}
	if len(got) != len(want) {
		t.Fatalf("PopDue = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PopDue = %v, want %v", got, want)
			break
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestDueQueue_PopDuePrefersAccessCountAmongDue(t *testing.T) {
	q := newDueQueue()
	// Both are due; cold became due one millisecond earlier.
	q.Upsert(queueRecord(t, "hot", 500), queueEpoch)
	q.Upsert(queueRecord(t, "cold", 0), queueEpoch.Add(-time.Millisecond))
	q.Upsert(queueRecord(t, "future", 900), queueEpoch.Add(time.Minute))

	got := identifiers(q.PopDue(queueEpoch, 1))
	if len(got) != 1 || got[0] != "hot" {
		t.Fatalf("PopDue = %v, want [hot]", got)
	}
	if !q.Contains(queueRecord(t, "cold", 0).Key) {
		t.Error("cold should stay queued past the batch limit")
	}

	got = identifiers(q.PopDue(queueEpoch, 0))
	if len(got) != 1 || got[0] != "cold" {
		t.Errorf("PopDue = %v, want [cold]", got)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestDueQueue_PopDueRespectsTimeAndLimit(t *testing.T) {
	q := newDueQueue()
	for i, id := range []string{"a", "b", "c"} {
		q.Upsert(queueRecord(t, id, 0), queueEpoch.Add(time.Duration(i)*time.Minute))
	}
	q.Upsert(queueRecord(t, "future", 50), queueEpoch.Add(time.Hour))

	if got := q.PopDue(queueEpoch.Add(-time.Second), 0); len(got) != 0 {
		t.Errorf("nothing should be due yet, got %v", identifiers(got))
	}

	got := identifiers(q.PopDue(queueEpoch.Add(10*time.Minute), 2))
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("PopDue = %v, want [a b]", got)
	}

	got = identifiers(q.PopDue(queueEpoch.Add(10*time.Minute), 2))
	if len(got) != 1 || got[0] != "c" {
		t.Errorf("PopDue = %v, want [c]", got)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestDueQueue_UpsertMovesEntry(t *testing.T) {
	q := newDueQueue()
	a := queueRecord(t, "a", 0)
	q.Upsert(a, queueEpoch)
	q.Upsert(queueRecord(t, "b", 0), queueEpoch.Add(time.Minute))

	// a was refreshed elsewhere; it is due later now.
	q.Upsert(a, queueEpoch.Add(time.Hour))

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	got := identifiers(q.PopDue(queueEpoch.Add(10*time.Minute), 0))
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("PopDue = %v, want [b]", got)
	}
}

func TestDueQueue_RemoveAndRetain(t *testing.T) {
	q := newDueQueue()
	a, b, c := queueRecord(t, "a", 0), queueRecord(t, "b", 0), queueRecord(t, "c", 0)
	q.Upsert(a, queueEpoch)
	q.Upsert(b, queueEpoch)
	q.Upsert(c, queueEpoch)

	if !q.Remove(a.Key) {
		t.Error("Remove(a) = false")
	}
	if q.Remove(a.Key) {
		t.Error("second Remove(a) = true")
	}

	removed := q.Retain(map[model.Key]struct{}{b.Key: {}})
	if len(removed) != 1 || removed[0] != c.Key {
		t.Errorf("Retain removed %v, want [%v]", removed, c.Key)
	}
	if !q.Contains(b.Key) || q.Contains(c.Key) {
		t.Error("Retain kept the wrong keys")
	}
}
