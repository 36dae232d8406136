// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"cmp"
	"container/heap"
	"slices"
	"time"

	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/model"
)

// dueEntry is one key waiting for its refresh.
type dueEntry struct {
	key         model.Key
	record      *cache.Record
	dueAt       time.Time
	accessCount int64
	index       int
}

// dueHeap orders entries by dueAt, then by priority.
type dueHeap []*dueEntry

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.dueAt.Equal(b.dueAt) {
		return a.dueAt.Before(b.dueAt)
	}
	return byPriority(a, b) < 0
}

// byPriority orders entries that are already due: most accessed first,
// then longest overdue, then by key.
func byPriority(a, b *dueEntry) int {
	if c := cmp.Compare(b.accessCount, a.accessCount); c != 0 {
		return c
	}
	if c := a.dueAt.Compare(b.dueAt); c != 0 {
		return c
	}
	return cmp.Compare(a.key.String(), b.key.String())
}

func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *dueHeap) Push(x any) {
	e := x.(*dueEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// dueQueue is a min-heap of refresh candidates with O(log n) updates by key.
// It is not safe for concurrent use.
type dueQueue struct {
	heap  dueHeap
	index map[model.Key]*dueEntry
}

func newDueQueue() *dueQueue {
	return &dueQueue{index: make(map[model.Key]*dueEntry)}
}

func (q *dueQueue) Len() int { return len(q.heap) }

// Upsert inserts rec due at dueAt, or moves the existing entry for its key.
func (q *dueQueue) Upsert(rec *cache.Record, dueAt time.Time) {
	if e, ok := q.index[rec.Key]; ok {
		e.record = rec
		e.dueAt = dueAt
		e.accessCount = rec.AccessCount
		heap.Fix(&q.heap, e.index)
		return
	}
	e := &dueEntry{key: rec.Key, record: rec, dueAt: dueAt, accessCount: rec.AccessCount}
	heap.Push(&q.heap, e)
	q.index[rec.Key] = e
}

// Remove drops key from the queue. It reports whether the key was queued.
func (q *dueQueue) Remove(key model.Key) bool {
	e, ok := q.index[key]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, e.index)
	delete(q.index, key)
	return true
}

// Contains reports whether key is queued.
func (q *dueQueue) Contains(key model.Key) bool {
	_, ok := q.index[key]
	return ok
}

// PopDue removes and returns up to limit entries due at or before now,
// most accessed first. limit <= 0 means no limit. Due entries beyond the
// limit stay queued.
func (q *dueQueue) PopDue(now time.Time, limit int) []*dueEntry {
	var due []*dueEntry
	for q.heap.Len() > 0 && !q.heap[0].dueAt.After(now) {
		due = append(due, heap.Pop(&q.heap).(*dueEntry))
	}
	slices.SortFunc(due, byPriority)
	if limit > 0 && len(due) > limit {
		for _, e := range due[limit:] {
			heap.Push(&q.heap, e)
		}
		due = due[:limit]
	}
	for _, e := range due {
		delete(q.index, e.key)
	}
	return due
}

// Retain removes every entry whose key is not in keep and returns the removed keys.
func (q *dueQueue) Retain(keep map[model.Key]struct{}) []model.Key {
	var removed []model.Key
	for key := range q.index {
		if _, ok := keep[key]; !ok {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		q.Remove(key)
	}
	return removed
}
