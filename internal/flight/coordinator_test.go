// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/testutil"
)

func testKey(t *testing.T, product string) model.Key {
	t.Helper()
	q, err := model.NewQuery(model.StatSentimentTrend, product, model.TrendParams{Days: 30})
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	return q.Key()
}

func newTestCoordinator() *Coordinator {
	return New(Options{ComputeTimeout: 5 * time.Second, Logger: testutil.TestLoggerSilent()})
}

func TestRun_CoalescesConcurrentCallers(t *testing.T) {
	c := newTestCoordinator()
	key := testKey(t, "p1")

	var calls atomic.Int32
	release := make(chan struct{})
	want := &cache.Record{Key: key, Payload: []byte(`{}`)}
	fn := func(context.Context) (*cache.Record, error) {
		calls.Add(1)
		<-release
		return want, nil
	}

	const callers = 50
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		shared  atomic.Int32
	)
	for range callers {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			rec, s, err := c.Run(context.Background(), key, fn)
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			if rec != want {
				t.Errorf("got a different record")
			}
			if s {
				shared.Add(1)
			}
		}()
	}

	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("computation ran %d times, want 1", n)
	}
	if shared.Load() != callers {
		t.Errorf("shared reported by %d callers, want %d", shared.Load(), callers)
	}
	if c.InFlight(key) {
		t.Error("key still in flight after completion")
	}
}

func TestRun_DistinctKeysRunIndependently(t *testing.T) {
	c := newTestCoordinator()

	var calls atomic.Int32
	fn := func(context.Context) (*cache.Record, error) {
		calls.Add(1)
		return &cache.Record{}, nil
	}

	for _, p := range []string{"a", "b", "c"} {
		if _, _, err := c.Run(context.Background(), testKey(t, p), fn); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRun_CallerCancellationDoesNotAbortComputation(t *testing.T) {
	c := newTestCoordinator()
	key := testKey(t, "p1")

	release := make(chan struct{})
	var computeErr atomic.Value
	fn := func(ctx context.Context) (*cache.Record, error) {
		<-release
		if err := ctx.Err(); err != nil {
			computeErr.Store(err)
		}
		return &cache.Record{Key: key}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Run(ctx, key, fn)
		errCh <- err
	}()

	waitInFlight(t, c, key)
	cancel()
	if err := <-errCh; !errors.Is(err, ErrCoordinatorTimeout) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrCoordinatorTimeout wrapping context.Canceled, got %v", err)
	}
	if !c.InFlight(key) {
		t.Fatal("computation stopped with its caller")
	}

	// A second caller joins the computation that is still running.
	resCh := make(chan error, 1)
	go func() {
		_, _, err := c.Run(context.Background(), key, fn)
		resCh <- err
	}()
	close(release)
	if err := <-resCh; err != nil {
		t.Errorf("second caller: %v", err)
	}
	if v := computeErr.Load(); v != nil {
		t.Errorf("computation saw cancelled context: %v", v)
	}
}

func TestClose_WaitsForAbandonedRun(t *testing.T) {
	c := newTestCoordinator()
	key := testKey(t, "p1")

	release := make(chan struct{})
	var finished atomic.Bool
	fn := func(ctx context.Context) (*cache.Record, error) {
		<-release
		finished.Store(true)
		return &cache.Record{Key: key}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Run(ctx, key, fn)
		errCh <- err
	}()
	waitInFlight(t, c, key)
	cancel()
	if err := <-errCh; !errors.Is(err, ErrCoordinatorTimeout) {
		t.Fatalf("expected ErrCoordinatorTimeout, got %v", err)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	if err := c.Close(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close returned %v while a computation was running", err)
	}

	close(release)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !finished.Load() {
		t.Error("Close returned before the computation finished")
	}
}

func TestRun_ComputeTimeout(t *testing.T) {
	c := New(Options{ComputeTimeout: 20 * time.Millisecond, Logger: testutil.TestLoggerSilent()})

	_, _, err := c.Run(context.Background(), testKey(t, "p1"), func(ctx context.Context) (*cache.Record, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestRun_PanicIsReported(t *testing.T) {
	c := newTestCoordinator()
	key := testKey(t, "p1")

	_, _, err := c.Run(context.Background(), key, func(context.Context) (*cache.Record, error) {
		panic("boom")
	})
	if !errors.Is(err, ErrComputationPanicked) {
		t.Fatalf("expected ErrComputationPanicked, got %v", err)
	}
	if c.InFlight(key) {
		t.Error("panicked computation left the key in flight")
	}

	// The key is usable again.
	if _, _, err := c.Run(context.Background(), key, func(context.Context) (*cache.Record, error) {
		return &cache.Record{}, nil
	}); err != nil {
		t.Errorf("Run after panic: %v", err)
	}
}

func TestGo_StartsAtMostOne(t *testing.T) {
	c := newTestCoordinator()
	key := testKey(t, "p1")

	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(context.Context) (*cache.Record, error) {
		calls.Add(1)
		<-release
		return &cache.Record{}, nil
	}

	if !c.Go(key, fn) {
		t.Fatal("first Go did not start")
	}
	for range 10 {
		if c.Go(key, fn) {
			t.Fatal("Go started a second computation for a running key")
		}
	}
	if !c.Go(testKey(t, "p2"), func(context.Context) (*cache.Record, error) { return nil, nil }) {
		t.Error("Go refused an unrelated key")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if c.Running() != 0 {
		t.Errorf("Running = %d after Close", c.Running())
	}
}

func TestGo_FailureIsLogged(t *testing.T) {
	c := newTestCoordinator()
	key := testKey(t, "p1")

	if !c.Go(key, func(context.Context) (*cache.Record, error) { return nil, errors.New("db down") }) {
		t.Fatal("Go did not start")
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.InFlight(key) {
		t.Error("failed computation left the key in flight")
	}
}

func TestClosedCoordinatorRejectsWork(t *testing.T) {
	c := newTestCoordinator()
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	key := testKey(t, "p1")
	if _, _, err := c.Run(context.Background(), key, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if c.Go(key, nil) {
		t.Error("Go started on a closed coordinator")
	}
}

func waitInFlight(t *testing.T, c *Coordinator, key model.Key) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.InFlight(key) {
		if time.Now().After(deadline) {
			t.Fatal("computation never started")
		}
		time.Sleep(time.Millisecond)
	}
}
