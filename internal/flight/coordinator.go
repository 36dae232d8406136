// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package flight ensures at most one computation per stat key runs at a time.
// Concurrent callers for the same key share the result of the running computation.
package flight

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/metrics"
	"github.com/olegiv/reviewlens/internal/model"
)

// Error represents a coordinator error.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrComputationPanicked is returned to every waiter when a computation panics.
	ErrComputationPanicked Error = "computation panicked"

	// ErrCoordinatorTimeout is returned to a caller that stopped waiting.
	// The computation it waited on keeps running.
	ErrCoordinatorTimeout Error = "gave up waiting for computation"

	// ErrClosed is returned once the coordinator stopped accepting work.
	ErrClosed Error = "coordinator closed"
)

// DefaultComputeTimeout bounds a single computation.
const DefaultComputeTimeout = 2 * time.Minute

// Func computes and stores the record of one key.
type Func func(ctx context.Context) (*cache.Record, error)

// Options configures a Coordinator.
type Options struct {
	// ComputeTimeout bounds each computation independently of its callers.
	ComputeTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Coordinator deduplicates computations by key.
type Coordinator struct {
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running map[model.Key]int
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = DefaultComputeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		timeout: opts.ComputeTimeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		running: make(map[model.Key]int),
	}
}

// Run executes fn for key, or joins the computation already running for key.
// The computation is detached from ctx: a caller whose ctx ends gets
// ErrCoordinatorTimeout wrapping ctx.Err() while the computation continues.
// shared reports whether the result was delivered to more than one caller.
func (c *Coordinator) Run(ctx context.Context, key model.Key, fn Func) (rec *cache.Record, shared bool, err error) {
	if c.isClosed() {
		return nil, false, ErrClosed
	}
	if c.InFlight(key) {
		c.metrics.ObserveCoalesced(string(key.Type))
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		if !c.track() {
			return nil, ErrClosed
		}
		defer c.wg.Done()
		return c.execute(detached, key, fn)
	})

	select {
	case res := <-ch:
		rec, _ := res.Val.(*cache.Record)
		return rec, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%w: %w", ErrCoordinatorTimeout, ctx.Err())
	}
}

// Go starts fn for key in the background unless a computation for key is
// already running. It reports whether a new computation was started.
func (c *Coordinator) Go(key model.Key, fn Func) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.running[key] > 0 {
		c.mu.Unlock()
		return false
	}
	// Reserve the key until the computation below has finished.
	c.running[key]++
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer c.release(key)
		_, err, _ := c.group.Do(key.String(), func() (any, error) {
			return c.execute(context.Background(), key, fn)
		})
		if err != nil {
			c.logger.Warn("background refresh failed",
				"category", "cache",
				"key", key.String(),
				"error", err,
			)
		}
	}()
	return true
}

// InFlight reports whether a computation for key is running.
func (c *Coordinator) InFlight(key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running[key] > 0
}

// Running returns the number of computations in progress.
func (c *Coordinator) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

// Close stops accepting work and waits for every running computation,
// including those whose Run callers already gave up, bounded by ctx.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release(key model.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[key] <= 1 {
		delete(c.running, key)
		return
	}
	c.running[key]--
}

// track registers a computation with Close unless the coordinator is closed.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// execute runs fn once as the leader of key.
func (c *Coordinator) execute(parent context.Context, key model.Key, fn Func) (rec *cache.Record, err error) {
	c.mu.Lock()
	c.running[key]++
	c.mu.Unlock()
	done := c.metrics.ComputeStarted()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("computation panicked",
				"category", "aggregate",
				"key", key.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			rec, err = nil, fmt.Errorf("%w: %v", ErrComputationPanicked, r)
		}
		done()
		c.release(key)
	}()

	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	return fn(ctx)
}
