// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics exposes Prometheus collectors for the analytics cache.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reviewlens"

// Resolve sources.
const (
	SourceFresh    = "fresh"
	SourceStale    = "stale"
	SourceComputed = "computed"
	SourceFallback = "fallback"
	SourceUncached = "uncached"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Metrics holds the collectors of one process.
type Metrics struct {
	Resolves          *prometheus.CounterVec
	ComputeDuration   *prometheus.HistogramVec
	ComputeErrors     *prometheus.CounterVec
	ComputesInFlight  prometheus.Gauge
	Coalesced         *prometheus.CounterVec
	DegradedResolves  prometheus.Counter
	RefreshRuns       *prometheus.CounterVec
	RefreshQueueDepth *prometheus.GaugeVec
	SweptRecords      prometheus.Counter
	BreakerState      prometheus.Gauge
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolves_total",
			Help:      "Resolved stat requests by stat type and source.",
		}, []string{"stat_type", "source"}),
		ComputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "compute_duration_seconds",
			Help:      "Duration of stat computations in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stat_type", "mode"}),
		ComputeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "compute_errors_total",
			Help:      "Failed stat computations by stat type.",
		}, []string{"stat_type"}),
		ComputesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flight",
			Name:      "computations_in_flight",
			Help:      "Number of computations currently running.",
		}),
		Coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flight",
			Name:      "coalesced_total",
			Help:      "Requests that joined an in-flight computation, by stat type.",
		}, []string{"stat_type"}),
		DegradedResolves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "degraded_total",
			Help:      "Requests served without the precomputed store.",
		}),
		RefreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "refreshes_total",
			Help:      "Scheduled refreshes by stat type and outcome.",
		}, []string{"stat_type", "outcome"}),
		RefreshQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Keys waiting for a scheduled refresh, by stat type.",
		}, []string{"stat_type"}),
		SweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "swept_records_total",
			Help:      "Expired records removed by sweeps.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "circuit_breaker_state",
			Help:      "Current store circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(
		m.Resolves, m.ComputeDuration, m.ComputeErrors, m.ComputesInFlight, m.Coalesced,
		m.DegradedResolves, m.RefreshRuns, m.RefreshQueueDepth, m.SweptRecords, m.BreakerState,
	)
	return m
}

// ObserveResolve counts one resolved request.
func (m *Metrics) ObserveResolve(statType, source string) {
	if m == nil {
		return
	}
	m.Resolves.WithLabelValues(statType, source).Inc()
}

// ObserveCompute records a finished computation. mode is "full" or "incremental".
func (m *Metrics) ObserveCompute(statType, mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ComputeDuration.WithLabelValues(statType, mode).Observe(d.Seconds())
	if err != nil {
		m.ComputeErrors.WithLabelValues(statType).Inc()
	}
}

// ComputeStarted increments the in-flight gauge and returns its decrement.
func (m *Metrics) ComputeStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ComputesInFlight.Inc()
	return m.ComputesInFlight.Dec
}

// ObserveCoalesced counts a request that shared another caller's computation.
func (m *Metrics) ObserveCoalesced(statType string) {
	if m == nil {
		return
	}
	m.Coalesced.WithLabelValues(statType).Inc()
}

// ObserveDegraded counts a request served while the store was unavailable.
func (m *Metrics) ObserveDegraded() {
	if m == nil {
		return
	}
	m.DegradedResolves.Inc()
}

// ObserveRefresh counts a scheduled refresh outcome.
func (m *Metrics) ObserveRefresh(statType, outcome string) {
	if m == nil {
		return
	}
	m.RefreshRuns.WithLabelValues(statType, outcome).Inc()
}

// SetQueueDepth sets the scheduler queue depth of a stat type.
func (m *Metrics) SetQueueDepth(statType string, n int) {
	if m == nil {
		return
	}
	m.RefreshQueueDepth.WithLabelValues(statType).Set(float64(n))
}

// ObserveSweep counts swept records.
func (m *Metrics) ObserveSweep(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptRecords.Add(float64(n))
}

// SetBreakerState records the store circuit breaker state.
func (m *Metrics) SetBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BreakerState.Set(state)
}
