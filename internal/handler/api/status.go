// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/scheduler"
	"github.com/olegiv/reviewlens/internal/version"
)

// StatusResponse contains API status information.
type StatusResponse struct {
	Status        string            `json:"status"`
	Version       version.Info      `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Store         StoreStatus       `json:"store"`
	InFlight      int               `json:"computations_in_flight"`
	RefreshQueues map[string]int    `json:"refresh_queues,omitempty"`
	Backend       cache.BackendInfo `json:"backend"`
}

// StoreStatus describes the precomputed store.
type StoreStatus struct {
	Degraded bool         `json:"degraded"`
	Breaker  string       `json:"circuit_breaker"`
	Stats    *cache.Stats `json:"stats,omitempty"`
	HitRate  *float64     `json:"hit_rate,omitempty"`
}

// Status returns the API status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:        "ok",
		Version:       h.Version,
		UptimeSeconds: h.Clock.Since(h.startedAt).Seconds(),
		Backend:       h.Backend,
	}

	if h.Resolver != nil && h.Resolver.Degraded() {
		resp.Status = "degraded"
		resp.Store.Degraded = true
	}
	if h.Store != nil {
		resp.Store.Breaker = h.Store.State().String()
		stats := h.Store.Stats()
		rate := stats.HitRate()
		resp.Store.Stats = &stats
		resp.Store.HitRate = &rate
	}
	if h.Flight != nil {
		resp.InFlight = h.Flight.Running()
	}
	if h.Scheduler != nil {
		resp.RefreshQueues = make(map[string]int, len(model.AllStatTypes))
		for _, t := range model.AllStatTypes {
			resp.RefreshQueues[string(t)] = h.Scheduler.QueueLen(t)
		}
	}

	WriteSuccess(w, resp, nil)
}

// EventResponse represents an event log entry in API responses.
type EventResponse struct {
	ID        int64           `json:"id"`
	Level     string          `json:"level"`
	Category  string          `json:"category"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt string          `json:"created_at"`
}

// ListEvents handles GET /api/v1/events?category=&limit=.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			WriteBadRequest(w, "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}

	events, err := h.Events.ListEvents(r.Context(), r.URL.Query().Get("category"), limit)
	if err != nil {
		h.Logger.Error("failed to list events", "error", err)
		WriteInternalError(w, "Failed to list events")
		return
	}

	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		meta := json.RawMessage(e.Metadata)
		if !json.Valid(meta) {
			meta = json.RawMessage("{}")
		}
		resp = append(resp, EventResponse{
			ID:        e.ID,
			Level:     e.Level,
			Category:  e.Category,
			Message:   e.Message,
			Metadata:  meta,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	WriteSuccess(w, resp, &Meta{Total: int64(len(resp))})
}

// ListJobs handles GET /api/v1/scheduler/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := h.Scheduler.Registry().List()
	WriteSuccess(w, jobs, &Meta{Total: int64(len(jobs))})
}

// TriggerJob handles POST /api/v1/scheduler/jobs/{source}/{name}/trigger.
// The job runs synchronously within the request.
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	source, name := chi.URLParam(r, "source"), chi.URLParam(r, "name")
	if err := h.Scheduler.Registry().TriggerNow(r.Context(), source, name); err != nil {
		h.writeJobError(w, source, name, err)
		return
	}
	WriteSuccess(w, map[string]any{"source": source, "name": name, "triggered": true}, nil)
}

// ScheduleRequest is the body of a schedule update.
type ScheduleRequest struct {
	Schedule string `json:"schedule"`
}

// UpdateJobSchedule handles PUT /api/v1/scheduler/jobs/{source}/{name}/schedule.
func (h *Handler) UpdateJobSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := scheduler.ValidateSchedule(req.Schedule); err != nil {
		WriteValidationError(w, map[string]string{"schedule": err.Error()})
		return
	}

	source, name := chi.URLParam(r, "source"), chi.URLParam(r, "name")
	if err := h.Scheduler.Registry().UpdateSchedule(r.Context(), source, name, req.Schedule); err != nil {
		h.writeJobError(w, source, name, err)
		return
	}
	h.writeJob(w, source, name)
}

// ResetJobSchedule handles DELETE /api/v1/scheduler/jobs/{source}/{name}/schedule.
func (h *Handler) ResetJobSchedule(w http.ResponseWriter, r *http.Request) {
	source, name := chi.URLParam(r, "source"), chi.URLParam(r, "name")
	if err := h.Scheduler.Registry().ResetSchedule(r.Context(), source, name); err != nil {
		h.writeJobError(w, source, name, err)
		return
	}
	h.writeJob(w, source, name)
}

func (h *Handler) writeJob(w http.ResponseWriter, source, name string) {
	for _, job := range h.Scheduler.Registry().List() {
		if job.Source == source && job.Name == name {
			WriteSuccess(w, job, nil)
			return
		}
	}
	WriteNotFound(w, "Job not found")
}

func (h *Handler) writeJobError(w http.ResponseWriter, source, name string, err error) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		WriteNotFound(w, "Job not found")
	case errors.Is(err, scheduler.ErrManualTriggerUnavailable):
		WriteConflict(w, err.Error())
	default:
		h.Logger.Error("scheduler job request failed",
			"category", "scheduler",
			"source", source,
			"name", name,
			"error", err,
		)
		WriteInternalError(w, "Job failed")
	}
}
