// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api provides REST API handlers for review statistics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/olegiv/reviewlens/internal/cache"
	"github.com/olegiv/reviewlens/internal/flight"
	"github.com/olegiv/reviewlens/internal/resolver"
	"github.com/olegiv/reviewlens/internal/scheduler"
	"github.com/olegiv/reviewlens/internal/service"
	"github.com/olegiv/reviewlens/internal/version"
)

// Route patterns
const (
	RouteStat        = "/stats/{statType}/{identifier}"
	RouteStatRefresh = "/stats/{statType}/{identifier}/refresh"
	RouteComparison  = "/stats/product_comparison"
	RouteFreshness   = "/stats/freshness"
	RouteReviews     = "/reviews"
	RouteStatus      = "/status"
	RouteEvents      = "/events"
	RouteJobs        = "/scheduler/jobs"
	RouteJobTrigger  = "/scheduler/jobs/{source}/{name}/trigger"
	RouteJobSchedule = "/scheduler/jobs/{source}/{name}/schedule"
)

// maxRequestBodyLen bounds JSON request bodies.
const maxRequestBodyLen = 1 << 20

// Deps are the services the API serves from.
type Deps struct {
	Resolver      *resolver.Resolver
	DefaultPolicy resolver.Policy
	Reviews       *service.ReviewService
	Events        *service.EventService
	Scheduler     *scheduler.RefreshScheduler
	Store         *cache.GuardedStore
	Backend       cache.BackendInfo
	Flight        *flight.Coordinator
	Version       version.Info
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

// Handler holds shared dependencies for all API handlers.
type Handler struct {
	Deps
	startedAt time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Handler{Deps: deps, startedAt: deps.Clock.Now()}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get(RouteStatus, h.Status)

	r.Get(RouteComparison, h.GetComparison)
	r.Get(RouteFreshness, h.GetFreshness)
	r.Get(RouteStat, h.GetStat)
	r.Post(RouteStatRefresh, h.ForceRefresh)

	r.Post(RouteReviews, h.CreateReviews)

	r.Get(RouteEvents, h.ListEvents)

	r.Get(RouteJobs, h.ListJobs)
	r.Post(RouteJobTrigger, h.TriggerJob)
	r.Put(RouteJobSchedule, h.UpdateJobSchedule)
	r.Delete(RouteJobSchedule, h.ResetJobSchedule)
}

// Response is the standard API response wrapper.
// Data is always present so that an insufficient-data answer reads as null.
type Response struct {
	Data any   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

// Meta contains list totals and statistic provenance.
type Meta struct {
	Total            int64      `json:"total,omitempty"`
	StatType         string     `json:"stat_type,omitempty"`
	Identifier       string     `json:"identifier,omitempty"`
	ComputedAt       *time.Time `json:"computed_at,omitempty"`
	AgeSeconds       *float64   `json:"age_seconds,omitempty"`
	Source           string     `json:"source,omitempty"`
	InsufficientData bool       `json:"insufficient_data,omitempty"`
}

// ErrorResponse is the standard API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response.
func WriteSuccess(w http.ResponseWriter, data any, meta *Meta) {
	WriteJSON(w, http.StatusOK, Response{Data: data, Meta: meta})
}

// WriteCreated writes a 201 Created JSON response.
func WriteCreated(w http.ResponseWriter, data any, meta *Meta) {
	WriteJSON(w, http.StatusCreated, Response{Data: data, Meta: meta})
}

// WriteError writes an error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details map[string]string) {
	resp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	WriteJSON(w, statusCode, resp)
}

// WriteBadRequest writes a 400 Bad Request response.
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message, details)
}

// WriteNotFound writes a 404 Not Found response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message, nil)
}

// WriteConflict writes a 409 Conflict response.
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message, nil)
}

// WriteTooManyRequests writes a 429 Too Many Requests response.
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message, nil)
}

// WriteUnavailable writes a 503 Service Unavailable response.
func WriteUnavailable(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusServiceUnavailable, code, message, nil)
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message, nil)
}

// WriteValidationError writes a 422 Unprocessable Entity response with field errors.
func WriteValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	WriteError(w, http.StatusUnprocessableEntity, "validation_error", "Validation failed", fieldErrors)
}

// decodeJSONBody decodes a size-limited request body into v.
// It writes a 400 and returns false when the body is not valid JSON.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyLen)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "Invalid JSON body", map[string]string{"body": err.Error()})
		return false
	}
	return true
}
