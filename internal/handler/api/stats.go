// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/reviewlens/internal/aggregate"
	"github.com/olegiv/reviewlens/internal/flight"
	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/resolver"
)

// GetStat handles GET /api/v1/stats/{statType}/{identifier}.
func (h *Handler) GetStat(w http.ResponseWriter, r *http.Request) {
	statType, err := model.ParseStatType(chi.URLParam(r, "statType"))
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	if statType == model.StatProductComparison {
		WriteBadRequest(w, "Comparisons are requested by product set", map[string]string{
			"products": "use /api/v1/stats/product_comparison?products=a,b",
		})
		return
	}

	query := r.URL.Query()
	params, err := parseParams(statType, query)
	if err != nil {
		writeStatError(w, err)
		return
	}
	q, err := model.NewQuery(statType, chi.URLParam(r, "identifier"), params)
	if err != nil {
		writeStatError(w, err)
		return
	}
	h.resolve(w, r, q, query)
}

// GetComparison handles GET /api/v1/stats/product_comparison?products=a,b,c.
func (h *Handler) GetComparison(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params, err := parseParams(model.StatProductComparison, query)
	if err != nil {
		writeStatError(w, err)
		return
	}
	q, err := model.NewQuery(model.StatProductComparison, "", params)
	if err != nil {
		writeStatError(w, err)
		return
	}
	h.resolve(w, r, q, query)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, q model.Query, query url.Values) {
	policy, err := parsePolicy(query, h.DefaultPolicy)
	if err != nil {
		writeStatError(w, err)
		return
	}

	res, err := h.Resolver.Resolve(r.Context(), q, policy)
	if err != nil {
		h.logStatError(r.Context(), q, err)
		writeStatError(w, err)
		return
	}
	WriteSuccess(w, res.Payload, h.resultMeta(res))
}

// ForceRefresh handles POST /api/v1/stats/{statType}/{identifier}/refresh.
func (h *Handler) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	statType, err := model.ParseStatType(chi.URLParam(r, "statType"))
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	identifier := chi.URLParam(r, "identifier")

	results, err := h.Resolver.ForceRefresh(r.Context(), statType, identifier)
	if err != nil {
		h.logStatError(r.Context(), model.Query{Type: statType, Identifier: identifier}, err)
		writeStatError(w, err)
		return
	}

	type refreshedVariant struct {
		Data any   `json:"data"`
		Meta *Meta `json:"meta"`
	}
	variants := make([]refreshedVariant, 0, len(results))
	for _, res := range results {
		variants = append(variants, refreshedVariant{Data: res.Payload, Meta: h.resultMeta(res)})
	}
	WriteSuccess(w, variants, &Meta{
		Total:      int64(len(variants)),
		StatType:   string(statType),
		Identifier: identifier,
	})
}

// GetFreshness handles GET /api/v1/stats/freshness.
func (h *Handler) GetFreshness(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Resolver.FreshnessReport(r.Context())
	if err != nil {
		h.Logger.Error("failed to build freshness report", "category", "cache", "error", err)
		WriteUnavailable(w, "store_unavailable", "Precomputed store unavailable")
		return
	}

	if filter := r.URL.Query().Get("stat_type"); filter != "" {
		statType, err := model.ParseStatType(filter)
		if err != nil {
			WriteBadRequest(w, err.Error(), nil)
			return
		}
		kept := entries[:0]
		for _, e := range entries {
			if e.StatType == statType {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	WriteSuccess(w, entries, &Meta{Total: int64(len(entries))})
}

func (h *Handler) resultMeta(res *resolver.Result) *Meta {
	computedAt := res.ComputedAt
	age := h.Clock.Since(computedAt).Seconds()
	if age < 0 {
		age = 0
	}
	return &Meta{
		StatType:   string(res.Query.Type),
		Identifier: res.Query.Identifier,
		ComputedAt: &computedAt,
		AgeSeconds: &age,
		Source:     string(res.Source),
	}
}

// writeStatError maps resolver, model and aggregation errors onto responses.
// Insufficient data is an answer: 200 with a null payload.
func writeStatError(w http.ResponseWriter, err error) {
	var cerr *aggregate.ComputationError
	switch {
	case errors.Is(err, aggregate.ErrInsufficientData):
		WriteSuccess(w, nil, &Meta{InsufficientData: true})
	case errors.Is(err, model.ErrUnknownStatType),
		errors.Is(err, model.ErrInvalidParams),
		errors.Is(err, resolver.ErrInvalidPolicy):
		WriteBadRequest(w, err.Error(), nil)
	case errors.Is(err, aggregate.ErrUnknownProduct):
		WriteNotFound(w, err.Error())
	case errors.Is(err, resolver.ErrRefreshRateLimited):
		WriteTooManyRequests(w, "Statistic was refreshed moments ago, retry later")
	case errors.Is(err, flight.ErrCoordinatorTimeout),
		errors.Is(err, context.DeadlineExceeded):
		WriteUnavailable(w, "computation_timeout", "Statistic is still being computed, retry later")
	case errors.Is(err, flight.ErrClosed):
		WriteUnavailable(w, "shutting_down", "Server is shutting down")
	case errors.As(err, &cerr):
		WriteInternalError(w, "Failed to compute statistic")
	default:
		WriteInternalError(w, "Failed to resolve statistic")
	}
}

func (h *Handler) logStatError(ctx context.Context, q model.Query, err error) {
	switch {
	case errors.Is(err, aggregate.ErrInsufficientData),
		errors.Is(err, model.ErrInvalidParams),
		errors.Is(err, model.ErrUnknownStatType),
		errors.Is(err, resolver.ErrInvalidPolicy),
		errors.Is(err, resolver.ErrRefreshRateLimited),
		errors.Is(err, aggregate.ErrUnknownProduct):
		return
	}
	h.Logger.ErrorContext(ctx, "statistic request failed",
		"category", "aggregate",
		"stat_type", q.Type,
		"identifier", q.Identifier,
		"error", err,
	)
}

// parseParams builds the params of statType from query values,
// falling back to the defaults for anything not given.
func parseParams(statType model.StatType, query url.Values) (model.Params, error) {
	if statType == model.StatProductComparison {
		var ids []string
		for _, v := range query["products"] {
			ids = append(ids, strings.Split(v, ",")...)
		}
		return model.NewComparisonParams(ids), nil
	}

	params, err := model.DefaultParams(statType)
	if err != nil {
		return nil, err
	}

	switch p := params.(type) {
	case model.TrendParams:
		if p.Days, err = intParam(query, "days", p.Days); err != nil {
			return nil, err
		}
		if v := query.Get("interval"); v != "" {
			if p.Interval, err = model.ParseInterval(v); err != nil {
				return nil, err
			}
		}
		return p, nil
	case model.KeywordParams:
		if p.MinCount, err = intParam(query, "min_count", p.MinCount); err != nil {
			return nil, err
		}
		return p, nil
	case model.PlatformParams:
		if p.PeriodDays, err = intParam(query, "period_days", p.PeriodDays); err != nil {
			return nil, err
		}
		return p, nil
	}
	return params, nil
}

func intParam(query url.Values, name string, def int) (int, error) {
	v := query.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", model.ErrInvalidParams, name)
	}
	return n, nil
}

// parsePolicy reads policy, max_age and stale_tolerance. Durations are Go
// duration strings or plain seconds. Omitted bounds come from def.
func parsePolicy(query url.Values, def resolver.Policy) (resolver.Policy, error) {
	p := def
	if v := query.Get("policy"); v != "" {
		mode, err := resolver.ParseMode(v)
		if err != nil {
			return resolver.Policy{}, err
		}
		p.Mode = mode
	}

	var err error
	if p.MaxAge, err = durationParam(query, "max_age", def.MaxAge); err != nil {
		return resolver.Policy{}, err
	}
	if p.Mode == resolver.ModeMustBeFresh {
		p.StaleTolerance = 0
		return p, p.Validate()
	}

	tolerance := def.StaleTolerance
	if tolerance < p.MaxAge {
		tolerance = p.MaxAge
	}
	if p.StaleTolerance, err = durationParam(query, "stale_tolerance", tolerance); err != nil {
		return resolver.Policy{}, err
	}
	return p, p.Validate()
}

func durationParam(query url.Values, name string, def time.Duration) (time.Duration, error) {
	v := query.Get(name)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a duration", resolver.ErrInvalidPolicy, name)
	}
	return d, nil
}
