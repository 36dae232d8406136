// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package aggregate computes review statistics from raw reviews.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/store"
)

// ReviewSource is the read side of the review store.
type ReviewSource interface {
	ListReviews(ctx context.Context, f store.ReviewFilter) ([]model.Review, error)
	GetProducts(ctx context.Context, ids []string) ([]model.Product, error)
	// LatestReviewSeq returns the sequence of the last committed review.
	// Reviews committed afterwards must get a greater sequence.
	LatestReviewSeq(ctx context.Context) (int64, error)
}

// Snapshot is a computed payload and the watermark of the reviews it covers:
// every review with a sequence up to Watermark and none after it.
type Snapshot struct {
	Payload   []byte
	Watermark int64
}

// Engine computes statistics on demand. It holds no state besides its
// collaborators and is safe for concurrent use.
type Engine struct {
	src    ReviewSource
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewEngine creates an engine reading from src.
func NewEngine(src ReviewSource, clock clockwork.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{src: src, clock: clock, logger: logger}
}

// Compute runs the aggregation named by q as of now and returns its JSON payload.
// Failures are *ComputationError; ErrInsufficientData is matched with errors.Is.
func (e *Engine) Compute(ctx context.Context, q model.Query) ([]byte, error) {
	snap, err := e.ComputeAsOf(ctx, q, e.clock.Now())
	if err != nil {
		return nil, err
	}
	return snap.Payload, nil
}

// ComputeAsOf runs the aggregation at asOf over every review committed when
// it starts. The snapshot can later be brought up to date with
// IncrementalAsOf(since = Watermark) without missing or counting a review twice.
func (e *Engine) ComputeAsOf(ctx context.Context, q model.Query, asOf time.Time) (Snapshot, error) {
	through, err := e.src.LatestReviewSeq(ctx)
	if err != nil {
		return Snapshot{}, computationError(q, fmt.Errorf("reading review watermark: %w", err))
	}

	var payload any
	switch p := q.Params.(type) {
	case model.TrendParams:
		payload, err = e.sentimentTrend(ctx, asOf, through, q.Identifier, p.Days, p.Interval)
	case model.KeywordParams:
		payload, err = e.keywordSentiment(ctx, through, q.Identifier, p.MinCount)
	case model.PlatformParams:
		payload, err = e.platformRatingDistribution(ctx, asOf, through, q.Identifier, p.PeriodDays)
	case model.ComparisonParams:
		payload, err = e.productComparison(ctx, through, p.ProductIDs)
	default:
		err = fmt.Errorf("%w: %T", model.ErrInvalidParams, q.Params)
	}
	if err != nil {
		return Snapshot{}, computationError(q, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Snapshot{}, computationError(q, fmt.Errorf("encoding payload: %w", err))
	}

	e.logger.Debug("computed statistic",
		"stat_type", q.Type,
		"identifier", q.Identifier,
		"bytes", len(data),
		"watermark", through,
		"duration", e.clock.Since(asOf),
	)
	return Snapshot{Payload: data, Watermark: through}, nil
}

// listThrough lists reviews matching f with a sequence up to through.
func (e *Engine) listThrough(ctx context.Context, f store.ReviewFilter, through int64) ([]model.Review, error) {
	if through <= f.AfterSeq {
		return nil, nil
	}
	f.ThroughSeq = through
	return e.src.ListReviews(ctx, f)
}

func (e *Engine) latest(ctx context.Context) (int64, error) {
	through, err := e.src.LatestReviewSeq(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading review watermark: %w", err)
	}
	return through, nil
}

// SentimentTrend computes the sentiment-over-time of one product.
func (e *Engine) SentimentTrend(ctx context.Context, productID string, days int, interval model.Interval) (*model.SentimentTrend, error) {
	through, err := e.latest(ctx)
	if err != nil {
		return nil, err
	}
	return e.sentimentTrend(ctx, e.clock.Now(), through, productID, days, interval)
}

func (e *Engine) sentimentTrend(ctx context.Context, asOf time.Time, through int64, productID string, days int, interval model.Interval) (*model.SentimentTrend, error) {
	reviews, err := e.listThrough(ctx, store.ReviewFilter{
		ProductID: productID,
		From:      TrendWindowStart(asOf, days, interval),
		To:        asOf,
	}, through)
	if err != nil {
		return nil, fmt.Errorf("loading reviews: %w", err)
	}
	return BuildSentimentTrend(productID, days, interval, asOf, reviews)
}

// KeywordSentiment computes keyword statistics for one product or, with
// model.IdentifierAll, for every product.
func (e *Engine) KeywordSentiment(ctx context.Context, scope string, minCount int) (*model.KeywordSentiment, error) {
	through, err := e.latest(ctx)
	if err != nil {
		return nil, err
	}
	return e.keywordSentiment(ctx, through, scope, minCount)
}

func (e *Engine) keywordSentiment(ctx context.Context, through int64, scope string, minCount int) (*model.KeywordSentiment, error) {
	reviews, err := e.listThrough(ctx, scopeFilter(scope), through)
	if err != nil {
		return nil, fmt.Errorf("loading reviews: %w", err)
	}
	return BuildKeywordSentiment(minCount, reviews)
}

// PlatformRatingDistribution computes rating histograms for one platform or,
// with model.IdentifierAll, for every platform. periodDays 0 means all-time.
func (e *Engine) PlatformRatingDistribution(ctx context.Context, platform string, periodDays int) (*model.PlatformRatingDistribution, error) {
	through, err := e.latest(ctx)
	if err != nil {
		return nil, err
	}
	return e.platformRatingDistribution(ctx, e.clock.Now(), through, platform, periodDays)
}

func (e *Engine) platformRatingDistribution(ctx context.Context, asOf time.Time, through int64, platform string, periodDays int) (*model.PlatformRatingDistribution, error) {
	var f store.ReviewFilter
	if platform != model.IdentifierAll {
		f.Platform = platform
	}
	if periodDays > 0 {
		f.From = asOf.AddDate(0, 0, -periodDays)
		f.To = asOf
	}
	reviews, err := e.listThrough(ctx, f, through)
	if err != nil {
		return nil, fmt.Errorf("loading reviews: %w", err)
	}
	return BuildPlatformDistribution(periodDays, reviews)
}

// ProductComparison compares up to model.MaxComparisonProducts products.
func (e *Engine) ProductComparison(ctx context.Context, productIDs []string) (*model.ProductComparison, error) {
	through, err := e.latest(ctx)
	if err != nil {
		return nil, err
	}
	return e.productComparison(ctx, through, productIDs)
}

func (e *Engine) productComparison(ctx context.Context, through int64, productIDs []string) (*model.ProductComparison, error) {
	params := model.NewComparisonParams(productIDs)
	if err := params.Validate(); err != nil {
		return nil, err
	}
	products, err := e.src.GetProducts(ctx, params.ProductIDs)
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	reviews, err := e.listThrough(ctx, store.ReviewFilter{ProductIDs: params.ProductIDs}, through)
	if err != nil {
		return nil, fmt.Errorf("loading reviews: %w", err)
	}
	return BuildProductComparison(params.ProductIDs, products, reviews)
}

// SupportsIncremental reports whether t can be updated from new reviews alone.
func SupportsIncremental(t model.StatType) bool {
	return t == model.StatSentimentTrend || t == model.StatKeywordSentiment
}

// Incremental folds reviews committed after the watermark since into the
// existing payload of q.
func (e *Engine) Incremental(ctx context.Context, q model.Query, existing []byte, since int64) ([]byte, error) {
	snap, err := e.IncrementalAsOf(ctx, q, existing, since, e.clock.Now())
	if err != nil {
		return nil, err
	}
	return snap.Payload, nil
}

// IncrementalAsOf folds reviews with a sequence after since into the existing
// payload of q, computed with watermark since. The result equals ComputeAsOf(q, asOf).
func (e *Engine) IncrementalAsOf(ctx context.Context, q model.Query, existing []byte, since int64, asOf time.Time) (Snapshot, error) {
	if !SupportsIncremental(q.Type) {
		return Snapshot{}, computationError(q, ErrIncrementalUnsupported)
	}
	through, err := e.src.LatestReviewSeq(ctx)
	if err != nil {
		return Snapshot{}, computationError(q, fmt.Errorf("reading review watermark: %w", err))
	}
	if through < since {
		through = since
	}

	f := scopeFilter(q.Identifier)
	f.AfterSeq = since
	reviews, err := e.listThrough(ctx, f, through)
	if err != nil {
		return Snapshot{}, computationError(q, fmt.Errorf("loading new reviews: %w", err))
	}
	data, err := e.updateIncrementally(q, existing, reviews, asOf)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Payload: data, Watermark: through}, nil
}

// UpdateIncrementally folds newReviews into an existing trend or keyword payload.
func (e *Engine) UpdateIncrementally(q model.Query, existing []byte, newReviews []model.Review) ([]byte, error) {
	return e.updateIncrementally(q, existing, newReviews, e.clock.Now())
}

func (e *Engine) updateIncrementally(q model.Query, existing []byte, newReviews []model.Review, asOf time.Time) ([]byte, error) {
	var (
		payload any
		err     error
	)
	switch q.Type {
	case model.StatSentimentTrend:
		var prev model.SentimentTrend
		if err = json.Unmarshal(existing, &prev); err != nil {
			return nil, computationError(q, fmt.Errorf("decoding existing payload: %w", err))
		}
		payload, err = MergeSentimentTrend(&prev, newReviews, asOf)
	case model.StatKeywordSentiment:
		var prev model.KeywordSentiment
		if err = json.Unmarshal(existing, &prev); err != nil {
			return nil, computationError(q, fmt.Errorf("decoding existing payload: %w", err))
		}
		payload = MergeKeywordSentiment(&prev, newReviews)
	default:
		err = ErrIncrementalUnsupported
	}
	if err != nil {
		return nil, computationError(q, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, computationError(q, fmt.Errorf("encoding payload: %w", err))
	}
	return data, nil
}

func scopeFilter(scope string) store.ReviewFilter {
	if scope == model.IdentifierAll {
		return store.ReviewFilter{}
	}
	return store.ReviewFilter{ProductID: scope}
}
