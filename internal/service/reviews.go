// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/microcosm-cc/bluemonday"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/store"
)

// Error represents a review validation error.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrInvalidReview is returned when a review fails validation.
	ErrInvalidReview Error = "invalid review"

	// ErrUnknownProduct is returned when a review names a product that does not exist.
	ErrUnknownProduct Error = "unknown product"
)

// Limits applied to incoming keyword tags.
const (
	maxKeywords      = 32
	maxKeywordLength = 64
)

// keywordSanitizer strips all markup from keyword tags.
var keywordSanitizer = bluemonday.StrictPolicy()

// ReviewInput is a review as submitted for ingestion.
type ReviewInput struct {
	ID        string    `json:"id,omitempty"`
	ProductID string    `json:"product_id"`
	Rating    int       `json:"rating"`
	Label     string    `json:"sentiment_label"`
	Score     float64   `json:"sentiment_score"`
	Keywords  []string  `json:"keywords"`
	Date      time.Time `json:"date"`
}

// ReviewWrittenFunc is notified after reviews of productID were committed.
type ReviewWrittenFunc func(ctx context.Context, productID string) error

// ReviewService stores reviews and notifies subscribers of each write.
type ReviewService struct {
	db      *sql.DB
	queries *store.Queries
	clock   clockwork.Clock
	logger  *slog.Logger

	mu    sync.RWMutex
	hooks []ReviewWrittenFunc
}

// NewReviewService creates a new ReviewService. A nil clock uses the real clock.
func NewReviewService(db *sql.DB, clock clockwork.Clock, logger *slog.Logger) *ReviewService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReviewService{
		db:      db,
		queries: store.New(db),
		clock:   clock,
		logger:  logger,
	}
}

// OnReviewWritten subscribes fn to review writes.
func (s *ReviewService) OnReviewWritten(fn ReviewWrittenFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Ingest validates and stores one review.
func (s *ReviewService) Ingest(ctx context.Context, in ReviewInput) (model.Review, error) {
	reviews, err := s.IngestBatch(ctx, []ReviewInput{in})
	if err != nil {
		return model.Review{}, err
	}
	return reviews[0], nil
}

// IngestBatch validates and stores reviews in one transaction. Subscribers
// are notified once per product after the commit.
func (s *ReviewService) IngestBatch(ctx context.Context, inputs []ReviewInput) ([]model.Review, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no reviews", ErrInvalidReview)
	}

	now := s.clock.Now().UTC()
	reviews := make([]model.Review, len(inputs))
	for i, in := range inputs {
		r, err := buildReview(in, now)
		if err != nil {
			return nil, err
		}
		reviews[i] = r
	}

	products, err := s.checkProducts(ctx, reviews)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	qtx := s.queries.WithTx(tx)
	for _, r := range reviews {
		if err := qtx.CreateReview(ctx, r); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reviews: %w", err)
	}

	s.logger.Debug("reviews ingested", "count", len(reviews), "products", len(products))
	for _, productID := range products {
		s.notify(ctx, productID)
	}
	return reviews, nil
}

// checkProducts returns the distinct product ids of reviews in input order
// and fails when one of them is unknown.
func (s *ReviewService) checkProducts(ctx context.Context, reviews []model.Review) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	for _, r := range reviews {
		if _, ok := seen[r.ProductID]; !ok {
			seen[r.ProductID] = struct{}{}
			ids = append(ids, r.ProductID)
		}
	}

	found, err := s.queries.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	if len(found) == len(ids) {
		return ids, nil
	}
	known := make(map[string]struct{}, len(found))
	for _, p := range found {
		known[p.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, id)
		}
	}
	return ids, nil
}

func (s *ReviewService) notify(ctx context.Context, productID string) {
	s.mu.RLock()
	hooks := append([]ReviewWrittenFunc(nil), s.hooks...)
	s.mu.RUnlock()

	for _, fn := range hooks {
		if err := fn(ctx, productID); err != nil {
			s.logger.Warn("review write hook failed",
				"category", model.EventCategoryIngest,
				"product_id", productID,
				"error", err,
			)
		}
	}
}

// buildReview validates in and converts it into a review ingested at now.
func buildReview(in ReviewInput, now time.Time) (model.Review, error) {
	productID := strings.TrimSpace(in.ProductID)
	if productID == "" {
		return model.Review{}, fmt.Errorf("%w: product_id is required", ErrInvalidReview)
	}
	if in.Rating < 1 || in.Rating > 5 {
		return model.Review{}, fmt.Errorf("%w: rating %d outside 1..5", ErrInvalidReview, in.Rating)
	}
	label, err := model.ParseLabel(in.Label)
	if err != nil {
		return model.Review{}, fmt.Errorf("%w: %w", ErrInvalidReview, err)
	}
	if math.IsNaN(in.Score) || in.Score < -1 || in.Score > 1 {
		return model.Review{}, fmt.Errorf("%w: sentiment_score must be within [-1, 1]", ErrInvalidReview)
	}
	if len(in.Keywords) > maxKeywords {
		return model.Review{}, fmt.Errorf("%w: at most %d keywords", ErrInvalidReview, maxKeywords)
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	date := in.Date.UTC()
	if in.Date.IsZero() {
		date = now
	}
	if date.After(now) {
		return model.Review{}, fmt.Errorf("%w: review date is in the future", ErrInvalidReview)
	}

	return model.Review{
		ID:         id,
		ProductID:  productID,
		Rating:     in.Rating,
		Label:      label,
		Score:      in.Score,
		Keywords:   SanitizeKeywords(in.Keywords),
		Date:       date,
		IngestedAt: now,
	}, nil
}

// SanitizeKeywords strips markup and control characters from keyword tags
// and drops empty or duplicate ones. Grouping normalization happens at
// aggregation time; stored tags keep their original spelling.
func SanitizeKeywords(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, kw := range raw {
		kw = html.UnescapeString(keywordSanitizer.Sanitize(kw))
		kw = strings.Map(func(r rune) rune {
			if r < 0x20 || r == 0x7f {
				return ' '
			}
			return r
		}, kw)
		kw = strings.Join(strings.Fields(kw), " ")
		if kw == "" {
			continue
		}
		kw = truncateUTF8(kw, maxKeywordLength)
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
