// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"fmt"
	"math"
	"time"
)

// Round2 rounds to two decimals. Only applied when a payload is finalized.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Ratio returns count/max(total,1).
func Ratio(count, total int) float64 {
	if total < 1 {
		total = 1
	}
	return float64(count) / float64(total)
}

// LabelStats aggregates one sentiment label within a bucket.
type LabelStats struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	MeanScore  float64 `json:"mean_score"`
	ScoreSum   float64 `json:"score_sum"`
}

// TrendBucket is one time slot of a sentiment trend.
type TrendBucket struct {
	Start    time.Time  `json:"start"`
	Total    int        `json:"total"`
	Positive LabelStats `json:"positive"`
	Neutral  LabelStats `json:"neutral"`
	Negative LabelStats `json:"negative"`
}

// Label returns the stats of l.
func (b *TrendBucket) Label(l SentimentLabel) *LabelStats {
	switch l {
	case LabelPositive:
		return &b.Positive
	case LabelNeutral:
		return &b.Neutral
	default:
		return &b.Negative
	}
}

// Finalize recomputes total, percentages and means from the raw tallies.
func (b *TrendBucket) Finalize() {
	b.Total = b.Positive.Count + b.Neutral.Count + b.Negative.Count
	for _, l := range Labels {
		s := b.Label(l)
		s.Percentage = Round2(Ratio(s.Count, b.Total))
		s.MeanScore = 0
		if s.Count > 0 {
			s.MeanScore = Round2(s.ScoreSum / float64(s.Count))
		}
	}
}

// SentimentTrend is the payload of StatSentimentTrend.
type SentimentTrend struct {
	ProductID string        `json:"product_id"`
	Days      int           `json:"days"`
	Interval  Interval      `json:"interval"`
	Buckets   []TrendBucket `json:"buckets"`
}

// Validate checks that every bucket's label counts add up to its total
// and that buckets are strictly ascending.
func (t *SentimentTrend) Validate() error {
	for i, b := range t.Buckets {
		if sum := b.Positive.Count + b.Neutral.Count + b.Negative.Count; sum != b.Total {
			return fmt.Errorf("bucket %s: label counts %d do not match total %d", b.Start.Format(time.DateOnly), sum, b.Total)
		}
		if i > 0 && !t.Buckets[i-1].Start.Before(b.Start) {
			return fmt.Errorf("bucket %s is out of order", b.Start.Format(time.DateOnly))
		}
	}
	return nil
}

// KeywordStats aggregates reviews tagged with one keyword.
type KeywordStats struct {
	Keyword  string         `json:"keyword"`
	Count    int            `json:"count"`
	AvgScore float64        `json:"avg_score"`
	Label    SentimentLabel `json:"label"`
	Positive int            `json:"positive"`
	Neutral  int            `json:"neutral"`
	Negative int            `json:"negative"`
	ScoreSum float64        `json:"score_sum"`
}

// Add folds one review into the tally.
func (k *KeywordStats) Add(l SentimentLabel, score float64) {
	k.Count++
	k.ScoreSum += score
	switch l {
	case LabelPositive:
		k.Positive++
	case LabelNeutral:
		k.Neutral++
	default:
		k.Negative++
	}
}

// Finalize computes the average score and majority label.
// Ties resolve positive, then neutral, then negative.
func (k *KeywordStats) Finalize() {
	k.AvgScore = 0
	if k.Count > 0 {
		k.AvgScore = Round2(k.ScoreSum / float64(k.Count))
	}
	k.Label = LabelPositive
	best := k.Positive
	if k.Neutral > best {
		k.Label, best = LabelNeutral, k.Neutral
	}
	if k.Negative > best {
		k.Label = LabelNegative
	}
}

// KeywordSentiment is the payload of StatKeywordSentiment.
// Pending holds tallies still below MinCount.
type KeywordSentiment struct {
	MinCount int            `json:"min_count"`
	Keywords []KeywordStats `json:"keywords"`
	Pending  []KeywordStats `json:"pending,omitempty"`
}

// RatingHistogram counts ratings 1 through 5 at indexes 0 through 4.
type RatingHistogram [5]int

// Add counts a rating. Ratings outside 1..5 are ignored.
func (h *RatingHistogram) Add(rating int) bool {
	if rating < 1 || rating > 5 {
		return false
	}
	h[rating-1]++
	return true
}

// PlatformRatings is the rating distribution of one platform.
type PlatformRatings struct {
	Platform      string          `json:"platform"`
	Histogram     RatingHistogram `json:"histogram"`
	Total         int             `json:"total"`
	AverageRating float64         `json:"average_rating"`
	RatingSum     int             `json:"rating_sum"`
}

// PlatformRatingDistribution is the payload of StatPlatformRatingDistribution.
type PlatformRatingDistribution struct {
	PeriodDays int               `json:"period_days"`
	Platforms  []PlatformRatings `json:"platforms"`
}

// SentimentBreakdown counts labels with their shares.
type SentimentBreakdown struct {
	Positive   int     `json:"positive"`
	Neutral    int     `json:"neutral"`
	Negative   int     `json:"negative"`
	PositivePc float64 `json:"positive_pct"`
	NeutralPc  float64 `json:"neutral_pct"`
	NegativePc float64 `json:"negative_pct"`
}

// KeywordCount is a keyword with its frequency.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// ProductSummary compares one product against the others in a set.
type ProductSummary struct {
	ProductID     string             `json:"product_id"`
	Name          string             `json:"name"`
	Platform      string             `json:"platform"`
	Histogram     RatingHistogram    `json:"histogram"`
	Total         int                `json:"total"`
	AverageRating float64            `json:"average_rating"`
	Sentiment     SentimentBreakdown `json:"sentiment"`
	TopKeywords   []KeywordCount     `json:"top_keywords"`
}

// ProductComparison is the payload of StatProductComparison.
type ProductComparison struct {
	ProductIDs []string         `json:"product_ids"`
	Products   []ProductSummary `json:"products"`
}
