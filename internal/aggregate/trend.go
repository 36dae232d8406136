// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package aggregate

import (
	"sort"
	"time"

	"github.com/olegiv/reviewlens/internal/model"
)

// BucketStart returns the start of the bucket containing t, in UTC.
// Weeks start on Monday.
func BucketStart(t time.Time, interval model.Interval) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch interval {
	case model.IntervalWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case model.IntervalMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// nextBucket returns the start of the bucket after start.
func nextBucket(start time.Time, interval model.Interval) time.Time {
	switch interval {
	case model.IntervalWeek:
		return start.AddDate(0, 0, 7)
	case model.IntervalMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// TrendWindowStart returns the first instant covered by a trend of the given
// length ending at now. It is aligned to a bucket boundary so whole buckets
// enter and leave the window.
func TrendWindowStart(now time.Time, days int, interval model.Interval) time.Time {
	return BucketStart(now.AddDate(0, 0, -days), interval)
}

// BuildSentimentTrend aggregates reviews of one product into time buckets.
// Reviews outside [TrendWindowStart(now), now] are ignored.
func BuildSentimentTrend(productID string, days int, interval model.Interval, now time.Time, reviews []model.Review) (*model.SentimentTrend, error) {
	trend := &model.SentimentTrend{ProductID: productID, Days: days, Interval: interval}
	return foldTrend(trend, nil, reviews, now)
}

// MergeSentimentTrend folds newly ingested reviews into an existing trend,
// dropping buckets that slid out of the window. The result matches a full
// recompute over the same reviews.
func MergeSentimentTrend(existing *model.SentimentTrend, newReviews []model.Review, now time.Time) (*model.SentimentTrend, error) {
	trend := &model.SentimentTrend{ProductID: existing.ProductID, Days: existing.Days, Interval: existing.Interval}
	return foldTrend(trend, existing.Buckets, newReviews, now)
}

func foldTrend(trend *model.SentimentTrend, seed []model.TrendBucket, reviews []model.Review, now time.Time) (*model.SentimentTrend, error) {
	from := TrendWindowStart(now, trend.Days, trend.Interval)
	buckets := make(map[time.Time]*model.TrendBucket)

	for _, b := range seed {
		if b.Start.Before(from) || b.Total == 0 {
			continue
		}
		b := b
		buckets[b.Start] = &b
	}

	for _, r := range reviews {
		if r.Date.Before(from) || r.Date.After(now) || !validLabel(r.Label) {
			continue
		}
		if trend.ProductID != "" && r.ProductID != trend.ProductID {
			continue
		}
		start := BucketStart(r.Date, trend.Interval)
		b, ok := buckets[start]
		if !ok {
			b = &model.TrendBucket{Start: start}
			buckets[start] = b
		}
		s := b.Label(r.Label)
		s.Count++
		s.ScoreSum += r.Score
	}

	if len(buckets) == 0 {
		return nil, ErrInsufficientData
	}

	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	// Dense between the first and last populated bucket.
	last := starts[len(starts)-1]
	for start := starts[0]; !start.After(last); start = nextBucket(start, trend.Interval) {
		b, ok := buckets[start]
		if !ok {
			b = &model.TrendBucket{Start: start}
		}
		b.Finalize()
		trend.Buckets = append(trend.Buckets, *b)
	}

	return trend, nil
}

func validLabel(l model.SentimentLabel) bool {
	switch l {
	case model.LabelPositive, model.LabelNeutral, model.LabelNegative:
		return true
	}
	return false
}
