// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package aggregate

import (
	"sort"

	"github.com/olegiv/reviewlens/internal/model"
)

// BuildPlatformDistribution builds a 1..5 rating histogram per platform.
// Ratings outside 1..5 are ignored.
func BuildPlatformDistribution(periodDays int, reviews []model.Review) (*model.PlatformRatingDistribution, error) {
	byPlatform := make(map[string]*model.PlatformRatings)
	for _, r := range reviews {
		p, ok := byPlatform[r.Platform]
		if !ok {
			p = &model.PlatformRatings{Platform: r.Platform}
			byPlatform[r.Platform] = p
		}
		if p.Histogram.Add(r.Rating) {
			p.Total++
			p.RatingSum += r.Rating
		}
	}

	out := &model.PlatformRatingDistribution{PeriodDays: periodDays}
	for _, p := range byPlatform {
		if p.Total == 0 {
			continue
		}
		p.AverageRating = model.Round2(float64(p.RatingSum) / float64(p.Total))
		out.Platforms = append(out.Platforms, *p)
	}
	if len(out.Platforms) == 0 {
		return nil, ErrInsufficientData
	}

	sort.Slice(out.Platforms, func(i, j int) bool {
		return out.Platforms[i].Platform < out.Platforms[j].Platform
	})
	return out, nil
}
