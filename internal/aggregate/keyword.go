// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package aggregate

import (
	"sort"

	"github.com/olegiv/reviewlens/internal/model"
)

// BuildKeywordSentiment tallies keyword tags across reviews. A keyword counts
// once per review. Keywords seen fewer than minCount times go to Pending.
func BuildKeywordSentiment(minCount int, reviews []model.Review) (*model.KeywordSentiment, error) {
	if len(reviews) == 0 {
		return nil, ErrInsufficientData
	}
	tallies := make(map[string]*model.KeywordStats)
	addKeywordReviews(tallies, reviews)
	return splitKeywords(minCount, tallies), nil
}

// MergeKeywordSentiment folds newly ingested reviews into an existing result.
func MergeKeywordSentiment(existing *model.KeywordSentiment, newReviews []model.Review) *model.KeywordSentiment {
	tallies := make(map[string]*model.KeywordStats, len(existing.Keywords)+len(existing.Pending))
	for _, group := range [][]model.KeywordStats{existing.Keywords, existing.Pending} {
		for _, k := range group {
			tallies[k.Keyword] = &k
		}
	}
	addKeywordReviews(tallies, newReviews)
	return splitKeywords(existing.MinCount, tallies)
}

func addKeywordReviews(tallies map[string]*model.KeywordStats, reviews []model.Review) {
	for _, r := range reviews {
		if !validLabel(r.Label) {
			continue
		}
		for _, kw := range uniqueKeywords(r.Keywords) {
			k, ok := tallies[kw]
			if !ok {
				k = &model.KeywordStats{Keyword: kw}
				tallies[kw] = k
			}
			k.Add(r.Label, r.Score)
		}
	}
}

func splitKeywords(minCount int, tallies map[string]*model.KeywordStats) *model.KeywordSentiment {
	out := &model.KeywordSentiment{MinCount: minCount, Keywords: []model.KeywordStats{}}
	for _, k := range tallies {
		k.Finalize()
		if k.Count >= minCount {
			out.Keywords = append(out.Keywords, *k)
		} else {
			out.Pending = append(out.Pending, *k)
		}
	}

	sort.Slice(out.Keywords, func(i, j int) bool {
		a, b := out.Keywords[i], out.Keywords[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Keyword < b.Keyword
	})
	sort.Slice(out.Pending, func(i, j int) bool {
		return out.Pending[i].Keyword < out.Pending[j].Keyword
	})
	return out
}

// topKeywords returns the n most frequent normalized keywords of reviews.
func topKeywords(reviews []model.Review, n int) []model.KeywordCount {
	counts := make(map[string]int)
	for _, r := range reviews {
		for _, kw := range uniqueKeywords(r.Keywords) {
			counts[kw]++
		}
	}
	out := make([]model.KeywordCount, 0, len(counts))
	for kw, c := range counts {
		out = append(out, model.KeywordCount{Keyword: kw, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
