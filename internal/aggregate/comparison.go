// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package aggregate

import (
	"fmt"
	"sort"

	"github.com/olegiv/reviewlens/internal/model"
)

// comparisonTopKeywords is how many keywords each compared product lists.
const comparisonTopKeywords = 5

// BuildProductComparison summarizes each product of a comparison set.
// Products are ordered by id regardless of how the set was given.
func BuildProductComparison(ids []string, products []model.Product, reviews []model.Review) (*model.ProductComparison, error) {
	ids = model.NewComparisonParams(ids).ProductIDs

	known := make(map[string]model.Product, len(products))
	for _, p := range products {
		known[p.ID] = p
	}
	byProduct := make(map[string][]model.Review, len(ids))
	for _, r := range reviews {
		byProduct[r.ProductID] = append(byProduct[r.ProductID], r)
	}

	out := &model.ProductComparison{ProductIDs: ids}
	total := 0
	for _, id := range ids {
		p, ok := known[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
		}
		summary := summarizeProduct(p, byProduct[id])
		total += summary.Total
		out.Products = append(out.Products, summary)
	}
	if total == 0 {
		return nil, ErrInsufficientData
	}

	sort.Slice(out.Products, func(i, j int) bool {
		return out.Products[i].ProductID < out.Products[j].ProductID
	})
	return out, nil
}

func summarizeProduct(p model.Product, reviews []model.Review) model.ProductSummary {
	s := model.ProductSummary{ProductID: p.ID, Name: p.Name, Platform: p.Platform}

	ratingSum := 0
	for _, r := range reviews {
		if s.Histogram.Add(r.Rating) {
			s.Total++
			ratingSum += r.Rating
		}
		switch r.Label {
		case model.LabelPositive:
			s.Sentiment.Positive++
		case model.LabelNeutral:
			s.Sentiment.Neutral++
		case model.LabelNegative:
			s.Sentiment.Negative++
		}
	}
	if s.Total > 0 {
		s.AverageRating = model.Round2(float64(ratingSum) / float64(s.Total))
	}

	labelled := s.Sentiment.Positive + s.Sentiment.Neutral + s.Sentiment.Negative
	s.Sentiment.PositivePc = model.Round2(model.Ratio(s.Sentiment.Positive, labelled))
	s.Sentiment.NeutralPc = model.Round2(model.Ratio(s.Sentiment.Neutral, labelled))
	s.Sentiment.NegativePc = model.Round2(model.Ratio(s.Sentiment.Negative, labelled))

	s.TopKeywords = topKeywords(reviews, comparisonTopKeywords)
	return s
}
