// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/reviewlens/internal/model"
)

var demoProducts = []model.Product{
	{ID: "aurora-headphones", Name: "Aurora Headphones", Platform: "amazon"},
	{ID: "nimbus-speaker", Name: "Nimbus Speaker", Platform: "amazon"},
	{ID: "vega-earbuds", Name: "Vega Earbuds", Platform: "bestbuy"},
	{ID: "orion-soundbar", Name: "Orion Soundbar", Platform: "walmart"},
}

var demoKeywords = []string{"battery", "sound", "comfort", "price", "bluetooth", "bass", "shipping", "build"}

// demoReviewsPerProduct is the number of reviews generated per demo product.
const demoReviewsPerProduct = 120

// Seed fills an empty database with demo products and reviews spread over
// the 120 days before now. It is a no-op when reviews already exist.
func Seed(ctx context.Context, db *sql.DB, now time.Time) error {
	queries := New(db)

	n, err := queries.CountReviews(ctx)
	if err != nil {
		return fmt.Errorf("counting reviews: %w", err)
	}
	if n > 0 {
		slog.Info("reviews already present, skipping seed", "count", n)
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	qtx := queries.WithTx(tx)

	rng := rand.New(rand.NewPCG(42, 7))
	created := 0
	for _, p := range demoProducts {
		p.CreatedAt = now.AddDate(0, 0, -180)
		if err := qtx.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("creating product %s: %w", p.ID, err)
		}

		for range demoReviewsPerProduct {
			r := demoReview(rng, p.ID, now)
			if err := qtx.CreateReview(ctx, r); err != nil {
				return fmt.Errorf("creating review for %s: %w", p.ID, err)
			}
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing seed: %w", err)
	}

	slog.Info("seeded demo reviews", "products", len(demoProducts), "reviews", created)
	return nil
}

func demoReview(rng *rand.Rand, productID string, now time.Time) model.Review {
	rating := 1 + rng.IntN(5)
	var (
		label model.SentimentLabel
		score float64
	)
	switch {
	case rating >= 4:
		label, score = model.LabelPositive, 0.4+rng.Float64()*0.6
	case rating == 3:
		label, score = model.LabelNeutral, -0.2+rng.Float64()*0.4
	default:
		label, score = model.LabelNegative, -1+rng.Float64()*0.6
	}

	kw := make([]string, 0, 2)
	first := rng.IntN(len(demoKeywords))
	kw = append(kw, demoKeywords[first])
	if second := rng.IntN(len(demoKeywords)); second != first {
		kw = append(kw, demoKeywords[second])
	}

	date := now.Add(-time.Duration(rng.IntN(120*24)) * time.Hour)
	return model.Review{
		ID:         uuid.NewString(),
		ProductID:  productID,
		Rating:     rating,
		Label:      label,
		Score:      score,
		Keywords:   kw,
		Date:       date,
		IngestedAt: date,
	}
}
