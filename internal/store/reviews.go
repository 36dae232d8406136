// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olegiv/reviewlens/internal/model"
)

// keywordSeparator joins keywords inside group_concat. Ingestion strips it from tags.
const keywordSeparator = "\x1f"

// ReviewFilter narrows ListReviews. Zero fields are ignored.
// AfterSeq and ThroughSeq bound the ingestion sequence: (AfterSeq, ThroughSeq].
type ReviewFilter struct {
	ProductID  string
	ProductIDs []string
	Platform   string
	From       time.Time
	To         time.Time
	AfterSeq   int64
	ThroughSeq int64
}

const createProduct = `
INSERT INTO products (id, name, platform, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, platform = excluded.platform
`

// UpsertProduct inserts a product or updates its name and platform.
func (q *Queries) UpsertProduct(ctx context.Context, p model.Product) error {
	_, err := q.db.ExecContext(ctx, createProduct, p.ID, p.Name, p.Platform, toMillis(p.CreatedAt))
	return err
}

// GetProducts returns the products with the given ids, ordered by id.
func (q *Queries) GetProducts(ctx context.Context, ids []string) ([]model.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, name, platform, created_at FROM products WHERE id IN (` +
		placeholders(len(ids)) + `) ORDER BY id`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return q.scanProducts(ctx, query, args...)
}

// ListProducts returns every product ordered by id.
func (q *Queries) ListProducts(ctx context.Context) ([]model.Product, error) {
	return q.scanProducts(ctx, `SELECT id, name, platform, created_at FROM products ORDER BY id`)
}

func (q *Queries) scanProducts(ctx context.Context, query string, args ...any) ([]model.Product, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []model.Product
	for rows.Next() {
		var (
			p         model.Product
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Platform, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = fromMillis(createdAt)
		items = append(items, p)
	}
	return items, rows.Err()
}

const createReview = `
INSERT INTO reviews (id, product_id, rating, sentiment_label, sentiment_score, review_date, ingested_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const createReviewKeyword = `
INSERT OR IGNORE INTO review_keywords (review_id, keyword) VALUES (?, ?)
`

// CreateReview inserts a review and its keyword tags.
// Callers wanting atomicity pass Queries bound to a transaction.
func (q *Queries) CreateReview(ctx context.Context, r model.Review) error {
	_, err := q.db.ExecContext(ctx, createReview,
		r.ID, r.ProductID, r.Rating, string(r.Label), r.Score,
		toMillis(r.Date), toMillis(r.IngestedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting review %s: %w", r.ID, err)
	}
	for _, kw := range r.Keywords {
		if _, err := q.db.ExecContext(ctx, createReviewKeyword, r.ID, kw); err != nil {
			return fmt.Errorf("inserting keyword %q: %w", kw, err)
		}
	}
	return nil
}

// ListReviews returns reviews matching f ordered by review date then id.
// Keywords are sorted.
func (q *Queries) ListReviews(ctx context.Context, f ReviewFilter) ([]model.Review, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
SELECT r.seq, r.id, r.product_id, p.platform, r.rating, r.sentiment_label, r.sentiment_score,
       r.review_date, r.ingested_at,
       COALESCE((SELECT group_concat(k.keyword, char(31)) FROM review_keywords k WHERE k.review_id = r.id), '')
FROM reviews r
JOIN products p ON p.id = r.product_id
WHERE 1 = 1`)

	if f.ProductID != "" {
		sb.WriteString(" AND r.product_id = ?")
		args = append(args, f.ProductID)
	}
	if len(f.ProductIDs) > 0 {
		sb.WriteString(" AND r.product_id IN (" + placeholders(len(f.ProductIDs)) + ")")
		for _, id := range f.ProductIDs {
			args = append(args, id)
		}
	}
	if f.Platform != "" {
		sb.WriteString(" AND p.platform = ?")
		args = append(args, f.Platform)
	}
	if !f.From.IsZero() {
		sb.WriteString(" AND r.review_date >= ?")
		args = append(args, toMillis(f.From))
	}
	if !f.To.IsZero() {
		sb.WriteString(" AND r.review_date <= ?")
		args = append(args, toMillis(f.To))
	}
	if f.AfterSeq > 0 {
		sb.WriteString(" AND r.seq > ?")
		args = append(args, f.AfterSeq)
	}
	if f.ThroughSeq > 0 {
		sb.WriteString(" AND r.seq <= ?")
		args = append(args, f.ThroughSeq)
	}
	sb.WriteString(" ORDER BY r.review_date, r.id")

	rows, err := q.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []model.Review
	for rows.Next() {
		var (
			r                    model.Review
			label, keywords      string
			reviewDate, ingested int64
		)
		if err := rows.Scan(&r.Seq, &r.ID, &r.ProductID, &r.Platform, &r.Rating, &label, &r.Score,
			&reviewDate, &ingested, &keywords); err != nil {
			return nil, err
		}
		r.Label = model.SentimentLabel(label)
		r.Date = fromMillis(reviewDate)
		r.IngestedAt = fromMillis(ingested)
		if keywords != "" {
			r.Keywords = strings.Split(keywords, keywordSeparator)
			sort.Strings(r.Keywords)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// LatestReviewSeq returns the sequence of the last committed review, 0 when
// there is none. Reviews committed later always get a greater sequence.
func (q *Queries) LatestReviewSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM reviews`).Scan(&seq)
	return seq, err
}

// CountReviews returns the number of stored reviews.
func (q *Queries) CountReviews(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews`).Scan(&n)
	return n, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
