// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package testutil provides shared test helpers for reviewlens.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// TestLogger creates a test logger that only outputs warnings and errors.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// TestLoggerSilent creates a test logger that only outputs errors.
func TestLoggerSilent() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// TestDB creates a temporary test database with migrations applied.
// Returns the database and a cleanup function that should be deferred.
func TestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "reviewlens-test-*.db")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	dbPath := f.Name()
	_ = f.Close()

	db, err := store.NewDB(dbPath)
	if err != nil {
		_ = os.Remove(dbPath)
		t.Fatalf("NewDB: %v", err)
	}

	if err := store.Migrate(db); err != nil {
		_ = db.Close()
		_ = os.Remove(dbPath)
		t.Fatalf("Migrate: %v", err)
	}

	return db, func() {
		_ = db.Close()
		_ = os.Remove(dbPath)
	}
}

// TestMemoryDB creates a migrated in-memory SQLite database on the cgo driver.
// The pool is pinned to one connection so every query sees the same database.
func TestMemoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := store.Migrate(db); err != nil {
		_ = db.Close()
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// AddProduct inserts a product.
func AddProduct(t *testing.T, db *sql.DB, id, platform string) model.Product {
	t.Helper()

	p := model.Product{ID: id, Name: "Product " + id, Platform: platform, CreatedAt: time.Unix(0, 0).UTC()}
	if err := store.New(db).UpsertProduct(context.Background(), p); err != nil {
		t.Fatalf("UpsertProduct(%s): %v", id, err)
	}
	return p
}

// AddReviews inserts n reviews of productID with the given label, all dated date.
func AddReviews(t *testing.T, db *sql.DB, productID string, label model.SentimentLabel, n int, date time.Time, keywords ...string) {
	t.Helper()

	q := store.New(db)
	for i := range n {
		r := model.Review{
			ID:         fmt.Sprintf("%s-%s-%d-%d", productID, label, date.UnixNano(), i),
			ProductID:  productID,
			Rating:     ratingFor(label),
			Label:      label,
			Score:      scoreFor(label),
			Keywords:   keywords,
			Date:       date,
			IngestedAt: date,
		}
		if err := q.CreateReview(context.Background(), r); err != nil {
			t.Fatalf("CreateReview: %v", err)
		}
	}
}

func ratingFor(l model.SentimentLabel) int {
	switch l {
	case model.LabelPositive:
		return 5
	case model.LabelNeutral:
		return 3
	default:
		return 1
	}
}

func scoreFor(l model.SentimentLabel) float64 {
	switch l {
	case model.LabelPositive:
		return 0.8
	case model.LabelNeutral:
		return 0
	default:
		return -0.8
	}
}
