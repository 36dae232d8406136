// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/store"
	"github.com/olegiv/reviewlens/internal/testutil"
)

func newReviewService(t *testing.T) (*ReviewService, *store.Queries) {
	t.Helper()
	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)
	testutil.AddProduct(t, db, "P1", "amazon")
	testutil.AddProduct(t, db, "P2", "ebay")
	return NewReviewService(db, clockwork.NewFakeClockAt(serviceNow), testutil.TestLoggerSilent()), store.New(db)
}

func validInput(productID string) ReviewInput {
	return ReviewInput{
		ProductID: productID,
		Rating:    5,
		Label:     "Positive",
		Score:     0.8,
		Keywords:  []string{"battery", "Sound"},
		Date:      serviceNow.Add(-48 * time.Hour),
	}
}

func TestIngest(t *testing.T) {
	svc, queries := newReviewService(t)
	ctx := context.Background()

	var notified []string
	svc.OnReviewWritten(func(_ context.Context, productID string) error {
		notified = append(notified, productID)
		return nil
	})

	r, err := svc.Ingest(ctx, validInput("P1"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", r.ID, err)
	}
	if r.Label != model.LabelPositive {
		t.Errorf("Label = %q", r.Label)
	}
	if !r.IngestedAt.Equal(serviceNow) {
		t.Errorf("IngestedAt = %v, want %v", r.IngestedAt, serviceNow)
	}
	if diff := cmp.Diff([]string{"P1"}, notified); diff != "" {
		t.Errorf("notified (-want +got):\n%s", diff)
	}

	stored, err := queries.ListReviews(ctx, store.ReviewFilter{ProductID: "P1"})
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d reviews, want 1", len(stored))
	}
	if diff := cmp.Diff([]string{"Sound", "battery"}, stored[0].Keywords); diff != "" {
		t.Errorf("keywords (-want +got):\n%s", diff)
	}
}

func TestIngestBatch_NotifiesEachProductOnce(t *testing.T) {
	svc, _ := newReviewService(t)

	var notified []string
	svc.OnReviewWritten(func(_ context.Context, productID string) error {
		notified = append(notified, productID)
		return nil
	})
	svc.OnReviewWritten(func(context.Context, string) error {
		return errors.New("hook failed")
	})

	inputs := []ReviewInput{validInput("P2"), validInput("P1"), validInput("P2")}
	reviews, err := svc.IngestBatch(context.Background(), inputs)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(reviews) != 3 {
		t.Errorf("got %d reviews, want 3", len(reviews))
	}
	if diff := cmp.Diff([]string{"P2", "P1"}, notified); diff != "" {
		t.Errorf("notified (-want +got):\n%s", diff)
	}
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ReviewInput)
		wantErr error
	}{
		{"missing product", func(in *ReviewInput) { in.ProductID = " " }, ErrInvalidReview},
		{"unknown product", func(in *ReviewInput) { in.ProductID = "nope" }, ErrUnknownProduct},
		{"rating low", func(in *ReviewInput) { in.Rating = 0 }, ErrInvalidReview},
		{"rating high", func(in *ReviewInput) { in.Rating = 6 }, ErrInvalidReview},
		{"bad label", func(in *ReviewInput) { in.Label = "mixed" }, ErrInvalidReview},
		{"score out of range", func(in *ReviewInput) { in.Score = 1.5 }, ErrInvalidReview},
		{"future date", func(in *ReviewInput) { in.Date = serviceNow.Add(time.Hour) }, ErrInvalidReview},
		{"too many keywords", func(in *ReviewInput) { in.Keywords = make([]string, maxKeywords+1) }, ErrInvalidReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, queries := newReviewService(t)
			called := false
			svc.OnReviewWritten(func(context.Context, string) error {
				called = true
				return nil
			})

			in := validInput("P1")
			tt.mutate(&in)
			_, err := svc.Ingest(context.Background(), in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if called {
				t.Error("hook called for rejected review")
			}
			n, _ := queries.CountReviews(context.Background())
			if n != 0 {
				t.Errorf("stored %d reviews after rejection", n)
			}
		})
	}
}

func TestIngestBatch_RollsBackOnFailure(t *testing.T) {
	svc, queries := newReviewService(t)
	ctx := context.Background()

	dup := validInput("P1")
	dup.ID = "same-id"
	if _, err := svc.IngestBatch(ctx, []ReviewInput{validInput("P1"), dup, dup}); err == nil {
		t.Fatal("expected duplicate id error")
	}
	n, err := queries.CountReviews(ctx)
	if err != nil {
		t.Fatalf("CountReviews: %v", err)
	}
	if n != 0 {
		t.Errorf("stored %d reviews, want 0 after rollback", n)
	}
}

func TestIngest_DefaultsDateToNow(t *testing.T) {
	svc, _ := newReviewService(t)

	in := validInput("P1")
	in.Date = time.Time{}
	r, err := svc.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !r.Date.Equal(serviceNow) {
		t.Errorf("Date = %v, want %v", r.Date, serviceNow)
	}
}

func TestSanitizeKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"plain", []string{"battery", "sound"}, []string{"battery", "sound"}},
		{"markup", []string{"<b>bass</b>", "<script>alert(1)</script>price"}, []string{"bass", "price"}},
		{"entities", []string{"fish &amp; chips"}, []string{"fish & chips"}},
		{"separator", []string{"a\x1fb"}, []string{"a b"}},
		{"whitespace", []string{"  build   quality \n"}, []string{"build quality"}},
		{"empty and dup", []string{"", "  ", "x", "x"}, []string{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, SanitizeKeywords(tt.in)); diff != "" {
				t.Errorf("SanitizeKeywords (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTruncateUTF8(t *testing.T) {
	if got := truncateUTF8("héllo", 2); got != "h" {
		t.Errorf("truncateUTF8 = %q, want %q", got, "h")
	}
	if got := truncateUTF8("short", 10); got != "short" {
		t.Errorf("truncateUTF8 = %q", got)
	}
}
