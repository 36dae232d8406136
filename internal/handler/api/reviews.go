// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olegiv/reviewlens/internal/model"
	"github.com/olegiv/reviewlens/internal/service"
)

// maxReviewsPerRequest bounds a batch submission.
const maxReviewsPerRequest = 500

// ReviewResponse represents a stored review in API responses.
type ReviewResponse struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	Rating     int       `json:"rating"`
	Label      string    `json:"sentiment_label"`
	Score      float64   `json:"sentiment_score"`
	Keywords   []string  `json:"keywords"`
	Date       time.Time `json:"date"`
	IngestedAt time.Time `json:"ingested_at"`
}

func reviewToResponse(r model.Review) ReviewResponse {
	keywords := r.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return ReviewResponse{
		ID:         r.ID,
		ProductID:  r.ProductID,
		Rating:     r.Rating,
		Label:      string(r.Label),
		Score:      r.Score,
		Keywords:   keywords,
		Date:       r.Date,
		IngestedAt: r.IngestedAt,
	}
}

// CreateReviews handles POST /api/v1/reviews.
// The body is one review object or an array of them; an array is stored atomically.
func (h *Handler) CreateReviews(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyLen)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Failed to read request body", map[string]string{"body": err.Error()})
		return
	}

	var inputs []service.ReviewInput
	batch := bytes.HasPrefix(bytes.TrimSpace(body), []byte("["))
	if batch {
		err = json.Unmarshal(body, &inputs)
	} else {
		var in service.ReviewInput
		err = json.Unmarshal(body, &in)
		inputs = []service.ReviewInput{in}
	}
	if err != nil {
		WriteBadRequest(w, "Invalid JSON body", map[string]string{"body": err.Error()})
		return
	}
	if len(inputs) > maxReviewsPerRequest {
		WriteValidationError(w, map[string]string{"reviews": "at most " + strconv.Itoa(maxReviewsPerRequest) + " reviews per request"})
		return
	}

	reviews, err := h.Reviews.IngestBatch(r.Context(), inputs)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownProduct):
			WriteNotFound(w, err.Error())
		case errors.Is(err, service.ErrInvalidReview):
			WriteValidationError(w, map[string]string{"review": strings.TrimPrefix(err.Error(), service.ErrInvalidReview.Error()+": ")})
		default:
			h.Logger.Error("failed to store reviews", "category", "ingest", "count", len(inputs), "error", err)
			WriteInternalError(w, "Failed to store reviews")
		}
		return
	}

	if !batch {
		WriteCreated(w, reviewToResponse(reviews[0]), nil)
		return
	}
	resp := make([]ReviewResponse, 0, len(reviews))
	for _, rv := range reviews {
		resp = append(resp, reviewToResponse(rv))
	}
	WriteCreated(w, resp, &Meta{Total: int64(len(resp))})
}
