// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"
)

// SentimentLabel is the upstream classification of a review.
type SentimentLabel string

// Sentiment labels in tie-break order.
const (
	LabelPositive SentimentLabel = "positive"
	LabelNeutral  SentimentLabel = "neutral"
	LabelNegative SentimentLabel = "negative"
)

// Labels lists every sentiment label, highest tie-break priority first.
var Labels = []SentimentLabel{LabelPositive, LabelNeutral, LabelNegative}

// ParseLabel converts a string into a SentimentLabel.
func ParseLabel(s string) (SentimentLabel, error) {
	l := SentimentLabel(strings.ToLower(strings.TrimSpace(s)))
	switch l {
	case LabelPositive, LabelNeutral, LabelNegative:
		return l, nil
	}
	return "", fmt.Errorf("unknown sentiment label %q", s)
}

// Review is a labelled customer review.
type Review struct {
	ID         string
	ProductID  string
	Platform   string
	Rating     int
	Label      SentimentLabel
	Score      float64
	Keywords   []string
	Date       time.Time
	IngestedAt time.Time
	// Seq is the store-assigned ingestion sequence, 0 until stored.
	Seq int64
}

// Product is a reviewed product listed on one platform.
type Product struct {
	ID        string
	Name      string
	Platform  string
	CreatedAt time.Time
}
