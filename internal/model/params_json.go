// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
)

// EncodeParams serializes params for persistence next to a record.
func EncodeParams(p Params) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeParams restores the params variant belonging to t.
func DecodeParams(t StatType, data []byte) (Params, error) {
	var (
		p   Params
		err error
	)
	switch t {
	case StatSentimentTrend:
		var v TrendParams
		err = json.Unmarshal(data, &v)
		p = v
	case StatKeywordSentiment:
		var v KeywordParams
		err = json.Unmarshal(data, &v)
		p = v
	case StatPlatformRatingDistribution:
		var v PlatformParams
		err = json.Unmarshal(data, &v)
		p = v
	case StatProductComparison:
		var v ComparisonParams
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s params: %w", t, err)
	}
	return p, nil
}
