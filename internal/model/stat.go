// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/mitchellh/hashstructure/v2"
)

// StatType identifies a family of precomputed statistics.
type StatType string

// Known statistic types. The set is closed: ParseStatType rejects anything else.
const (
	StatSentimentTrend             StatType = "sentiment_trend"
	StatKeywordSentiment           StatType = "keyword_sentiment"
	StatPlatformRatingDistribution StatType = "platform_rating_distribution"
	StatProductComparison          StatType = "product_comparison"
)

// AllStatTypes lists every statistic type in a stable order.
var AllStatTypes = []StatType{
	StatSentimentTrend,
	StatKeywordSentiment,
	StatPlatformRatingDistribution,
	StatProductComparison,
}

// ParseStatType converts a string into a StatType.
func ParseStatType(s string) (StatType, error) {
	t := StatType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatType, s)
	}
	return t, nil
}

// Valid reports whether t is one of the known statistic types.
func (t StatType) Valid() bool {
	switch t {
	case StatSentimentTrend, StatKeywordSentiment, StatPlatformRatingDistribution, StatProductComparison:
		return true
	}
	return false
}

func (t StatType) String() string { return string(t) }

// IdentifierAll scopes a statistic to every product or platform.
const IdentifierAll = "_all"

// MaxComparisonProducts bounds the product set of a comparison.
const MaxComparisonProducts = 5

// Interval is the bucket width of a sentiment trend.
type Interval string

// Supported bucket widths.
const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// ParseInterval converts a string into an Interval. Empty means day.
func ParseInterval(s string) (Interval, error) {
	switch Interval(strings.ToLower(s)) {
	case "", IntervalDay:
		return IntervalDay, nil
	case IntervalWeek:
		return IntervalWeek, nil
	case IntervalMonth:
		return IntervalMonth, nil
	}
	return "", fmt.Errorf("%w: unknown interval %q", ErrInvalidParams, s)
}

// Params is the closed set of per-type statistic parameters.
type Params interface {
	StatType() StatType
	Validate() error
}

// TrendParams parameterizes a sentiment trend.
type TrendParams struct {
	Days     int      `json:"days"`
	Interval Interval `json:"interval"`
}

func (TrendParams) StatType() StatType { return StatSentimentTrend }

func (p TrendParams) Validate() error {
	if p.Days <= 0 {
		return fmt.Errorf("%w: days must be positive", ErrInvalidParams)
	}
	if _, err := ParseInterval(string(p.Interval)); err != nil {
		return err
	}
	return nil
}

// KeywordParams parameterizes keyword sentiment.
type KeywordParams struct {
	MinCount int `json:"min_count"`
}

func (KeywordParams) StatType() StatType { return StatKeywordSentiment }

func (p KeywordParams) Validate() error {
	if p.MinCount < 1 {
		return fmt.Errorf("%w: min_count must be at least 1", ErrInvalidParams)
	}
	return nil
}

// PlatformParams parameterizes the rating distribution. PeriodDays 0 means all-time.
type PlatformParams struct {
	PeriodDays int `json:"period_days"`
}

func (PlatformParams) StatType() StatType { return StatPlatformRatingDistribution }

func (p PlatformParams) Validate() error {
	if p.PeriodDays < 0 {
		return fmt.Errorf("%w: period_days must not be negative", ErrInvalidParams)
	}
	return nil
}

// ComparisonParams parameterizes a product comparison.
// ProductIDs is kept sorted and deduplicated by NewComparisonParams.
type ComparisonParams struct {
	ProductIDs []string `json:"product_ids"`
}

// NewComparisonParams canonicalizes a product set.
func NewComparisonParams(ids []string) ComparisonParams {
	return ComparisonParams{ProductIDs: canonicalIDs(ids)}
}

func (ComparisonParams) StatType() StatType { return StatProductComparison }

func (p ComparisonParams) Validate() error {
	n := len(canonicalIDs(p.ProductIDs))
	if n == 0 {
		return fmt.Errorf("%w: at least one product is required", ErrInvalidParams)
	}
	if n > MaxComparisonProducts {
		return fmt.Errorf("%w: at most %d products can be compared", ErrInvalidParams, MaxComparisonProducts)
	}
	return nil
}

func canonicalIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ComparisonKey derives the identifier of a product comparison.
// The same set in any order yields the same key.
func ComparisonKey(ids []string) string {
	sum := xxhash.Sum64String(strings.Join(canonicalIDs(ids), "\x1f"))
	return "cmp-" + strconv.FormatUint(sum, 16)
}

// Request defaults.
const (
	DefaultTrendDays      = 30
	DefaultKeywordMinimum = 5
	DefaultPeriodDays     = 30
)

// DefaultParams returns the parameters used when a request names none.
// Comparisons have no default product set.
func DefaultParams(t StatType) (Params, error) {
	switch t {
	case StatSentimentTrend:
		return TrendParams{Days: DefaultTrendDays, Interval: IntervalDay}, nil
	case StatKeywordSentiment:
		return KeywordParams{MinCount: DefaultKeywordMinimum}, nil
	case StatPlatformRatingDistribution:
		return PlatformParams{PeriodDays: DefaultPeriodDays}, nil
	case StatProductComparison:
		return nil, fmt.Errorf("%w: product_ids are required", ErrInvalidParams)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatType, t)
	}
}

// Query names one statistic: its type, scope and parameters.
type Query struct {
	Type       StatType
	Identifier string
	Params     Params
}

// NewQuery validates and normalizes a query.
// Comparison queries get their identifier derived from the product set.
func NewQuery(t StatType, identifier string, params Params) (Query, error) {
	if !t.Valid() {
		return Query{}, fmt.Errorf("%w: %q", ErrUnknownStatType, t)
	}
	if params == nil || params.StatType() != t {
		return Query{}, fmt.Errorf("%w: parameters do not match %s", ErrInvalidParams, t)
	}
	if err := params.Validate(); err != nil {
		return Query{}, err
	}

	switch p := params.(type) {
	case TrendParams:
		p.Interval, _ = ParseInterval(string(p.Interval))
		params = p
	case ComparisonParams:
		p = NewComparisonParams(p.ProductIDs)
		params = p
		identifier = ComparisonKey(p.ProductIDs)
	}

	if identifier == "" {
		return Query{}, fmt.Errorf("%w: identifier is required", ErrInvalidParams)
	}

	return Query{Type: t, Identifier: identifier, Params: params}, nil
}

// Key returns the cache key of the query.
func (q Query) Key() Key {
	return Key{Type: q.Type, Identifier: q.Identifier, ParamsHash: HashParams(q.Params)}
}

// Key addresses a single precomputed record.
type Key struct {
	Type       StatType
	Identifier string
	ParamsHash string
}

// String renders the key as "type:identifier:hash".
func (k Key) String() string {
	return string(k.Type) + ":" + k.Identifier + ":" + k.ParamsHash
}

// HashParams returns a stable hash of params, hex encoded.
func HashParams(p Params) string {
	if p == nil {
		return "0"
	}
	h, err := hashstructure.Hash(p, hashstructure.FormatV2, nil)
	if err != nil {
		// Params are plain structs of strings and ints.
		panic(fmt.Sprintf("hashing %T: %v", p, err))
	}
	return strconv.FormatUint(h, 16)
}
