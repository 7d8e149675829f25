// Package cache provides the process-wide TTL key/value cache used by the
// provider and market-data layers. Two backends exist: an in-memory map and
// Redis (selected by CACHE_URL). Cache failures never propagate to callers —
// every error path falls through to a direct fetch.
package cache

import (
	"context"
	"time"
)

// Category selects the TTL for a cached value. TTLs are fixed per data kind
// rather than per call site so that every consumer of the same data agrees on
// freshness.
type Category string

const (
	CategoryQuote           Category = "quote"
	CategoryAfterHoursQuote Category = "after_hours_quote"
	CategoryPriceHistory    Category = "price_history"
	CategoryRatings         Category = "ratings"
	CategoryRedditSentiment Category = "reddit_sentiment"
	CategoryEconomicData    Category = "economic_data"
	CategoryNews            Category = "news"
	CategoryInsiderTrades   Category = "insider_trades"
	CategoryDefault         Category = "default"
)

var categoryTTLs = map[Category]time.Duration{
	CategoryQuote:           15 * time.Second,
	CategoryAfterHoursQuote: 300 * time.Second,
	CategoryPriceHistory:    3600 * time.Second,
	CategoryRatings:         86400 * time.Second,
	CategoryRedditSentiment: 300 * time.Second,
	CategoryEconomicData:    3600 * time.Second,
	CategoryNews:            300 * time.Second,
	CategoryInsiderTrades:   3600 * time.Second,
	CategoryDefault:         60 * time.Second,
}

// TTL returns the time-to-live for a category. Unknown categories get the
// default TTL.
func TTL(cat Category) time.Duration {
	if ttl, ok := categoryTTLs[cat]; ok {
		return ttl
	}
	return categoryTTLs[CategoryDefault]
}

// FetchFunc produces a value on cache miss. A nil return with nil error is
// valid and is not stored.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Store is the cache interface shared by the in-memory and Redis backends.
// Values are opaque byte slices (callers JSON-encode).
type Store interface {
	// Get returns the cached value, or false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with an explicit TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes a key.
	Delete(ctx context.Context, key string)

	// GetOrFetch returns the cached value if present; otherwise it calls
	// fetch exactly once per key within the in-flight window (concurrent
	// callers share the result), stores the value if non-nil, and returns
	// it. Backend errors fall through to a direct fetch call.
	GetOrFetch(ctx context.Context, key string, cat Category, fetch FetchFunc) ([]byte, error)

	// Close releases backend resources.
	Close() error
}
