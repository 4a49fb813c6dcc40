package domain

import (
	"context"
	"time"
)

// TTLStore is the shared TTL-keyed store used for duplicate suppression and processed markers.
// Every operation must be atomic at the single-key level.
type TTLStore interface {
	// SetIfAbsent stores key with the given TTL only when it does not exist yet.
	// It returns true when the key was created by this call.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Set stores key with the given TTL, overwriting any previous value.
	Set(ctx context.Context, key string, ttl time.Duration) error

	// Exists reports whether key is currently present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key starting with prefix and returns how many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// RateWindowStore keeps timestamped call markers per key for sliding window rate limiting.
type RateWindowStore interface {
	// CountSince discards markers older than since and returns the surviving count together
	// with the timestamp of the oldest surviving marker (zero when empty).
	CountSince(ctx context.Context, key string, since time.Time) (int64, time.Time, error)

	// Add inserts a marker at the given time. member must be unique per call. The key's
	// expiry is refreshed to ttl.
	Add(ctx context.Context, key string, at time.Time, member string, ttl time.Duration) error
}

// AnalyticsRecorder aggregates processing counters. Failures are logged and discarded by callers.
type AnalyticsRecorder interface {
	RecordEvent(ctx context.Context, sample AnalyticsSample) error
}
