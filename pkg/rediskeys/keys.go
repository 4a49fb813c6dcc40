package rediskeys

import (
	"fmt"
	"time"
)

const (
	// DedupPrefix prefixes every duplicate-suppression key.
	DedupPrefix = "webhook:dedup:"
	// ProcessedPrefix prefixes every fully-handled marker.
	ProcessedPrefix = "webhook:processed:"
	// RateLimitPrefix prefixes the per-account sliding window sorted sets.
	RateLimitPrefix = "ratelimit:instagram:"
	// AnalyticsPrefix prefixes the daily analytics hashes.
	AnalyticsPrefix = "webhook:analytics:"
)

// DedupKey generates the Redis key suppressing redelivery of an event with the given content hash.
func DedupKey(eventType, eventID, contentHash string) string {
	return fmt.Sprintf("%s%s:%s:%s", DedupPrefix, eventType, eventID, contentHash)
}

// ProcessedKey generates the Redis key marking an event as fully handled.
func ProcessedKey(eventType, eventID string) string {
	return fmt.Sprintf("%s%s:%s", ProcessedPrefix, eventType, eventID)
}

// RateLimitKey generates the Redis key holding the call markers of an account.
func RateLimitKey(accountID string) string {
	return RateLimitPrefix + accountID
}

// AnalyticsKey generates the Redis key of the analytics hash for the UTC day of t.
func AnalyticsKey(t time.Time) string {
	return AnalyticsPrefix + t.UTC().Format("2006-01-02")
}
