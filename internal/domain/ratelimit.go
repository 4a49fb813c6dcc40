package domain

import "time"

// RateLimitStatus is the derived view of an account's rolling call window.
type RateLimitStatus struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}
