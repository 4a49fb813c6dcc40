package application

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/metrics"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/rediskeys"
)

const (
	backoffBase     = 1000 * time.Millisecond
	backoffCap      = 30000 * time.Millisecond
	backoffJitter   = 0.3
	maxBackoffShift = 16
)

// RateLimiter enforces the per-account outbound call budget over a sliding window
// shared by every worker process.
type RateLimiter struct {
	store          domain.RateWindowStore
	configProvider config.Provider
	logger         domain.Logger
	now            func() time.Time
	jitter         func() float64 // returns [0,1)
}

func NewRateLimiter(store domain.RateWindowStore, configProvider config.Provider, logger domain.Logger) *RateLimiter {
	return &RateLimiter{
		store:          store,
		configProvider: configProvider,
		logger:         logger,
		now:            time.Now,
		jitter:         rand.Float64,
	}
}

func (rl *RateLimiter) limits() (int, time.Duration, time.Duration) {
	cfg := rl.configProvider.Get().RateLimit
	return cfg.CallsPerWindow,
		time.Duration(cfg.WindowSeconds) * time.Second,
		time.Duration(cfg.KeyBufferSeconds) * time.Second
}

// CheckRateLimit reports the account's remaining budget. Store errors report the full
// budget so a cache outage does not stall replies.
func (rl *RateLimiter) CheckRateLimit(ctx context.Context, accountID string) domain.RateLimitStatus {
	limit, window, _ := rl.limits()
	now := rl.now()

	count, oldest, err := rl.store.CountSince(ctx, rediskeys.RateLimitKey(accountID), now.Add(-window))
	if err != nil {
		rl.logger.Warn(ctx, "Rate limit store unavailable, allowing call",
			"accountID", accountID,
			"error", err.Error(),
		)
		metrics.IncrementStoreFailOpen("ratelimit")
		return domain.RateLimitStatus{Limit: limit, Remaining: limit, ResetAt: now.Add(window)}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now.Add(window)
	if count > 0 && !oldest.IsZero() {
		resetAt = oldest.Add(window)
	}
	return domain.RateLimitStatus{Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

// RecordAPICall adds one call to the account's window.
func (rl *RateLimiter) RecordAPICall(ctx context.Context, accountID string) {
	_, window, buffer := rl.limits()
	now := rl.now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	if err := rl.store.Add(ctx, rediskeys.RateLimitKey(accountID), now, member, window+buffer); err != nil {
		rl.logger.Warn(ctx, "Failed to record API call in rate window",
			"accountID", accountID,
			"error", err.Error(),
		)
		metrics.IncrementStoreFailOpen("ratelimit")
	}
}

// ShouldWait returns how long the caller must wait before the next call. Zero while
// budget remains; otherwise the time until the oldest call leaves the window.
func (rl *RateLimiter) ShouldWait(ctx context.Context, accountID string) time.Duration {
	status := rl.CheckRateLimit(ctx, accountID)
	if status.Remaining > 0 {
		return 0
	}
	_, window, _ := rl.limits()
	wait := status.ResetAt.Sub(rl.now())
	if wait < 0 {
		wait = 0
	}
	if wait > window {
		wait = window
	}
	metrics.ObserveRateLimitWait(wait)
	return wait
}

// CalculateBackoff returns the delay before retry number attempt (0-based):
// min(1s * 2^attempt, 30s) plus up to 30% jitter.
func (rl *RateLimiter) CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	delay := backoffBase << attempt
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay + time.Duration(float64(delay)*backoffJitter*rl.jitter())
}
