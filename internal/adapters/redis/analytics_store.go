package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/rediskeys"
)

// AnalyticsStoreAdapter keeps one Redis hash of processing counters per UTC day.
type AnalyticsStoreAdapter struct {
	redisClient    *redis.Client
	configProvider config.Provider
}

func NewAnalyticsStoreAdapter(redisClient *redis.Client, configProvider config.Provider) *AnalyticsStoreAdapter {
	return &AnalyticsStoreAdapter{
		redisClient:    redisClient,
		configProvider: configProvider,
	}
}

// RecordEvent increments the day's counters for the sample. Fields are
// events:<type>, duplicates, auto_replies, failures and latency_ms_total.
func (a *AnalyticsStoreAdapter) RecordEvent(ctx context.Context, sample domain.AnalyticsSample) error {
	at := sample.At
	if at.IsZero() {
		at = time.Now()
	}
	key := rediskeys.AnalyticsKey(at)
	retention := time.Duration(a.configProvider.Get().Analytics.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	_, err := a.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "events:"+sample.EventType.String(), 1)
		if sample.Duplicate {
			pipe.HIncrBy(ctx, key, "duplicates", 1)
		}
		if sample.AutoReplySent {
			pipe.HIncrBy(ctx, key, "auto_replies", 1)
		}
		if sample.Failed {
			pipe.HIncrBy(ctx, key, "failures", 1)
		}
		pipe.HIncrBy(ctx, key, "latency_ms_total", sample.Latency.Milliseconds())
		pipe.Expire(ctx, key, retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis analytics update for key '%s' failed: %w", key, err)
	}
	return nil
}

// DailyCounters returns the counters for the UTC day containing day.
func (a *AnalyticsStoreAdapter) DailyCounters(ctx context.Context, day time.Time) (map[string]string, error) {
	key := rediskeys.AnalyticsKey(day)
	values, err := a.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL for key '%s' failed: %w", key, err)
	}
	return values, nil
}
