package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// RateWindowStoreAdapter implements domain.RateWindowStore with one sorted set per key,
// scored by call time in unix milliseconds.
type RateWindowStoreAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

func NewRateWindowStoreAdapter(redisClient *redis.Client, logger domain.Logger) *RateWindowStoreAdapter {
	return &RateWindowStoreAdapter{
		redisClient: redisClient,
		logger:      logger,
	}
}

// CountSince trims expired markers, then counts the rest and reads the oldest score in
// the same MULTI block.
func (a *RateWindowStoreAdapter) CountSince(ctx context.Context, key string, since time.Time) (int64, time.Time, error) {
	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := a.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(since.UnixMilli(), 10))
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, fmt.Errorf("redis rate window read for key '%s' failed: %w", key, err)
	}

	count := card.Val()
	if count == 0 {
		return 0, time.Time{}, nil
	}
	var oldestAt time.Time
	if z := oldest.Val(); len(z) > 0 {
		oldestAt = time.UnixMilli(int64(z[0].Score)).UTC()
	}
	return count, oldestAt, nil
}

// Add inserts member at the given time and refreshes the key's expiry.
func (a *RateWindowStoreAdapter) Add(ctx context.Context, key string, at time.Time, member string, ttl time.Duration) error {
	_, err := a.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis ZADD for key '%s' failed: %w", key, err)
	}
	a.logger.Debug(ctx, "Recorded rate window marker", "key", key, "member", member)
	return nil
}
