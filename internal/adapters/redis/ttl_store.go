package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

const scanBatch = 500

// TTLStoreAdapter implements domain.TTLStore on plain Redis string keys.
type TTLStoreAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

func NewTTLStoreAdapter(redisClient *redis.Client, logger domain.Logger) *TTLStoreAdapter {
	return &TTLStoreAdapter{
		redisClient: redisClient,
		logger:      logger,
	}
}

// SetIfAbsent is SET key 1 NX EX ttl.
func (a *TTLStoreAdapter) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := a.redisClient.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX for key '%s' failed: %w", key, err)
	}
	a.logger.Debug(ctx, "Redis SETNX result", "key", key, "ttl", ttl.String(), "created", created)
	return created, nil
}

func (a *TTLStoreAdapter) Set(ctx context.Context, key string, ttl time.Duration) error {
	if err := a.redisClient.Set(ctx, key, time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("redis SET for key '%s' failed: %w", key, err)
	}
	return nil
}

func (a *TTLStoreAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := a.redisClient.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS for key '%s' failed: %w", key, err)
	}
	return n > 0, nil
}

func (a *TTLStoreAdapter) Delete(ctx context.Context, key string) error {
	if err := a.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL for key '%s' failed: %w", key, err)
	}
	return nil
}

// DeleteByPrefix walks the keyspace with SCAN and then deletes the matches in batches,
// so it never blocks the server the way KEYS would. Deleting only after the walk ends
// keeps the cursor valid on servers whose cursor is an offset into the key list.
func (a *TTLStoreAdapter) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	seen := make(map[string]struct{})
	var matched []string
	for {
		keys, next, err := a.redisClient.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("redis SCAN for prefix '%s' failed: %w", prefix, err)
		}
		// SCAN may return a key more than once.
		for _, k := range keys {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				matched = append(matched, k)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	for start := 0; start < len(matched); start += scanBatch {
		end := min(start+scanBatch, len(matched))
		n, err := a.redisClient.Del(ctx, matched[start:end]...).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis DEL for prefix '%s' failed: %w", prefix, err)
		}
		deleted += n
	}
	a.logger.Info(ctx, "Deleted keys by prefix", "prefix", prefix, "deleted", deleted)
	return deleted, nil
}
