package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/rediskeys"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTTLStore_SetIfAbsent(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewTTLStoreAdapter(client, domain.NopLogger{})
	ctx := context.Background()

	created, err := store.SetIfAbsent(ctx, "webhook:dedup:message:e1:h", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.SetIfAbsent(ctx, "webhook:dedup:message:e1:h", 300*time.Second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 300*time.Second, mr.TTL("webhook:dedup:message:e1:h"))

	mr.FastForward(301 * time.Second)
	created, err = store.SetIfAbsent(ctx, "webhook:dedup:message:e1:h", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestTTLStore_SetExistsDelete(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewTTLStoreAdapter(client, domain.NopLogger{})
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "webhook:processed:comment:c1", time.Minute))
	ok, err := store.Exists(ctx, "webhook:processed:comment:c1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "webhook:processed:comment:c1"))
	require.NoError(t, store.Delete(ctx, "webhook:processed:comment:c1"), "deleting a missing key is fine")
	ok, err = store.Exists(ctx, "webhook:processed:comment:c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLStore_DeleteByPrefix(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewTTLStoreAdapter(client, domain.NopLogger{})
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		require.NoError(t, mr.Set(rediskeys.DedupKey("message", fmt.Sprintf("evt-%d", i), "h"), "1"))
	}
	require.NoError(t, mr.Set("ratelimit:instagram:acct", "keep"))

	n, err := store.DeleteByPrefix(ctx, rediskeys.DedupPrefix)
	require.NoError(t, err)
	assert.EqualValues(t, 1200, n)
	assert.Equal(t, []string{"ratelimit:instagram:acct"}, mr.Keys())
}

func TestTTLStore_ErrorsWhenServerDown(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewTTLStoreAdapter(client, domain.NopLogger{})
	mr.Close()

	_, err := store.SetIfAbsent(context.Background(), "k", time.Second)
	assert.Error(t, err)
}

func TestRateWindowStore(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRateWindowStoreAdapter(client, domain.NopLogger{})
	ctx := context.Background()
	key := rediskeys.RateLimitKey("acct-1")
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	count, oldest, err := store.CountSince(ctx, key, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.True(t, oldest.IsZero())

	require.NoError(t, store.Add(ctx, key, t0, "a", time.Hour+time.Minute))
	require.NoError(t, store.Add(ctx, key, t0, "b", time.Hour+time.Minute))
	require.NoError(t, store.Add(ctx, key, t0.Add(10*time.Minute), "c", time.Hour+time.Minute))
	assert.Equal(t, time.Hour+time.Minute, mr.TTL(key))

	count, oldest, err = store.CountSince(ctx, key, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
	assert.Equal(t, t0, oldest)

	// Slide past the first two markers.
	count, oldest, err = store.CountSince(ctx, key, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, t0.Add(10*time.Minute), oldest)

	members, err := mr.ZMembers(key)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, members)
}

func TestAnalyticsStore(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewAnalyticsStoreAdapter(client, config.NewStaticProvider(nil))
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)

	require.NoError(t, store.RecordEvent(ctx, domain.AnalyticsSample{EventType: domain.EventTypeComment, AutoReplySent: true, Latency: 40 * time.Millisecond, At: day}))
	require.NoError(t, store.RecordEvent(ctx, domain.AnalyticsSample{EventType: domain.EventTypeComment, Duplicate: true, Latency: 2 * time.Millisecond, At: day}))
	require.NoError(t, store.RecordEvent(ctx, domain.AnalyticsSample{EventType: domain.EventTypeMessage, Failed: true, Latency: 8 * time.Millisecond, At: day}))

	counters, err := store.DailyCounters(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, "2", counters["events:comment"])
	assert.Equal(t, "1", counters["events:message"])
	assert.Equal(t, "1", counters["duplicates"])
	assert.Equal(t, "1", counters["auto_replies"])
	assert.Equal(t, "1", counters["failures"])
	assert.Equal(t, "50", counters["latency_ms_total"])
	assert.Equal(t, 7*24*time.Hour, mr.TTL("webhook:analytics:2024-03-01"))
}
