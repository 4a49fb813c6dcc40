package application

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/metrics"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/crypto"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/rediskeys"
)

// Deduplicator suppresses redelivered webhook events using short-lived keys in the
// shared store. A store outage lets events through rather than dropping them.
type Deduplicator struct {
	store          domain.TTLStore
	configProvider config.Provider
	logger         domain.Logger
}

func NewDeduplicator(store domain.TTLStore, configProvider config.Provider, logger domain.Logger) *Deduplicator {
	return &Deduplicator{
		store:          store,
		configProvider: configProvider,
		logger:         logger,
	}
}

// IsDuplicate claims the dedup key for the event and reports whether it was already
// claimed inside the window. The first caller wins; concurrent callers see true.
func (d *Deduplicator) IsDuplicate(ctx context.Context, eventType domain.EventType, eventID string, payload map[string]any) bool {
	hash, err := criticalFieldsHash(eventType, payload)
	if err != nil {
		d.logger.Warn(ctx, "Failed to hash event payload, skipping duplicate check",
			"eventType", eventType.String(),
			"eventID", eventID,
			"error", err.Error(),
		)
		metrics.IncrementStoreFailOpen("dedup")
		return false
	}

	key := rediskeys.DedupKey(eventType.String(), eventID, hash)
	window := time.Duration(d.configProvider.Get().Dedup.WindowSeconds) * time.Second

	claimed, err := d.store.SetIfAbsent(ctx, key, window)
	if err != nil {
		d.logger.Warn(ctx, "Dedup store unavailable, treating event as new",
			"key", key,
			"error", err.Error(),
		)
		metrics.IncrementStoreFailOpen("dedup")
		return false
	}
	if !claimed {
		d.logger.Debug(ctx, "Duplicate webhook event suppressed", "key", key)
	}
	return !claimed
}

// Release gives up the dedup claim taken by IsDuplicate so a redelivery of a failed
// event is processed again instead of being suppressed.
func (d *Deduplicator) Release(ctx context.Context, eventType domain.EventType, eventID string, payload map[string]any) {
	hash, err := criticalFieldsHash(eventType, payload)
	if err != nil {
		return
	}
	key := rediskeys.DedupKey(eventType.String(), eventID, hash)
	if err := d.store.Delete(ctx, key); err != nil {
		d.logger.Warn(ctx, "Failed to release dedup claim", "key", key, "error", err.Error())
		metrics.IncrementStoreFailOpen("dedup")
	}
}

// MarkAsProcessed records that the event made it through the whole pipeline.
func (d *Deduplicator) MarkAsProcessed(ctx context.Context, eventType domain.EventType, eventID string) {
	key := rediskeys.ProcessedKey(eventType.String(), eventID)
	ttl := time.Duration(d.configProvider.Get().Dedup.ProcessedTTLSeconds) * time.Second
	if err := d.store.Set(ctx, key, ttl); err != nil {
		d.logger.Warn(ctx, "Failed to write processed marker", "key", key, "error", err.Error())
		metrics.IncrementStoreFailOpen("dedup")
	}
}

func (d *Deduplicator) WasProcessed(ctx context.Context, eventType domain.EventType, eventID string) bool {
	key := rediskeys.ProcessedKey(eventType.String(), eventID)
	ok, err := d.store.Exists(ctx, key)
	if err != nil {
		d.logger.Warn(ctx, "Failed to read processed marker", "key", key, "error", err.Error())
		metrics.IncrementStoreFailOpen("dedup")
		return false
	}
	return ok
}

// ClearAll removes every dedup and processed key. Operational reset only.
func (d *Deduplicator) ClearAll(ctx context.Context) (int64, error) {
	var total int64
	for _, prefix := range []string{rediskeys.DedupPrefix, rediskeys.ProcessedPrefix} {
		n, err := d.store.DeleteByPrefix(ctx, prefix)
		total += n
		if err != nil {
			return total, fmt.Errorf("failed to clear %s keys: %w", prefix, err)
		}
	}
	d.logger.Info(ctx, "Cleared deduplication state", "keysDeleted", total)
	return total, nil
}

// criticalFieldsHash hashes the fields that identify an event's content, so a
// redelivery with identical content collides while an edited event does not.
func criticalFieldsHash(eventType domain.EventType, payload map[string]any) (string, error) {
	var fields any
	switch eventType {
	case domain.EventTypeMessage:
		flat := flattenMessage(payload)
		fields = map[string]any{
			"id":        str(flat, "mid", "id", "message_id"),
			"text":      str(flat, "text"),
			"timestamp": rawField(flat, "timestamp", "created_time", "time"),
			"senderId":  firstNonEmpty(str(sub(flat, "from", "sender"), "id"), str(flat, "sender_id", "senderId")),
		}
	case domain.EventTypeComment:
		fields = map[string]any{
			"id":        str(payload, "id", "comment_id"),
			"text":      str(payload, "text", "message"),
			"timestamp": rawField(payload, "timestamp", "created_time", "time"),
			"authorId":  str(sub(payload, "from", "sender"), "id"),
		}
	case domain.EventTypeMention:
		fields = map[string]any{
			"id":         str(payload, "id", "mention_id"),
			"media_id":   str(payload, "media_id"),
			"comment_id": str(payload, "comment_id"),
			"timestamp":  rawField(payload, "timestamp", "created_time", "time"),
		}
	default:
		fields = payload
	}

	return crypto.ContentHash(fields)
}

func rawField(m map[string]any, keys ...string) any {
	v, _ := lookup(m, keys...)
	return v
}
