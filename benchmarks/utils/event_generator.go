package utils

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// EventPayloadGenerator builds realistic webhook jobs with unique IDs
type EventPayloadGenerator struct {
	seq        int64
	AccountID  string
	BusinessID string
}

func NewEventPayloadGenerator(accountID, businessID string) *EventPayloadGenerator {
	return &EventPayloadGenerator{AccountID: accountID, BusinessID: businessID}
}

func (g *EventPayloadGenerator) next() int64 {
	return atomic.AddInt64(&g.seq, 1)
}

// Generate returns a job of the given type. participants bounds how many distinct
// customers the generated messages and comments come from.
func (g *EventPayloadGenerator) Generate(eventType domain.EventType, participants int) domain.WebhookEvent {
	n := g.next()
	if participants <= 0 {
		participants = 1
	}
	user := fmt.Sprintf("user_%d", n%int64(participants))
	now := time.Now().UTC()

	var id string
	var payload map[string]any
	switch eventType {
	case domain.EventTypeComment:
		id = fmt.Sprintf("comment_%d", n)
		payload = map[string]any{
			"id":        id,
			"text":      "Hi! what's the price of this one?",
			"timestamp": now.Format("2006-01-02T15:04:05-0700"),
			"from":      map[string]any{"id": user, "username": user},
			"media":     map[string]any{"id": fmt.Sprintf("media_%d", n%50)},
		}
	case domain.EventTypeMention:
		id = fmt.Sprintf("mention_%d", n)
		payload = map[string]any{
			"id":         id,
			"media_id":   fmt.Sprintf("media_%d", n),
			"comment_id": fmt.Sprintf("c_%d", n),
		}
	case domain.EventTypeStoryInsight:
		id = fmt.Sprintf("insight_%d", n)
		payload = map[string]any{
			"media_id": fmt.Sprintf("story_%d", n%20),
			"metric":   "reach",
			"value":    float64(n),
		}
	default:
		id = fmt.Sprintf("mid_%d", n)
		payload = map[string]any{
			"sender":    map[string]any{"id": user},
			"recipient": map[string]any{"id": g.BusinessID},
			"timestamp": float64(now.UnixMilli()),
			"message":   map[string]any{"mid": id, "text": "hello, is this still available?"},
		}
	}

	return domain.WebhookEvent{
		EventType: eventType,
		EventID:   id,
		AccountID: g.AccountID,
		Payload:   payload,
		Timestamp: now,
	}
}

// Serialize encodes a job the way the queue carries it
func (g *EventPayloadGenerator) Serialize(event domain.WebhookEvent) ([]byte, error) {
	return json.Marshal(event)
}
