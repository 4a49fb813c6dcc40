package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// Normalizer maps raw webhook payloads onto the typed event variants.
type Normalizer struct {
	logger domain.Logger
	now    func() time.Time
}

func NewNormalizer(logger domain.Logger) *Normalizer {
	return &Normalizer{logger: logger, now: time.Now}
}

// NormalizeEvent converts raw into the variant for eventType. It does not validate;
// missing fields come back as zero values for ValidateNormalizedEvent to reject.
func (n *Normalizer) NormalizeEvent(ctx context.Context, eventType domain.EventType, raw map[string]any) (domain.NormalizedEvent, error) {
	switch eventType {
	case domain.EventTypeComment:
		return n.normalizeComment(ctx, raw), nil
	case domain.EventTypeMention:
		return n.normalizeMention(ctx, raw), nil
	case domain.EventTypeMessage:
		return n.normalizeMessage(ctx, raw), nil
	case domain.EventTypeStoryInsight:
		return n.normalizeStoryInsight(ctx, raw), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedEventType, eventType)
	}
}

// ValidateNormalizedEvent checks the variant's required fields and that the variant
// matches the declared event type.
func (n *Normalizer) ValidateNormalizedEvent(event domain.NormalizedEvent, eventType domain.EventType) error {
	if event == nil {
		return domain.NewValidationError(eventType, "payload")
	}
	if event.Kind() != eventType {
		return domain.NewValidationError(eventType, "event_type")
	}
	return event.Validate()
}

func (n *Normalizer) normalizeComment(ctx context.Context, raw map[string]any) *domain.Comment {
	media := sub(raw, "media")
	return &domain.Comment{
		ID:        str(raw, "id", "comment_id"),
		Text:      str(raw, "text", "message"),
		Timestamp: n.timestamp(ctx, raw),
		From:      actor(sub(raw, "from", "sender")),
		Media: domain.MediaRef{
			ID:   firstNonEmpty(str(media, "id"), str(raw, "media_id")),
			Type: str(media, "media_product_type", "media_type", "type"),
		},
		ParentID:  firstNonEmpty(str(raw, "parent_id"), str(sub(raw, "parent"), "id")),
		LikeCount: int(integer(raw, "like_count")),
		IsHidden:  boolean(raw, "hidden", "is_hidden"),
	}
}

func (n *Normalizer) normalizeMention(ctx context.Context, raw map[string]any) *domain.Mention {
	mentionedIn := str(raw, "mentioned_in")
	commentID := str(raw, "comment_id")
	if mentionedIn == "" {
		mentionedIn = "caption"
		if commentID != "" {
			mentionedIn = "comment"
		}
	}
	return &domain.Mention{
		ID:          firstNonEmpty(str(raw, "id", "mention_id"), commentID, str(raw, "media_id")),
		MediaID:     firstNonEmpty(str(raw, "media_id"), str(sub(raw, "media"), "id")),
		CommentID:   commentID,
		Timestamp:   n.timestamp(ctx, raw),
		MentionedIn: mentionedIn,
		From:        actor(sub(raw, "from", "sender")),
	}
}

func (n *Normalizer) normalizeMessage(ctx context.Context, raw map[string]any) *domain.DirectMessage {
	flat := flattenMessage(raw)
	msg := &domain.DirectMessage{
		ID:             str(flat, "mid", "id", "message_id"),
		Text:           str(flat, "text"),
		Timestamp:      n.timestamp(ctx, flat),
		From:           actor(sub(flat, "from", "sender")),
		RecipientID:    firstNonEmpty(str(sub(flat, "recipient", "to"), "id"), str(flat, "recipient_id")),
		ConversationID: str(flat, "conversation_id", "thread_id"),
		IsEcho:         boolean(flat, "is_echo"),
	}
	if msg.Text == "" {
		// Comment-style payloads carry the body under "message" as a plain string.
		if s, ok := raw["message"].(string); ok {
			msg.Text = s
		}
	}
	if msg.From.ID == "" {
		msg.From.ID = str(flat, "sender_id", "senderId")
	}
	for _, item := range list(flat, "attachments") {
		a, ok := item.(map[string]any)
		if !ok {
			continue
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			Type: strings.ToLower(str(a, "type")),
			URL:  firstNonEmpty(str(a, "url"), str(sub(a, "payload"), "url")),
		})
	}
	return msg
}

func (n *Normalizer) normalizeStoryInsight(ctx context.Context, raw map[string]any) *domain.StoryInsight {
	value := integer(raw, "value")
	if _, ok := lookup(raw, "value"); !ok {
		// Insights API shape: {"values": [{"value": N}]}
		if values := list(raw, "values"); len(values) > 0 {
			if first, ok := values[0].(map[string]any); ok {
				value = integer(first, "value")
			}
		}
	}
	return &domain.StoryInsight{
		MediaID:   firstNonEmpty(str(raw, "media_id"), str(raw, "story_id")),
		Metric:    str(raw, "metric", "name"),
		Value:     value,
		Timestamp: n.timestamp(ctx, raw),
	}
}

func (n *Normalizer) timestamp(ctx context.Context, raw map[string]any) time.Time {
	v, ok := lookup(raw, "timestamp", "created_time", "time")
	if ok {
		if t, parsed := parseTimestamp(v); parsed {
			return t
		}
	}
	n.logger.Warn(ctx, "Unparseable or missing event timestamp, using current time", "raw_timestamp", v)
	return n.now().UTC()
}

func actor(m map[string]any) domain.Actor {
	return domain.Actor{
		ID:       str(m, "id"),
		Username: str(m, "username", "name"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
