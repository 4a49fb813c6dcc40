package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

func TestNormalizer_Comment(t *testing.T) {
	h := newHarness()
	raw := map[string]any{
		"id":           "c1",
		"text":         "How much is this?",
		"created_time": "2024-03-01T10:00:00+0000",
		"from":         map[string]any{"id": "u1", "username": "bob"},
		"media":        map[string]any{"id": "media-9", "media_product_type": "FEED"},
		"parent_id":    "c0",
		"like_count":   float64(4),
		"hidden":       true,
	}

	ev, err := h.normalizer.NormalizeEvent(context.Background(), domain.EventTypeComment, raw)
	require.NoError(t, err)
	c, ok := ev.(*domain.Comment)
	require.True(t, ok)

	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, "How much is this?", c.Text)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), c.Timestamp)
	assert.Equal(t, domain.Actor{ID: "u1", Username: "bob"}, c.From)
	assert.Equal(t, domain.MediaRef{ID: "media-9", Type: "FEED"}, c.Media)
	assert.Equal(t, "c0", c.ParentID)
	assert.Equal(t, 4, c.LikeCount)
	assert.True(t, c.IsHidden)
	assert.NoError(t, h.normalizer.ValidateNormalizedEvent(ev, domain.EventTypeComment))
}

func TestNormalizer_CommentAliases(t *testing.T) {
	h := newHarness()
	raw := map[string]any{
		"comment_id": "c2",
		"message":    "hi there",
		"time":       float64(1709287200),
		"sender":     map[string]any{"id": "u2", "name": "alice"},
		"media_id":   "media-1",
	}

	ev, err := h.normalizer.NormalizeEvent(context.Background(), domain.EventTypeComment, raw)
	require.NoError(t, err)
	c := ev.(*domain.Comment)
	assert.Equal(t, "c2", c.ID)
	assert.Equal(t, "hi there", c.Text)
	assert.Equal(t, "alice", c.From.Username)
	assert.Equal(t, "media-1", c.Media.ID)
	assert.Equal(t, time.Unix(1709287200, 0).UTC(), c.Timestamp)
}

func TestNormalizer_MessengerMessage(t *testing.T) {
	h := newHarness()
	raw := map[string]any{
		"sender":    map[string]any{"id": "u1"},
		"recipient": map[string]any{"id": "ig-business"},
		"timestamp": float64(1709294400123),
		"message": map[string]any{
			"mid":  "m1",
			"text": "hello",
			"attachments": []any{
				map[string]any{"type": "image", "payload": map[string]any{"url": "https://cdn.example/a.jpg"}},
			},
		},
	}

	ev, err := h.normalizer.NormalizeEvent(context.Background(), domain.EventTypeMessage, raw)
	require.NoError(t, err)
	m := ev.(*domain.DirectMessage)

	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, "u1", m.From.ID)
	assert.Equal(t, "ig-business", m.RecipientID)
	assert.False(t, m.IsEcho)
	assert.Equal(t, time.UnixMilli(1709294400123).UTC(), m.Timestamp)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, domain.Attachment{Type: "image", URL: "https://cdn.example/a.jpg"}, m.Attachments[0])
	assert.Equal(t, "u1", m.ParticipantID())
}

func TestNormalizer_EchoMessage(t *testing.T) {
	h := newHarness()
	raw := map[string]any{
		"sender":    map[string]any{"id": "ig-business"},
		"recipient": map[string]any{"id": "u1"},
		"timestamp": "1709294400",
		"message":   map[string]any{"mid": "m2", "text": "thanks!", "is_echo": true},
	}

	ev, err := h.normalizer.NormalizeEvent(context.Background(), domain.EventTypeMessage, raw)
	require.NoError(t, err)
	m := ev.(*domain.DirectMessage)
	assert.True(t, m.IsEcho)
	assert.Equal(t, "u1", m.ParticipantID())
	assert.NoError(t, m.Validate())
}

func TestNormalizer_MentionAndStoryInsight(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	ev, err := h.normalizer.NormalizeEvent(ctx, domain.EventTypeMention, map[string]any{
		"media_id":   "media-2",
		"comment_id": "c9",
	})
	require.NoError(t, err)
	mention := ev.(*domain.Mention)
	assert.Equal(t, "c9", mention.ID)
	assert.Equal(t, "comment", mention.MentionedIn)
	assert.NoError(t, mention.Validate())

	ev, err = h.normalizer.NormalizeEvent(ctx, domain.EventTypeStoryInsight, map[string]any{
		"media_id": "story-1",
		"name":     "impressions",
		"values":   []any{map[string]any{"value": json.Number("42")}},
	})
	require.NoError(t, err)
	insight := ev.(*domain.StoryInsight)
	assert.Equal(t, "impressions", insight.Metric)
	assert.EqualValues(t, 42, insight.Value)
	assert.Equal(t, h.clock.Now(), insight.Timestamp, "missing timestamp falls back to now")
}

func TestNormalizer_UnsupportedType(t *testing.T) {
	h := newHarness()
	_, err := h.normalizer.NormalizeEvent(context.Background(), domain.EventType("reaction"), map[string]any{})
	assert.ErrorIs(t, err, domain.ErrUnsupportedEventType)
}

func TestNormalizer_Validation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	tests := []struct {
		name      string
		eventType domain.EventType
		raw       map[string]any
		field     string
	}{
		{"comment without text", domain.EventTypeComment, map[string]any{"id": "c1", "from": map[string]any{"id": "u1"}}, "text"},
		{"comment without author", domain.EventTypeComment, map[string]any{"id": "c1", "text": "x"}, "from.id"},
		{"message without sender", domain.EventTypeMessage, map[string]any{"mid": "m1", "text": "x"}, "from.id"},
		{"message without body", domain.EventTypeMessage, map[string]any{"mid": "m1", "sender": map[string]any{"id": "u1"}}, "text"},
		{"mention without media", domain.EventTypeMention, map[string]any{"id": "x1"}, "media_id"},
		{"insight without metric", domain.EventTypeStoryInsight, map[string]any{"media_id": "s1", "value": 1}, "metric"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := h.normalizer.NormalizeEvent(ctx, tt.eventType, tt.raw)
			require.NoError(t, err)

			err = h.normalizer.ValidateNormalizedEvent(ev, tt.eventType)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNormalizer_KindMismatch(t *testing.T) {
	h := newHarness()
	err := h.normalizer.ValidateNormalizedEvent(&domain.Comment{ID: "c1", Text: "x", From: domain.Actor{ID: "u"}}, domain.EventTypeMessage)
	assert.True(t, domain.IsValidationError(err))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		ok   bool
	}{
		{"time value", want, true},
		{"unix seconds int", int64(want.Unix()), true},
		{"unix seconds float", float64(want.Unix()), true},
		{"unix millis", float64(want.UnixMilli()), true},
		{"json number", json.Number("1709294400"), true},
		{"numeric string", "1709294400", true},
		{"numeric millis string", "1709294400000", true},
		{"rfc3339", "2024-03-01T12:00:00Z", true},
		{"rfc3339 offset", "2024-03-01T14:00:00+02:00", true},
		{"graph offset", "2024-03-01T12:00:00+0000", true},
		{"garbage", "yesterday", false},
		{"zero", 0, false},
		{"out of range number", float64(1e20), false},
		{"out of range string", "1e20", false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTimestamp(tt.in)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, want.Equal(got), "got %s", got)
			}
		})
	}
}
