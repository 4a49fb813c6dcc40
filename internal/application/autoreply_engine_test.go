package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/rediskeys"
)

func rule(id string, trigger domain.AutoReplyTrigger, pattern string, priority int, types ...domain.EventType) domain.AutoReplyRule {
	return domain.AutoReplyRule{
		ID:         id,
		AccountID:  testAccountID,
		Trigger:    trigger,
		Pattern:    pattern,
		Response:   "reply from " + id,
		Enabled:    true,
		Priority:   priority,
		EventTypes: types,
	}
}

func TestShouldAutoReply_PriorityPrecedence(t *testing.T) {
	h := newHarness()
	h.rules.rules = []domain.AutoReplyRule{
		rule("price", domain.TriggerKeyword, "price", 2),
		rule("greet", domain.TriggerGreeting, "", 1),
	}

	d, err := h.engine.ShouldAutoReply(context.Background(), testAccountID, "Hello, what's the price?", domain.EventTypeComment)
	require.NoError(t, err)
	require.True(t, d.Should)
	assert.Equal(t, "greet", d.Rule.ID)

	d, err = h.engine.ShouldAutoReply(context.Background(), testAccountID, "price list please", domain.EventTypeComment)
	require.NoError(t, err)
	require.True(t, d.Should)
	assert.Equal(t, "price", d.Rule.ID)
}

func TestShouldAutoReply_Triggers(t *testing.T) {
	tests := []struct {
		name    string
		rule    domain.AutoReplyRule
		text    string
		matches bool
	}{
		{"keyword list", rule("k", domain.TriggerKeyword, "price, cost ,shipping", 1), "What does SHIPPING cost", true},
		{"keyword miss", rule("k", domain.TriggerKeyword, "price,cost", 1), "love this", false},
		{"keyword slash regex", rule("k", domain.TriggerKeyword, `/\bsize\s+(s|m|l)\b/`, 1), "Do you have SIZE M?", true},
		{"keyword re prefix", rule("k", domain.TriggerKeyword, `re:^order\s*#\d+$`, 1), "order #1234", true},
		{"keyword invalid regex never matches", rule("k", domain.TriggerKeyword, `/([/`, 1), "([", false},
		{"question mark", rule("q", domain.TriggerQuestion, "", 1), "available in blue?", true},
		{"question word", rule("q", domain.TriggerQuestion, "", 1), "Where do you ship", true},
		{"question word with punctuation", rule("q", domain.TriggerQuestion, "", 1), "how, exactly", true},
		{"question word with contraction", rule("q", domain.TriggerQuestion, "", 1), "what's your price", true},
		{"question word must be whole", rule("q", domain.TriggerQuestion, "", 1), "whatever works", false},
		{"not a question", rule("q", domain.TriggerQuestion, "", 1), "nice photo", false},
		{"greeting exact", rule("g", domain.TriggerGreeting, "", 1), "Hi", true},
		{"greeting with punctuation", rule("g", domain.TriggerGreeting, "", 1), "hey! nice post", true},
		{"greeting multilingual", rule("g", domain.TriggerGreeting, "", 1), "Selamat pagi kak", true},
		{"greeting needs word boundary", rule("g", domain.TriggerGreeting, "", 1), "history lesson", false},
		{"away always", rule("a", domain.TriggerAway, "", 1), "anything at all", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.rules.rules = []domain.AutoReplyRule{tt.rule}

			d, err := h.engine.ShouldAutoReply(context.Background(), testAccountID, tt.text, domain.EventTypeMessage)
			require.NoError(t, err)
			assert.Equal(t, tt.matches, d.Should)
			if !tt.matches {
				assert.Equal(t, ReasonNoMatch, d.Reason)
			}
		})
	}
}

func TestShouldAutoReply_ShortCircuits(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	d, err := h.engine.ShouldAutoReply(ctx, testAccountID, "hello", domain.EventTypeComment)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoRules, d.Reason)

	h.rules.rules = []domain.AutoReplyRule{rule("g", domain.TriggerGreeting, "", 1, domain.EventTypeMessage)}
	d, err = h.engine.ShouldAutoReply(ctx, testAccountID, "hello", domain.EventTypeComment)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoRules, d.Reason, "rule scoped to messages does not apply to comments")

	h.accounts.accounts[testAccountID].AutoReplyEnabled = false
	d, err = h.engine.ShouldAutoReply(ctx, testAccountID, "hello", domain.EventTypeMessage)
	require.NoError(t, err)
	assert.False(t, d.Should)
	assert.Equal(t, ReasonDisabled, d.Reason)

	_, err = h.engine.ShouldAutoReply(ctx, "unknown", "hello", domain.EventTypeMessage)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestRenderResponse(t *testing.T) {
	r := &domain.AutoReplyRule{Response: "Thanks {username}! DM {username} soon."}
	assert.Equal(t, "Thanks bob! DM bob soon.", RenderResponse(r, "bob"))
	assert.Equal(t, "Thanks there! DM there soon.", RenderResponse(r, ""))
	assert.Empty(t, RenderResponse(nil, "bob"))
}

func TestReplyToComment_Success(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	res := h.engine.ReplyToComment(ctx, testAccountID, "c1", "thanks")
	assert.True(t, res.Sent)
	assert.Equal(t, "reply-c1", res.ReplyID)
	assert.NoError(t, res.Err)

	calls := h.gateway.callsOf("comment")
	require.Len(t, calls, 1)
	assert.Equal(t, "thanks", calls[0].text)
	assert.Equal(t, 1, h.window.count(rediskeys.RateLimitKey(testAccountID)), "successful call is recorded")
}

func TestReplyToMessage_RateLimited(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		h.limiter.RecordAPICall(ctx, testAccountID)
	}

	res := h.engine.ReplyToMessage(ctx, testAccountID, "u1", "hi")
	assert.False(t, res.Sent)
	assert.Equal(t, ReasonRateLimited, res.Reason)
	assert.True(t, res.Retryable)
	assert.ErrorIs(t, res.Err, domain.ErrRateLimited)
	assert.Empty(t, h.gateway.callsOf("message"), "no call once the budget is spent")
}

func TestReplyToMessage_GatewayErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"transient", &domain.ExternalError{Op: "send", StatusCode: 503, Retryable: true, Err: errors.New("unavailable")}, true},
		{"invalid token", &domain.ExternalError{Op: "send", StatusCode: 400, Code: 190, Err: errors.New("token expired")}, false},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.gateway.replyErr = tt.err

			res := h.engine.ReplyToMessage(context.Background(), testAccountID, "u1", "hi")
			assert.False(t, res.Sent)
			assert.Equal(t, ReasonGateway, res.Reason)
			assert.Equal(t, tt.retryable, res.Retryable)
			assert.ErrorIs(t, res.Err, tt.err)
			assert.Zero(t, h.window.count(rediskeys.RateLimitKey(testAccountID)))
		})
	}
}

func TestReplyToComment_UnknownAccount(t *testing.T) {
	h := newHarness()
	res := h.engine.ReplyToComment(context.Background(), "ghost", "c1", "hi")
	assert.False(t, res.Sent)
	assert.Equal(t, ReasonNoAccount, res.Reason)
	assert.False(t, res.Retryable)
}
