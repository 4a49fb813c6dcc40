package domain

import (
	"context"
	"time"
)

// ConversationRepository persists conversations. Create must report ErrUniqueViolation when
// (ClientAccountID, PlatformConversationID) already exists; lookups report ErrNotFound.
type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (*Conversation, error)
	FindByPlatformID(ctx context.Context, clientAccountID, platformConversationID string) (*Conversation, error)
	Create(ctx context.Context, conversation *Conversation) error
	ResetUnread(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status ConversationStatus) error
}

// MessageRepository persists messages.
type MessageRepository interface {
	FindByPlatformMessageID(ctx context.Context, platformMessageID string) (*Message, error)

	// Append stores message and, in the same transaction, adds unreadDelta to its
	// conversation's unread counter and moves last_message_at forward to message.SentAt
	// (never backwards). Either both writes happen or neither does. An already stored
	// platform message ID reports ErrUniqueViolation.
	Append(ctx context.Context, message *Message, unreadDelta int) error
	MarkConversationRead(ctx context.Context, conversationID string, at time.Time) (int64, error)
}

// EngagementRepository idempotently persists the non-conversational event kinds.
// The boolean results report whether a new row was written.
type EngagementRepository interface {
	SaveComment(ctx context.Context, accountID string, comment *Comment) (bool, error)
	SaveMention(ctx context.Context, accountID string, mention *Mention) (bool, error)
	SaveStoryInsight(ctx context.Context, accountID string, insight *StoryInsight) error
}

// AutoReplyRuleRepository lists the enabled rules of an account for an event type.
type AutoReplyRuleRepository interface {
	ListEnabledRules(ctx context.Context, accountID string, eventType EventType) ([]AutoReplyRule, error)
}
