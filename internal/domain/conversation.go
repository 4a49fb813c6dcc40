package domain

import (
	"fmt"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	return s == ConversationOpen || s == ConversationClosed || s == ConversationArchived
}

// Conversation is a direct message thread between a client account and one participant.
// (ClientAccountID, PlatformConversationID) is unique.
type Conversation struct {
	ID                     string
	ClientAccountID        string
	PlatformConversationID string
	ParticipantPlatformID  string
	ParticipantUsername    string
	ParticipantProfilePic  string
	LastMessageAt          *time.Time
	UnreadCount            int
	Status                 ConversationStatus
	Metadata               map[string]any
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewConversation builds a fresh open conversation with no unread messages.
func NewConversation(id, clientAccountID, participantID, participantUsername string, now time.Time) *Conversation {
	return &Conversation{
		ID:                     id,
		ClientAccountID:        clientAccountID,
		PlatformConversationID: participantID,
		ParticipantPlatformID:  participantID,
		ParticipantUsername:    participantUsername,
		Status:                 ConversationOpen,
		Metadata:               map[string]any{},
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// RecordMessage applies the effect of a new message: customer messages bump the unread
// counter, every message moves LastMessageAt forward.
func (c *Conversation) RecordMessage(sender SenderType, at time.Time) {
	if sender == SenderCustomer {
		c.UnreadCount++
	}
	if c.LastMessageAt == nil || at.After(*c.LastMessageAt) {
		t := at
		c.LastMessageAt = &t
	}
	c.UpdatedAt = at
}

// MarkAllRead resets the unread counter.
func (c *Conversation) MarkAllRead(now time.Time) {
	c.UnreadCount = 0
	c.UpdatedAt = now
}

func (c *Conversation) Close(now time.Time) error {
	return c.transition(ConversationClosed, now)
}

func (c *Conversation) Archive(now time.Time) error {
	return c.transition(ConversationArchived, now)
}

// Reopen moves a closed conversation back to open. Archived conversations cannot be reopened.
func (c *Conversation) Reopen(now time.Time) error {
	return c.transition(ConversationOpen, now)
}

func (c *Conversation) transition(to ConversationStatus, now time.Time) error {
	if c.Status == ConversationArchived && to != ConversationArchived {
		return fmt.Errorf("%w: conversation %s cannot move to %s", ErrConversationArchived, c.ID, to)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatusTransition, to)
	}
	c.Status = to
	c.UpdatedAt = now
	return nil
}
