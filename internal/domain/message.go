package domain

import (
	"strings"
	"time"
)

// SenderType tells whether a message was written by the business (user) or by the customer.
type SenderType string

const (
	SenderUser     SenderType = "user"
	SenderCustomer SenderType = "customer"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText         MessageType = "text"
	MessageImage        MessageType = "image"
	MessageVideo        MessageType = "video"
	MessageAudio        MessageType = "audio"
	MessageStoryMention MessageType = "story_mention"
	MessageStoryReply   MessageType = "story_reply"
)

// IsMedia reports whether the type carries a media URL instead of text content.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageStoryMention, MessageStoryReply:
		return true
	}
	return false
}

// Message is a persisted direct message. PlatformMessageID is globally unique and is the
// idempotency key for ingestion.
type Message struct {
	ID                string
	ConversationID    string
	PlatformMessageID string
	SenderType        SenderType
	SenderPlatformID  string
	MessageType       MessageType
	Content           string
	MediaURL          string
	MediaType         string
	IsRead            bool
	SentAt            time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	Metadata          map[string]any
	CreatedAt         time.Time
}

// Validate enforces the content invariants: text needs content, media needs a URL.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.PlatformMessageID) == "" {
		return NewValidationError(EventTypeMessage, "platform_message_id")
	}
	if m.SenderType != SenderUser && m.SenderType != SenderCustomer {
		return NewValidationError(EventTypeMessage, "sender_type")
	}
	if m.MessageType == MessageText {
		if strings.TrimSpace(m.Content) == "" {
			return NewValidationError(EventTypeMessage, "content")
		}
		return nil
	}
	if !m.MessageType.IsMedia() {
		return NewValidationError(EventTypeMessage, "message_type")
	}
	if strings.TrimSpace(m.MediaURL) == "" {
		return NewValidationError(EventTypeMessage, "media_url")
	}
	return nil
}
