package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/metrics"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// InboundMessage is a direct message ready for persistence, from a webhook or a backfill page.
type InboundMessage struct {
	AccountID           string
	PlatformMessageID   string
	ParticipantID       string // the customer's platform ID, which keys the conversation
	ParticipantUsername string
	SenderType          domain.SenderType
	SenderPlatformID    string
	Text                string
	Attachments         []domain.Attachment
	SentAt              time.Time
	Source              string
}

// IngestResult describes what IngestMessage did.
type IngestResult struct {
	Duplicate           bool
	ConversationID      string
	MessageID           string
	CreatedConversation bool
}

// ConversationService owns conversation and message persistence. Idempotency comes
// from the store's uniqueness constraints, not from locks.
type ConversationService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	logger        domain.Logger
	now           func() time.Time
	newID         func() string
}

func NewConversationService(conversations domain.ConversationRepository, messages domain.MessageRepository, logger domain.Logger) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// IngestMessage stores in, creating its conversation on first contact. Replays of an
// already stored platform message ID are no-ops.
func (s *ConversationService) IngestMessage(ctx context.Context, in InboundMessage) (IngestResult, error) {
	existing, err := s.messages.FindByPlatformMessageID(ctx, in.PlatformMessageID)
	switch {
	case err == nil && existing != nil:
		return IngestResult{Duplicate: true, ConversationID: existing.ConversationID, MessageID: existing.ID}, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return IngestResult{}, fmt.Errorf("failed to look up message %s: %w", in.PlatformMessageID, err)
	}

	msg := s.buildMessage(in)
	if err := msg.Validate(); err != nil {
		return IngestResult{}, err
	}

	conv, created, err := s.findOrCreateConversation(ctx, in)
	if err != nil {
		return IngestResult{}, err
	}
	msg.ConversationID = conv.ID

	unreadDelta := 0
	if in.SenderType == domain.SenderCustomer {
		unreadDelta = 1
	}
	// The counter moves with the insert, so a redelivery after a failure here sees
	// neither and starts over.
	if err := s.messages.Append(ctx, msg, unreadDelta); err != nil {
		if errors.Is(err, domain.ErrUniqueViolation) {
			// A concurrent delivery stored it first.
			s.logger.Debug(ctx, "Message inserted concurrently, skipping", "platformMessageID", in.PlatformMessageID)
			return IngestResult{Duplicate: true, ConversationID: conv.ID}, nil
		}
		return IngestResult{}, fmt.Errorf("failed to store message %s: %w", in.PlatformMessageID, err)
	}

	metrics.IncrementMessagesIngested(sourceOrDefault(in.Source), string(in.SenderType))
	return IngestResult{ConversationID: conv.ID, MessageID: msg.ID, CreatedConversation: created}, nil
}

func (s *ConversationService) findOrCreateConversation(ctx context.Context, in InboundMessage) (*domain.Conversation, bool, error) {
	conv, err := s.conversations.FindByPlatformID(ctx, in.AccountID, in.ParticipantID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up conversation for participant %s: %w", in.ParticipantID, err)
	}

	conv = domain.NewConversation(s.newID(), in.AccountID, in.ParticipantID, in.ParticipantUsername, s.now().UTC())
	err = s.conversations.Create(ctx, conv)
	if err == nil {
		s.logger.Info(ctx, "Conversation created",
			"conversationID", conv.ID,
			"participantID", in.ParticipantID,
		)
		return conv, true, nil
	}
	if !errors.Is(err, domain.ErrUniqueViolation) {
		return nil, false, fmt.Errorf("failed to create conversation for participant %s: %w", in.ParticipantID, err)
	}

	// Lost the creation race; the winner's row is authoritative.
	conv, err = s.conversations.FindByPlatformID(ctx, in.AccountID, in.ParticipantID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to re-fetch conversation for participant %s: %w", in.ParticipantID, err)
	}
	return conv, false, nil
}

func (s *ConversationService) buildMessage(in InboundMessage) *domain.Message {
	sentAt := in.SentAt
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	msg := &domain.Message{
		ID:                s.newID(),
		PlatformMessageID: in.PlatformMessageID,
		SenderType:        in.SenderType,
		SenderPlatformID:  in.SenderPlatformID,
		MessageType:       domain.MessageText,
		Content:           in.Text,
		IsRead:            in.SenderType == domain.SenderUser,
		SentAt:            sentAt.UTC(),
		Metadata:          map[string]any{"source": sourceOrDefault(in.Source)},
		CreatedAt:         s.now().UTC(),
	}

	if len(in.Attachments) == 0 {
		return msg
	}
	att := in.Attachments[0]
	if mt := messageTypeFor(att.Type); mt.IsMedia() && att.URL != "" {
		msg.MessageType = mt
		msg.MediaURL = att.URL
		msg.MediaType = att.Type
	} else if strings.TrimSpace(msg.Content) == "" {
		// Shares, files and other unsupported kinds keep a readable pointer to the media.
		msg.Content = att.URL
	}
	if len(in.Attachments) > 1 {
		msg.Metadata["attachments"] = len(in.Attachments)
	}
	return msg
}

func messageTypeFor(attachmentType string) domain.MessageType {
	switch strings.ToLower(attachmentType) {
	case "image", "animated_image_share":
		return domain.MessageImage
	case "video":
		return domain.MessageVideo
	case "audio":
		return domain.MessageAudio
	case "story_mention":
		return domain.MessageStoryMention
	case "story_reply", "reply_to_story":
		return domain.MessageStoryReply
	}
	return domain.MessageText
}

// MarkAllRead marks every message in the conversation read and zeroes its unread count.
func (s *ConversationService) MarkAllRead(ctx context.Context, conversationID string) (int64, error) {
	n, err := s.messages.MarkConversationRead(ctx, conversationID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read in %s: %w", conversationID, err)
	}
	if err := s.conversations.ResetUnread(ctx, conversationID); err != nil {
		return n, fmt.Errorf("failed to reset unread count of %s: %w", conversationID, err)
	}
	return n, nil
}

func (s *ConversationService) CloseConversation(ctx context.Context, conversationID string) error {
	return s.transition(ctx, conversationID, (*domain.Conversation).Close)
}

func (s *ConversationService) ArchiveConversation(ctx context.Context, conversationID string) error {
	return s.transition(ctx, conversationID, (*domain.Conversation).Archive)
}

// ReopenConversation fails with domain.ErrConversationArchived for archived conversations.
func (s *ConversationService) ReopenConversation(ctx context.Context, conversationID string) error {
	return s.transition(ctx, conversationID, (*domain.Conversation).Reopen)
}

func (s *ConversationService) transition(ctx context.Context, conversationID string, apply func(*domain.Conversation, time.Time) error) error {
	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if err := apply(conv, s.now().UTC()); err != nil {
		return err
	}
	if err := s.conversations.UpdateStatus(ctx, conv.ID, conv.Status); err != nil {
		return fmt.Errorf("failed to persist status of %s: %w", conversationID, err)
	}
	return nil
}

func sourceOrDefault(source string) string {
	if source == "" {
		return "webhook"
	}
	return source
}
