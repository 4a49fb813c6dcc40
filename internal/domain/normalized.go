package domain

import (
	"strings"
	"time"
)

// NormalizedEvent is a typed, validated representation of a raw webhook payload.
// The set of implementations is closed: Comment, Mention, DirectMessage and StoryInsight.
type NormalizedEvent interface {
	Kind() EventType
	Validate() error
	isNormalizedEvent()
}

// Actor identifies the platform user behind an event.
type Actor struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// MediaRef identifies the media object an event is attached to.
type MediaRef struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// Attachment is a piece of media carried by a direct message.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

type Comment struct {
	ID        string
	Text      string
	Timestamp time.Time
	From      Actor
	Media     MediaRef
	ParentID  string
	LikeCount int
	IsHidden  bool
}

type Mention struct {
	ID          string
	MediaID     string
	CommentID   string
	Timestamp   time.Time
	MentionedIn string
	From        Actor
}

// DirectMessage is a normalized messaging event. The persisted row is Message.
type DirectMessage struct {
	ID             string
	Text           string
	Attachments    []Attachment
	Timestamp      time.Time
	From           Actor
	RecipientID    string
	ConversationID string
	// IsEcho marks messages sent by the business account itself.
	IsEcho bool
}

type StoryInsight struct {
	MediaID   string
	Metric    string
	Value     int64
	Timestamp time.Time
}

func (*Comment) Kind() EventType       { return EventTypeComment }
func (*Mention) Kind() EventType       { return EventTypeMention }
func (*DirectMessage) Kind() EventType { return EventTypeMessage }
func (*StoryInsight) Kind() EventType  { return EventTypeStoryInsight }

func (*Comment) isNormalizedEvent()       {}
func (*Mention) isNormalizedEvent()       {}
func (*DirectMessage) isNormalizedEvent() {}
func (*StoryInsight) isNormalizedEvent()  {}

func (c *Comment) Validate() error {
	switch {
	case blank(c.ID):
		return NewValidationError(EventTypeComment, "id")
	case blank(c.Text):
		return NewValidationError(EventTypeComment, "text")
	case blank(c.From.ID):
		return NewValidationError(EventTypeComment, "from.id")
	}
	return nil
}

func (m *Mention) Validate() error {
	switch {
	case blank(m.ID):
		return NewValidationError(EventTypeMention, "id")
	case blank(m.MediaID):
		return NewValidationError(EventTypeMention, "media_id")
	}
	return nil
}

func (m *DirectMessage) Validate() error {
	switch {
	case blank(m.ID):
		return NewValidationError(EventTypeMessage, "id")
	case blank(m.From.ID):
		return NewValidationError(EventTypeMessage, "from.id")
	case blank(m.Text) && len(m.Attachments) == 0:
		return NewValidationError(EventTypeMessage, "text")
	case m.IsEcho && blank(m.RecipientID):
		return NewValidationError(EventTypeMessage, "recipient.id")
	}
	return nil
}

func (s *StoryInsight) Validate() error {
	switch {
	case blank(s.MediaID):
		return NewValidationError(EventTypeStoryInsight, "media_id")
	case blank(s.Metric):
		return NewValidationError(EventTypeStoryInsight, "metric")
	}
	return nil
}

// ParticipantID returns the customer side of a direct message: the sender for inbound
// messages and the recipient for echoes.
func (m *DirectMessage) ParticipantID() string {
	if m.IsEcho {
		return m.RecipientID
	}
	return m.From.ID
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
