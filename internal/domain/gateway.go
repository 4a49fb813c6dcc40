package domain

import (
	"context"
	"time"
)

// Account is the slice of a client account the intake pipeline needs. Account CRUD and
// token refresh live outside this service.
type Account struct {
	ID                 string
	InstagramAccountID string
	AccessToken        string
	AutoReplyEnabled   bool
	AutoSyncEnabled    bool
	Status             string
}

// AccountLookup resolves client accounts.
type AccountLookup interface {
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}

// AccountDirectory enumerates accounts for scheduled work.
type AccountDirectory interface {
	ListAutoSyncAccountIDs(ctx context.Context) ([]string, error)
}

// GatewayCredentials authenticate a call on behalf of one business account.
type GatewayCredentials struct {
	AccessToken        string
	InstagramAccountID string
}

// RemoteMessage is a message as returned by the platform's conversation listing.
type RemoteMessage struct {
	ID          string
	Text        string
	FromID      string
	FromName    string
	ToID        string
	CreatedAt   time.Time
	Attachments []Attachment
}

// RemoteConversation is one thread of the platform's conversation listing.
type RemoteConversation struct {
	ID           string
	Participants []Actor
	Messages     []RemoteMessage
}

// ConversationPage is one page of the platform's conversation listing.
type ConversationPage struct {
	Conversations []RemoteConversation
	NextCursor    string
}

// MessagingGateway is the external messaging API.
type MessagingGateway interface {
	ReplyToComment(ctx context.Context, creds GatewayCredentials, commentID, text string) (string, error)
	ReplyToMessage(ctx context.Context, creds GatewayCredentials, recipientID, text string) (string, error)
	ListConversations(ctx context.Context, creds GatewayCredentials, cursor string) (*ConversationPage, error)
}
