package mocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// MockConversationRepository implements domain.ConversationRepository in memory
type MockConversationRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.Conversation
	keys map[string]string // account|platformID -> conversation ID

	// Metrics for benchmarking
	Lookups int64
	Creates int64
	Updates int64
}

func NewMockConversationRepository() *MockConversationRepository {
	return &MockConversationRepository{
		byID: make(map[string]*domain.Conversation),
		keys: make(map[string]string),
	}
}

func (m *MockConversationRepository) FindByID(_ context.Context, id string) (*domain.Conversation, error) {
	atomic.AddInt64(&m.Lookups, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockConversationRepository) FindByPlatformID(_ context.Context, accountID, platformID string) (*domain.Conversation, error) {
	atomic.AddInt64(&m.Lookups, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.keys[accountID+"|"+platformID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MockConversationRepository) Create(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := conv.ClientAccountID + "|" + conv.PlatformConversationID
	if _, exists := m.keys[key]; exists {
		return domain.ErrUniqueViolation
	}
	cp := *conv
	m.byID[conv.ID] = &cp
	m.keys[key] = conv.ID
	atomic.AddInt64(&m.Creates, 1)
	return nil
}

func (m *MockConversationRepository) recordActivity(id string, unreadDelta int, at time.Time) error {
	return m.update(id, func(c *domain.Conversation) {
		c.UnreadCount += unreadDelta
		if c.LastMessageAt == nil || at.After(*c.LastMessageAt) {
			c.LastMessageAt = &at
		}
	})
}

func (m *MockConversationRepository) ResetUnread(_ context.Context, id string) error {
	return m.update(id, func(c *domain.Conversation) { c.UnreadCount = 0 })
}

func (m *MockConversationRepository) UpdateStatus(_ context.Context, id string, status domain.ConversationStatus) error {
	return m.update(id, func(c *domain.Conversation) { c.Status = status })
}

func (m *MockConversationRepository) update(id string, fn func(*domain.Conversation)) error {
	atomic.AddInt64(&m.Updates, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(c)
	return nil
}

// Count returns the number of stored conversations
func (m *MockConversationRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// MockMessageRepository implements domain.MessageRepository in memory
type MockMessageRepository struct {
	mu            sync.RWMutex
	conversations *MockConversationRepository
	byPlatform    map[string]*domain.Message

	Inserts    int64
	Duplicates int64
}

func NewMockMessageRepository(conversations *MockConversationRepository) *MockMessageRepository {
	return &MockMessageRepository{conversations: conversations, byPlatform: make(map[string]*domain.Message)}
}

func (m *MockMessageRepository) FindByPlatformMessageID(_ context.Context, platformID string) (*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.byPlatform[platformID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *MockMessageRepository) Append(_ context.Context, msg *domain.Message, unreadDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byPlatform[msg.PlatformMessageID]; exists {
		atomic.AddInt64(&m.Duplicates, 1)
		return domain.ErrUniqueViolation
	}
	if err := m.conversations.recordActivity(msg.ConversationID, unreadDelta, msg.SentAt); err != nil {
		return err
	}
	cp := *msg
	m.byPlatform[msg.PlatformMessageID] = &cp
	atomic.AddInt64(&m.Inserts, 1)
	return nil
}

func (m *MockMessageRepository) MarkConversationRead(_ context.Context, conversationID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.byPlatform {
		if msg.ConversationID == conversationID && !msg.IsRead {
			msg.IsRead = true
			msg.ReadAt = &at
			n++
		}
	}
	return n, nil
}

// MockEngagementRepository implements domain.EngagementRepository in memory
type MockEngagementRepository struct {
	mu       sync.Mutex
	comments map[string]struct{}
	mentions map[string]struct{}

	Insights int64
}

func NewMockEngagementRepository() *MockEngagementRepository {
	return &MockEngagementRepository{
		comments: make(map[string]struct{}),
		mentions: make(map[string]struct{}),
	}
}

func (m *MockEngagementRepository) SaveComment(_ context.Context, _ string, c *domain.Comment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[c.ID]; ok {
		return false, nil
	}
	m.comments[c.ID] = struct{}{}
	return true, nil
}

func (m *MockEngagementRepository) SaveMention(_ context.Context, _ string, mention *domain.Mention) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mentions[mention.ID]; ok {
		return false, nil
	}
	m.mentions[mention.ID] = struct{}{}
	return true, nil
}

func (m *MockEngagementRepository) SaveStoryInsight(_ context.Context, _ string, _ *domain.StoryInsight) error {
	atomic.AddInt64(&m.Insights, 1)
	return nil
}

// MockRuleRepository serves a fixed rule set for every account
type MockRuleRepository struct {
	Rules []domain.AutoReplyRule
}

func (m *MockRuleRepository) ListEnabledRules(_ context.Context, accountID string, eventType domain.EventType) ([]domain.AutoReplyRule, error) {
	var out []domain.AutoReplyRule
	for _, r := range m.Rules {
		if r.AccountID == accountID && r.Enabled && r.AppliesTo(eventType) {
			out = append(out, r)
		}
	}
	return out, nil
}

// MockAccounts implements domain.AccountLookup and domain.AccountDirectory
type MockAccounts struct {
	Accounts map[string]*domain.Account
}

func NewMockAccounts(accounts ...*domain.Account) *MockAccounts {
	m := &MockAccounts{Accounts: make(map[string]*domain.Account)}
	for _, a := range accounts {
		m.Accounts[a.ID] = a
	}
	return m
}

func (m *MockAccounts) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	a, ok := m.Accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccounts) ListAutoSyncAccountIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.Accounts))
	for id, a := range m.Accounts {
		if a.AutoSyncEnabled {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// MockGateway implements domain.MessagingGateway without network calls
type MockGateway struct {
	CommentReplies int64
	MessageReplies int64
	ListCalls      int64

	// Latency simulates the Graph API round trip
	Latency time.Duration
	Pages   map[string]*domain.ConversationPage
}

func (m *MockGateway) ReplyToComment(ctx context.Context, _ domain.GatewayCredentials, commentID, _ string) (string, error) {
	atomic.AddInt64(&m.CommentReplies, 1)
	return "reply-" + commentID, m.wait(ctx)
}

func (m *MockGateway) ReplyToMessage(ctx context.Context, _ domain.GatewayCredentials, recipientID, _ string) (string, error) {
	atomic.AddInt64(&m.MessageReplies, 1)
	return "dm-" + recipientID, m.wait(ctx)
}

func (m *MockGateway) ListConversations(ctx context.Context, _ domain.GatewayCredentials, cursor string) (*domain.ConversationPage, error) {
	atomic.AddInt64(&m.ListCalls, 1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if page, ok := m.Pages[cursor]; ok {
		return page, nil
	}
	return &domain.ConversationPage{}, nil
}

func (m *MockGateway) wait(ctx context.Context) error {
	if m.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(m.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MockAnalytics counts recorded samples
type MockAnalytics struct {
	Samples int64
}

func (m *MockAnalytics) RecordEvent(_ context.Context, _ domain.AnalyticsSample) error {
	atomic.AddInt64(&m.Samples, 1)
	return nil
}
