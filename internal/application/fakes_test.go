package application

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

var errStoreDown = errors.New("store down")

// fakeClock is a settable clock shared by fakes and services under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() *config.StaticProvider {
	return config.NewStaticProvider(config.Default())
}

// --- TTL store ---

type fakeTTLStore struct {
	mu      sync.Mutex
	clock   *fakeClock
	keys    map[string]time.Time // key -> expiry
	failing bool
}

func newFakeTTLStore(clock *fakeClock) *fakeTTLStore {
	return &fakeTTLStore{clock: clock, keys: map[string]time.Time{}}
}

func (s *fakeTTLStore) live(key string) bool {
	exp, ok := s.keys[key]
	if !ok {
		return false
	}
	if !s.clock.Now().Before(exp) {
		delete(s.keys, key)
		return false
	}
	return true
}

func (s *fakeTTLStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return false, errStoreDown
	}
	if s.live(key) {
		return false, nil
	}
	s.keys[key] = s.clock.Now().Add(ttl)
	return true, nil
}

func (s *fakeTTLStore) Set(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	s.keys[key] = s.clock.Now().Add(ttl)
	return nil
}

func (s *fakeTTLStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return false, errStoreDown
	}
	return s.live(key), nil
}

func (s *fakeTTLStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	delete(s.keys, key)
	return nil
}

func (s *fakeTTLStore) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errStoreDown
	}
	var n int64
	for k := range s.keys {
		if strings.HasPrefix(k, prefix) {
			delete(s.keys, k)
			n++
		}
	}
	return n, nil
}

// --- rate window store ---

type windowEntry struct {
	at     time.Time
	member string
}

type fakeWindowStore struct {
	mu      sync.Mutex
	entries map[string][]windowEntry
	failing bool
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{entries: map[string][]windowEntry{}}
}

func (s *fakeWindowStore) CountSince(_ context.Context, key string, since time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, time.Time{}, errStoreDown
	}
	kept := s.entries[key][:0]
	for _, e := range s.entries[key] {
		if e.at.After(since) {
			kept = append(kept, e)
		}
	}
	s.entries[key] = kept
	if len(kept) == 0 {
		return 0, time.Time{}, nil
	}
	oldest := kept[0].at
	for _, e := range kept[1:] {
		if e.at.Before(oldest) {
			oldest = e.at
		}
	}
	return int64(len(kept)), oldest, nil
}

func (s *fakeWindowStore) Add(_ context.Context, key string, at time.Time, member string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	s.entries[key] = append(s.entries[key], windowEntry{at: at, member: member})
	return nil
}

func (s *fakeWindowStore) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[key])
}

// --- repositories ---

type fakeConversationRepo struct {
	mu           sync.Mutex
	byID         map[string]*domain.Conversation
	creates      int
	beforeCreate func(c *domain.Conversation) // test hook, called without the lock held
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{byID: map[string]*domain.Conversation{}}
}

func (r *fakeConversationRepo) FindByID(_ context.Context, id string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeConversationRepo) FindByPlatformID(_ context.Context, accountID, platformID string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.ClientAccountID == accountID && c.PlatformConversationID == platformID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeConversationRepo) Create(_ context.Context, conv *domain.Conversation) error {
	if r.beforeCreate != nil {
		r.beforeCreate(conv)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.ClientAccountID == conv.ClientAccountID && c.PlatformConversationID == conv.PlatformConversationID {
			return domain.ErrUniqueViolation
		}
	}
	cp := *conv
	r.byID[conv.ID] = &cp
	r.creates++
	return nil
}

func (r *fakeConversationRepo) recordActivity(id string, unreadDelta int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.UnreadCount += unreadDelta
	if c.LastMessageAt == nil || at.After(*c.LastMessageAt) {
		t := at
		c.LastMessageAt = &t
	}
	return nil
}

func (r *fakeConversationRepo) ResetUnread(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.UnreadCount = 0
	return nil
}

func (r *fakeConversationRepo) UpdateStatus(_ context.Context, id string, status domain.ConversationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	return nil
}

func (r *fakeConversationRepo) all() []domain.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Conversation, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, *c)
	}
	return out
}

type fakeMessageRepo struct {
	mu            sync.Mutex
	conversations *fakeConversationRepo
	byPlatform    map[string]*domain.Message
	order         []string
	appendErrs    []error // returned by the next Append calls, one per call, before anything is written
}

func newFakeMessageRepo(conversations *fakeConversationRepo) *fakeMessageRepo {
	return &fakeMessageRepo{conversations: conversations, byPlatform: map[string]*domain.Message{}}
}

func (r *fakeMessageRepo) FindByPlatformMessageID(_ context.Context, platformID string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byPlatform[platformID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMessageRepo) Append(_ context.Context, msg *domain.Message, unreadDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.appendErrs) > 0 {
		err := r.appendErrs[0]
		r.appendErrs = r.appendErrs[1:]
		return err
	}
	if _, exists := r.byPlatform[msg.PlatformMessageID]; exists {
		return domain.ErrUniqueViolation
	}
	if err := r.conversations.recordActivity(msg.ConversationID, unreadDelta, msg.SentAt); err != nil {
		return err
	}
	cp := *msg
	r.byPlatform[msg.PlatformMessageID] = &cp
	r.order = append(r.order, msg.PlatformMessageID)
	return nil
}

func (r *fakeMessageRepo) MarkConversationRead(_ context.Context, conversationID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.byPlatform {
		if m.ConversationID == conversationID && !m.IsRead {
			m.IsRead = true
			t := at
			m.ReadAt = &t
			n++
		}
	}
	return n, nil
}

func (r *fakeMessageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPlatform)
}

type fakeEngagementRepo struct {
	mu       sync.Mutex
	comments map[string]domain.Comment
	mentions map[string]domain.Mention
	insights map[string]domain.StoryInsight
	err      error
}

func newFakeEngagementRepo() *fakeEngagementRepo {
	return &fakeEngagementRepo{
		comments: map[string]domain.Comment{},
		mentions: map[string]domain.Mention{},
		insights: map[string]domain.StoryInsight{},
	}
}

func (r *fakeEngagementRepo) SaveComment(_ context.Context, _ string, c *domain.Comment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.comments[c.ID]; ok {
		return false, nil
	}
	r.comments[c.ID] = *c
	return true, nil
}

func (r *fakeEngagementRepo) SaveMention(_ context.Context, _ string, m *domain.Mention) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.mentions[m.ID]; ok {
		return false, nil
	}
	r.mentions[m.ID] = *m
	return true, nil
}

func (r *fakeEngagementRepo) SaveStoryInsight(_ context.Context, accountID string, s *domain.StoryInsight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.insights[accountID+"/"+s.MediaID+"/"+s.Metric] = *s
	return nil
}

type fakeRuleRepo struct {
	rules []domain.AutoReplyRule
	err   error
}

func (r *fakeRuleRepo) ListEnabledRules(_ context.Context, accountID string, eventType domain.EventType) ([]domain.AutoReplyRule, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []domain.AutoReplyRule
	for _, rule := range r.rules {
		if rule.AccountID == accountID && rule.Enabled && rule.AppliesTo(eventType) {
			out = append(out, rule)
		}
	}
	return out, nil
}

type fakeAccounts struct {
	accounts map[string]*domain.Account
	err      error
}

func newFakeAccounts(accounts ...*domain.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: map[string]*domain.Account{}}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) ListAutoSyncAccountIDs(_ context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for id, a := range f.accounts {
		if a.AutoSyncEnabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- gateway ---

type gatewayCall struct {
	op     string
	target string
	text   string
	cursor string
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    []gatewayCall
	replyErr error
	pages    map[string]*domain.ConversationPage // cursor -> page
	pageErrs []error                            // consumed in order before pages are served
}

func (g *fakeGateway) record(c gatewayCall) {
	g.mu.Lock()
	g.calls = append(g.calls, c)
	g.mu.Unlock()
}

func (g *fakeGateway) ReplyToComment(_ context.Context, _ domain.GatewayCredentials, commentID, text string) (string, error) {
	g.record(gatewayCall{op: "comment", target: commentID, text: text})
	if g.replyErr != nil {
		return "", g.replyErr
	}
	return "reply-" + commentID, nil
}

func (g *fakeGateway) ReplyToMessage(_ context.Context, _ domain.GatewayCredentials, recipientID, text string) (string, error) {
	g.record(gatewayCall{op: "message", target: recipientID, text: text})
	if g.replyErr != nil {
		return "", g.replyErr
	}
	return "dm-" + recipientID, nil
}

func (g *fakeGateway) ListConversations(_ context.Context, _ domain.GatewayCredentials, cursor string) (*domain.ConversationPage, error) {
	g.record(gatewayCall{op: "list", cursor: cursor})
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pageErrs) > 0 {
		err := g.pageErrs[0]
		g.pageErrs = g.pageErrs[1:]
		return nil, err
	}
	page, ok := g.pages[cursor]
	if !ok {
		return &domain.ConversationPage{}, nil
	}
	return page, nil
}

func (g *fakeGateway) callsOf(op string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// --- analytics / publisher ---

type fakeAnalytics struct {
	mu      sync.Mutex
	samples []domain.AnalyticsSample
	err     error
}

func (a *fakeAnalytics) RecordEvent(_ context.Context, s domain.AnalyticsSample) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = append(a.samples, s)
	return a.err
}

type fakePublisher struct {
	mu        sync.Mutex
	events    []domain.WebhookEvent
	backfills []domain.BackfillJob
	failFor   string
}

func (p *fakePublisher) PublishWebhookEvent(_ context.Context, e domain.WebhookEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) PublishBackfill(_ context.Context, job domain.BackfillJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job.AccountID == p.failFor {
		return errStoreDown
	}
	p.backfills = append(p.backfills, job)
	return nil
}

// harness wires every service onto the fakes above with a shared clock.
type harness struct {
	clock      *fakeClock
	cfg        *config.StaticProvider
	ttl        *fakeTTLStore
	window     *fakeWindowStore
	convRepo   *fakeConversationRepo
	msgRepo    *fakeMessageRepo
	engagement *fakeEngagementRepo
	rules      *fakeRuleRepo
	accounts   *fakeAccounts
	gateway    *fakeGateway
	analytics  *fakeAnalytics

	dedup         *Deduplicator
	normalizer    *Normalizer
	conversations *ConversationService
	limiter       *RateLimiter
	engine        *AutoReplyEngine
	processor     *EventProcessor
}

const testAccountID = "acct-A"

func newHarness() *harness {
	h := &harness{
		clock:      newFakeClock(),
		cfg:        testConfig(),
		window:     newFakeWindowStore(),
		convRepo:   newFakeConversationRepo(),
		engagement: newFakeEngagementRepo(),
		rules:      &fakeRuleRepo{},
		accounts: newFakeAccounts(&domain.Account{
			ID:                 testAccountID,
			InstagramAccountID: "ig-business",
			AccessToken:        "token",
			AutoReplyEnabled:   true,
			AutoSyncEnabled:    true,
			Status:             "active",
		}),
		gateway:   &fakeGateway{},
		analytics: &fakeAnalytics{},
	}
	h.msgRepo = newFakeMessageRepo(h.convRepo)
	h.ttl = newFakeTTLStore(h.clock)
	logger := domain.NopLogger{}

	h.dedup = NewDeduplicator(h.ttl, h.cfg, logger)
	h.normalizer = NewNormalizer(logger)
	h.normalizer.now = h.clock.Now
	h.conversations = NewConversationService(h.convRepo, h.msgRepo, logger)
	h.conversations.now = h.clock.Now
	h.limiter = NewRateLimiter(h.window, h.cfg, logger)
	h.limiter.now = h.clock.Now
	h.limiter.jitter = func() float64 { return 0 }
	h.engine = NewAutoReplyEngine(h.accounts, h.rules, h.gateway, h.limiter, h.cfg, logger)
	h.processor = NewEventProcessor(h.dedup, h.normalizer, h.conversations, h.engagement, h.engine, h.analytics, logger)
	h.processor.now = h.clock.Now
	return h
}
