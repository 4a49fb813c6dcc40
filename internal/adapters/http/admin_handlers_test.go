package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

type stubAdmin struct {
	cleared    int64
	clearErr   error
	backfills  []domain.BackfillJob
	enqueued   int
	replayMax  int
	replayed   int
	pending    uint64
	day        time.Time
	actions    []string
	actionErr  error
	publishErr error
	events     []domain.WebhookEvent
}

func (s *stubAdmin) ClearAll(context.Context) (int64, error) { return s.cleared, s.clearErr }

func (s *stubAdmin) CheckRateLimit(_ context.Context, accountID string) domain.RateLimitStatus {
	return domain.RateLimitStatus{Limit: 200, Remaining: 150}
}

func (s *stubAdmin) PublishWebhookEvent(_ context.Context, event domain.WebhookEvent) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubAdmin) PublishBackfill(_ context.Context, job domain.BackfillJob) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.backfills = append(s.backfills, job)
	return nil
}

func (s *stubAdmin) EnqueueAll(context.Context, string) (int, error) { return s.enqueued, nil }

func (s *stubAdmin) Pending(context.Context) (uint64, error) { return s.pending, nil }

func (s *stubAdmin) Replay(_ context.Context, max int) (int, error) {
	s.replayMax = max
	return s.replayed, nil
}

func (s *stubAdmin) DailyCounters(_ context.Context, day time.Time) (map[string]string, error) {
	s.day = day
	return map[string]string{"events:comment": "4"}, nil
}

func (s *stubAdmin) MarkAllRead(_ context.Context, id string) (int64, error) {
	s.actions = append(s.actions, "read:"+id)
	return 3, s.actionErr
}

func (s *stubAdmin) CloseConversation(_ context.Context, id string) error {
	s.actions = append(s.actions, "close:"+id)
	return s.actionErr
}

func (s *stubAdmin) ArchiveConversation(_ context.Context, id string) error {
	s.actions = append(s.actions, "archive:"+id)
	return s.actionErr
}

func (s *stubAdmin) ReopenConversation(_ context.Context, id string) error {
	s.actions = append(s.actions, "reopen:"+id)
	return s.actionErr
}

func newAdminMux(s *stubAdmin) *http.ServeMux {
	h := NewAdminHandlers(s, s, s, s, s, s, s, domain.NopLogger{})
	h.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	mux := http.NewServeMux()
	h.Register(mux, func(next http.Handler) http.Handler { return next })
	return mux
}

func serve(mux *http.ServeMux, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	body := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestAdmin_ClearDedup(t *testing.T) {
	s := &stubAdmin{cleared: 12}
	rec, body := serve(newAdminMux(s), http.MethodPost, "/admin/dedup/clear")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(12), body["cleared"])

	s.clearErr = errors.New("redis down")
	rec, _ = serve(newAdminMux(s), http.MethodPost, "/admin/dedup/clear")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdmin_RateLimit(t *testing.T) {
	rec, body := serve(newAdminMux(&stubAdmin{}), http.MethodGet, "/admin/rate-limit/acct-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(150), body["remaining"])

	rec, _ = serve(newAdminMux(&stubAdmin{}), http.MethodPost, "/admin/rate-limit/acct-1")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdmin_Backfill(t *testing.T) {
	s := &stubAdmin{enqueued: 3}
	rec, body := serve(newAdminMux(s), http.MethodPost, "/admin/backfill/acct-1")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, s.backfills, 1)
	assert.Equal(t, "acct-1", s.backfills[0].AccountID)
	assert.Equal(t, "manual", body["reason"])

	rec, body = serve(newAdminMux(s), http.MethodPost, "/admin/backfill")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, float64(3), body["enqueued"])

	s.publishErr = errors.New("nats down")
	rec, _ = serve(newAdminMux(s), http.MethodPost, "/admin/backfill/acct-1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdmin_EnqueueEvent(t *testing.T) {
	s := &stubAdmin{}
	mux := newAdminMux(s)
	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/events", strings.NewReader(body)))
		return rec
	}

	rec := post(`{"eventType":"comment","eventId":"c1","accountId":"acct-1","payload":{"id":"c1","text":"hi"}}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, s.events, 1)
	assert.Equal(t, domain.EventTypeComment, s.events[0].EventType)
	assert.Equal(t, "hi", s.events[0].Payload["text"])
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), s.events[0].Timestamp)

	assert.Equal(t, http.StatusBadRequest, post(`{oops`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"eventType":"reaction","eventId":"r1","accountId":"a","payload":{}}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"eventType":"comment","accountId":"a","payload":{}}`).Code)
	assert.Len(t, s.events, 1)

	s.publishErr = errors.New("nats down")
	assert.Equal(t, http.StatusServiceUnavailable, post(`{"eventType":"message","eventId":"m1","accountId":"a","payload":{}}`).Code)
}

func TestAdmin_FailedSet(t *testing.T) {
	s := &stubAdmin{pending: 7, replayed: 5}
	_, body := serve(newAdminMux(s), http.MethodGet, "/admin/failed")
	assert.Equal(t, float64(7), body["pending"])

	rec, body := serve(newAdminMux(s), http.MethodPost, "/admin/failed/replay?max=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, s.replayMax)
	assert.Equal(t, float64(5), body["replayed"])

	_, _ = serve(newAdminMux(s), http.MethodPost, "/admin/failed/replay")
	assert.Equal(t, 100, s.replayMax)

	rec, _ = serve(newAdminMux(s), http.MethodPost, "/admin/failed/replay?max=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_Analytics(t *testing.T) {
	s := &stubAdmin{}
	rec, body := serve(newAdminMux(s), http.MethodGet, "/admin/analytics/today")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-03-01", body["day"])

	_, _ = serve(newAdminMux(s), http.MethodGet, "/admin/analytics/2024-02-28")
	assert.Equal(t, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), s.day)

	rec, _ = serve(newAdminMux(s), http.MethodGet, "/admin/analytics/yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_ConversationActions(t *testing.T) {
	s := &stubAdmin{}
	mux := newAdminMux(s)
	for _, action := range []string{"read", "close", "archive", "reopen"} {
		rec, _ := serve(mux, http.MethodPost, "/admin/conversations/c1/"+action)
		assert.Equal(t, http.StatusOK, rec.Code, action)
	}
	assert.Equal(t, []string{"read:c1", "close:c1", "archive:c1", "reopen:c1"}, s.actions)

	rec, _ := serve(mux, http.MethodPost, "/admin/conversations/c1/delete")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.actionErr = domain.ErrConversationArchived
	rec, _ = serve(mux, http.MethodPost, "/admin/conversations/c1/reopen")
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.actionErr = domain.ErrNotFound
	rec, _ = serve(mux, http.MethodPost, "/admin/conversations/c9/close")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadyHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("refused") }

	rec := httptest.NewRecorder()
	ReadyHandler(map[string]DependencyCheck{"redis": ok, "nats": ok}, domain.NopLogger{}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"READY"`)

	rec = httptest.NewRecorder()
	ReadyHandler(map[string]DependencyCheck{"redis": ok, "postgres": down}, domain.NopLogger{}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"disconnected"`)
}
