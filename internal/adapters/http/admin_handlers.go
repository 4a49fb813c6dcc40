package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// DedupClearer wipes the duplicate-suppression state.
type DedupClearer interface {
	ClearAll(ctx context.Context) (int64, error)
}

// RateLimitInspector reports an account's remaining call budget.
type RateLimitInspector interface {
	CheckRateLimit(ctx context.Context, accountID string) domain.RateLimitStatus
}

// BackfillEnqueuer schedules backfill jobs for every auto-sync account.
type BackfillEnqueuer interface {
	EnqueueAll(ctx context.Context, reason string) (int, error)
}

// FailedJobReplayer drains the failed set back into the queue.
type FailedJobReplayer interface {
	Pending(ctx context.Context) (uint64, error)
	Replay(ctx context.Context, max int) (int, error)
}

// AnalyticsReader reads the per-day processing counters.
type AnalyticsReader interface {
	DailyCounters(ctx context.Context, day time.Time) (map[string]string, error)
}

// ConversationAdmin exposes conversation housekeeping.
type ConversationAdmin interface {
	MarkAllRead(ctx context.Context, conversationID string) (int64, error)
	CloseConversation(ctx context.Context, conversationID string) error
	ArchiveConversation(ctx context.Context, conversationID string) error
	ReopenConversation(ctx context.Context, conversationID string) error
}

// AdminHandlers serves the operational endpoints under /admin.
type AdminHandlers struct {
	dedup         DedupClearer
	rateLimits    RateLimitInspector
	publisher     domain.JobPublisher
	backfills     BackfillEnqueuer
	failed        FailedJobReplayer
	analytics     AnalyticsReader
	conversations ConversationAdmin
	logger        domain.Logger
	now           func() time.Time
}

func NewAdminHandlers(
	dedup DedupClearer,
	rateLimits RateLimitInspector,
	publisher domain.JobPublisher,
	backfills BackfillEnqueuer,
	failed FailedJobReplayer,
	analytics AnalyticsReader,
	conversations ConversationAdmin,
	logger domain.Logger,
) *AdminHandlers {
	return &AdminHandlers{
		dedup:         dedup,
		rateLimits:    rateLimits,
		publisher:     publisher,
		backfills:     backfills,
		failed:        failed,
		analytics:     analytics,
		conversations: conversations,
		logger:        logger,
		now:           time.Now,
	}
}

// Register mounts every admin route on mux behind the given middleware.
func (h *AdminHandlers) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"POST /admin/dedup/clear":                 h.ClearDedup,
		"POST /admin/events":                      h.EnqueueEvent,
		"GET /admin/rate-limit/{accountID}":       h.RateLimit,
		"POST /admin/backfill/{accountID}":        h.EnqueueBackfill,
		"POST /admin/backfill":                    h.EnqueueBackfillAll,
		"GET /admin/failed":                       h.FailedPending,
		"POST /admin/failed/replay":               h.ReplayFailed,
		"GET /admin/analytics/{day}":              h.Analytics,
		"POST /admin/conversations/{id}/{action}": h.ConversationAction,
	}
	for pattern, handler := range routes {
		mux.Handle(pattern, wrap(handler))
	}
}

func (h *AdminHandlers) ClearDedup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.dedup.ClearAll(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "Failed to clear dedup state", "error", err.Error())
		domain.NewErrorResponse(domain.ErrServiceUnavailable, "Failed to clear dedup state", err.Error()).WriteJSON(w, http.StatusServiceUnavailable)
		return
	}
	h.logger.Info(r.Context(), "Dedup state cleared via admin endpoint", "keysRemoved", removed)
	writeJSON(r.Context(), h.logger, w, http.StatusOK, map[string]any{"cleared": removed})
}

func (h *AdminHandlers) RateLimit(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountID")
	writeJSON(r.Context(), h.logger, w, http.StatusOK, h.rateLimits.CheckRateLimit(r.Context(), accountID))
}

func (h *AdminHandlers) EnqueueBackfill(w http.ResponseWriter, r *http.Request) {
	job := domain.BackfillJob{
		AccountID:   r.PathValue("accountID"),
		Reason:      "manual",
		RequestedAt: h.now().UTC(),
	}
	if err := h.publisher.PublishBackfill(r.Context(), job); err != nil {
		h.logger.Error(r.Context(), "Failed to enqueue backfill", "accountID", job.AccountID, "error", err.Error())
		domain.NewErrorResponse(domain.ErrServiceUnavailable, "Failed to enqueue backfill", err.Error()).WriteJSON(w, http.StatusServiceUnavailable)
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusAccepted, job)
}

// EnqueueEvent puts a webhook job on the queue by hand, e.g. to reprocess an event
// whose dedup window has passed.
func (h *AdminHandlers) EnqueueEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.WebhookEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&event); err != nil {
		domain.NewErrorResponse(domain.ErrBadRequest, "Invalid event", err.Error()).WriteJSON(w, http.StatusBadRequest)
		return
	}
	if !event.EventType.Valid() || event.EventID == "" || event.AccountID == "" || event.Payload == nil {
		domain.NewErrorResponse(domain.ErrBadRequest, "Invalid event", "eventType, eventId, accountId and payload are required.").WriteJSON(w, http.StatusBadRequest)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now().UTC()
	}

	if err := h.publisher.PublishWebhookEvent(r.Context(), event); err != nil {
		h.logger.Error(r.Context(), "Failed to enqueue webhook event", "eventID", event.EventID, "error", err.Error())
		domain.NewErrorResponse(domain.ErrServiceUnavailable, "Failed to enqueue event", err.Error()).WriteJSON(w, http.StatusServiceUnavailable)
		return
	}
	h.logger.Info(r.Context(), "Webhook event enqueued via admin endpoint", "eventID", event.EventID, "eventType", event.EventType.String())
	writeJSON(r.Context(), h.logger, w, http.StatusAccepted, map[string]any{
		"eventId":   event.EventID,
		"eventType": event.EventType,
	})
}

func (h *AdminHandlers) EnqueueBackfillAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.backfills.EnqueueAll(r.Context(), "manual")
	if err != nil {
		h.logger.Error(r.Context(), "Failed to enqueue backfills", "enqueued", n, "error", err.Error())
		domain.NewErrorResponse(domain.ErrServiceUnavailable, "Failed to enqueue every backfill", err.Error()).WriteJSON(w, http.StatusServiceUnavailable)
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusAccepted, map[string]any{"enqueued": n})
}

func (h *AdminHandlers) FailedPending(w http.ResponseWriter, r *http.Request) {
	n, err := h.failed.Pending(r.Context())
	if err != nil {
		domain.NewErrorResponse(domain.ErrServiceUnavailable, "Failed to inspect the failed set", err.Error()).WriteJSON(w, http.StatusServiceUnavailable)
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusOK, map[string]any{"pending": n})
}

func (h *AdminHandlers) ReplayFailed(w http.ResponseWriter, r *http.Request) {
	max := 100
	if raw := r.URL.Query().Get("max"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			domain.NewErrorResponse(domain.ErrBadRequest, "Invalid max", "max must be a positive integer.").WriteJSON(w, http.StatusBadRequest)
			return
		}
		max = v
	}

	n, err := h.failed.Replay(r.Context(), max)
	if err != nil {
		h.logger.Error(r.Context(), "Failed job replay stopped early", "replayed", n, "error", err.Error())
		domain.NewErrorResponse(domain.ErrServiceUnavailable, "Replay stopped early", err.Error()).WriteJSON(w, http.StatusServiceUnavailable)
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusOK, map[string]any{"replayed": n})
}

func (h *AdminHandlers) Analytics(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("day")
	day := h.now().UTC()
	if raw != "today" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			domain.NewErrorResponse(domain.ErrBadRequest, "Invalid day", "Use YYYY-MM-DD or 'today'.").WriteJSON(w, http.StatusBadRequest)
			return
		}
		day = parsed
	}

	counters, err := h.analytics.DailyCounters(r.Context(), day)
	if err != nil {
		domain.NewErrorResponse(domain.ErrServiceUnavailable, "Failed to read analytics", err.Error()).WriteJSON(w, http.StatusServiceUnavailable)
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusOK, map[string]any{
		"day":      day.Format("2006-01-02"),
		"counters": counters,
	})
}

func (h *AdminHandlers) ConversationAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	var (
		marked int64
		err    error
	)
	switch action := r.PathValue("action"); action {
	case "read":
		marked, err = h.conversations.MarkAllRead(ctx, id)
	case "close":
		err = h.conversations.CloseConversation(ctx, id)
	case "archive":
		err = h.conversations.ArchiveConversation(ctx, id)
	case "reopen":
		err = h.conversations.ReopenConversation(ctx, id)
	default:
		domain.NewErrorResponse(domain.ErrResourceNotFound, "Unknown action", "Use read, close, archive or reopen.").WriteJSON(w, http.StatusNotFound)
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		domain.NewErrorResponse(domain.ErrResourceNotFound, "Conversation not found", err.Error()).WriteJSON(w, http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrConversationArchived):
		domain.NewErrorResponse(domain.ErrConflict, "Conversation is archived", err.Error()).WriteJSON(w, http.StatusConflict)
		return
	default:
		h.logger.Error(ctx, "Conversation action failed", "conversationID", id, "error", err.Error())
		domain.NewErrorResponse(domain.ErrInternal, "Conversation action failed", err.Error()).WriteJSON(w, http.StatusInternalServerError)
		return
	}
	writeJSON(ctx, h.logger, w, http.StatusOK, map[string]any{"conversationId": id, "markedRead": marked})
}

func writeJSON(ctx context.Context, logger domain.Logger, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error(ctx, "Failed to encode response", "error", err.Error())
	}
}
