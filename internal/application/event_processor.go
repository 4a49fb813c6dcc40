package application

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/metrics"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/contextkeys"
)

// EventProcessor runs one webhook job through dedup, normalization, persistence,
// optional auto-reply and bookkeeping.
type EventProcessor struct {
	dedup         *Deduplicator
	normalizer    *Normalizer
	conversations *ConversationService
	engagement    domain.EngagementRepository
	autoReply     *AutoReplyEngine
	analytics     domain.AnalyticsRecorder
	logger        domain.Logger
	now           func() time.Time
}

func NewEventProcessor(
	dedup *Deduplicator,
	normalizer *Normalizer,
	conversations *ConversationService,
	engagement domain.EngagementRepository,
	autoReply *AutoReplyEngine,
	analytics domain.AnalyticsRecorder,
	logger domain.Logger,
) *EventProcessor {
	return &EventProcessor{
		dedup:         dedup,
		normalizer:    normalizer,
		conversations: conversations,
		engagement:    engagement,
		autoReply:     autoReply,
		analytics:     analytics,
		logger:        logger,
		now:           time.Now,
	}
}

// replyTarget carries what auto-reply needs from a persisted event.
type replyTarget struct {
	text     string
	targetID string // comment ID or recipient ID
	username string
}

// Process handles one job. A returned error means the job failed and should be retried
// by the queue; the result is populated either way.
func (p *EventProcessor) Process(ctx context.Context, event domain.WebhookEvent) (domain.JobResult, error) {
	start := p.now()
	ctx = context.WithValue(ctx, contextkeys.EventIDKey, event.EventID)
	ctx = context.WithValue(ctx, contextkeys.EventTypeKey, event.EventType.String())
	ctx = context.WithValue(ctx, contextkeys.AccountIDKey, event.AccountID)

	result := domain.JobResult{EventID: event.EventID, EventType: event.EventType}

	if p.dedup.IsDuplicate(ctx, event.EventType, event.EventID, event.Payload) {
		result.Success = true
		result.IsDuplicate = true
		return p.finish(ctx, start, result, nil), nil
	}

	target, err := p.handle(ctx, event)
	if err != nil {
		// Let the queue's redelivery through the dedup gate.
		p.dedup.Release(ctx, event.EventType, event.EventID, event.Payload)
		result.Error = err.Error()
		return p.finish(ctx, start, result, err), err
	}

	if target != nil {
		result.AutoReplySent = p.runAutoReply(ctx, event, target)
	}

	p.dedup.MarkAsProcessed(ctx, event.EventType, event.EventID)
	result.Success = true
	return p.finish(ctx, start, result, nil), nil
}

// handle normalizes, validates and persists the event. The returned target is non-nil
// when the event is new and may earn an auto-reply.
func (p *EventProcessor) handle(ctx context.Context, event domain.WebhookEvent) (*replyTarget, error) {
	normalized, err := p.normalizer.NormalizeEvent(ctx, event.EventType, event.Payload)
	if err != nil {
		return nil, err
	}
	if err := p.normalizer.ValidateNormalizedEvent(normalized, event.EventType); err != nil {
		return nil, err
	}

	switch ev := normalized.(type) {
	case *domain.Comment:
		inserted, err := p.engagement.SaveComment(ctx, event.AccountID, ev)
		if err != nil {
			return nil, fmt.Errorf("failed to save comment %s: %w", ev.ID, err)
		}
		if !inserted {
			return nil, nil
		}
		return &replyTarget{text: ev.Text, targetID: ev.ID, username: ev.From.Username}, nil

	case *domain.Mention:
		if _, err := p.engagement.SaveMention(ctx, event.AccountID, ev); err != nil {
			return nil, fmt.Errorf("failed to save mention %s: %w", ev.ID, err)
		}
		return nil, nil

	case *domain.DirectMessage:
		in := InboundMessage{
			AccountID:           event.AccountID,
			PlatformMessageID:   ev.ID,
			ParticipantID:       ev.ParticipantID(),
			ParticipantUsername: ev.From.Username,
			SenderType:          domain.SenderCustomer,
			SenderPlatformID:    ev.From.ID,
			Text:                ev.Text,
			Attachments:         ev.Attachments,
			SentAt:              ev.Timestamp,
			Source:              "webhook",
		}
		if ev.IsEcho {
			in.SenderType = domain.SenderUser
			in.ParticipantUsername = ""
		}
		res, err := p.conversations.IngestMessage(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("failed to ingest message %s: %w", ev.ID, err)
		}
		if res.Duplicate || ev.IsEcho {
			return nil, nil
		}
		return &replyTarget{text: ev.Text, targetID: ev.From.ID, username: ev.From.Username}, nil

	case *domain.StoryInsight:
		if err := p.engagement.SaveStoryInsight(ctx, event.AccountID, ev); err != nil {
			return nil, fmt.Errorf("failed to save story insight %s/%s: %w", ev.MediaID, ev.Metric, err)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %T", domain.ErrUnsupportedEventType, normalized)
}

// runAutoReply never fails the job; every problem downgrades to "not sent".
func (p *EventProcessor) runAutoReply(ctx context.Context, event domain.WebhookEvent, target *replyTarget) bool {
	if !event.EventType.AutoReplyEligible() {
		return false
	}
	decision, err := p.autoReply.ShouldAutoReply(ctx, event.AccountID, target.text, event.EventType)
	if err != nil {
		p.logger.Warn(ctx, "Auto-reply evaluation failed", "error", err.Error())
		return false
	}
	if !decision.Should {
		p.logger.Debug(ctx, "No auto-reply", "reason", decision.Reason)
		return false
	}

	response := RenderResponse(decision.Rule, target.username)
	var res domain.ReplyResult
	if event.EventType == domain.EventTypeComment {
		res = p.autoReply.ReplyToComment(ctx, event.AccountID, target.targetID, response)
	} else {
		res = p.autoReply.ReplyToMessage(ctx, event.AccountID, target.targetID, response)
	}
	if !res.Sent {
		p.logger.Info(ctx, "Auto-reply not sent",
			"ruleID", decision.Rule.ID,
			"reason", res.Reason,
			"retryable", res.Retryable,
		)
	}
	return res.Sent
}

func (p *EventProcessor) finish(ctx context.Context, start time.Time, result domain.JobResult, procErr error) domain.JobResult {
	elapsed := p.now().Sub(start)
	result.ProcessingTimeMs = elapsed.Milliseconds()

	outcome := "success"
	switch {
	case result.IsDuplicate:
		outcome = "duplicate"
	case procErr != nil:
		outcome = "failed"
	}
	metrics.ObserveJob(result.EventType.String(), outcome, elapsed)

	if p.analytics != nil {
		sample := domain.AnalyticsSample{
			EventType:     result.EventType,
			Duplicate:     result.IsDuplicate,
			AutoReplySent: result.AutoReplySent,
			Failed:        procErr != nil,
			Latency:       elapsed,
			At:            p.now(),
		}
		if err := p.analytics.RecordEvent(ctx, sample); err != nil {
			p.logger.Warn(ctx, "Failed to record analytics", "error", err.Error())
		}
	}

	if procErr != nil {
		p.logger.Error(ctx, "Webhook event processing failed",
			"processingTimeMs", result.ProcessingTimeMs,
			"error", procErr.Error(),
		)
	} else {
		p.logger.Info(ctx, "Webhook event processed",
			"duplicate", result.IsDuplicate,
			"autoReplySent", result.AutoReplySent,
			"processingTimeMs", result.ProcessingTimeMs,
		)
	}
	return result
}
