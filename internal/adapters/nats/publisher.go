package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// Publisher puts jobs on the stream and announces results on core NATS.
type Publisher struct {
	js     nats.JetStreamContext
	nc     *nats.Conn
	logger domain.Logger
	now    func() time.Time
}

func NewPublisher(stream *JetStreamAdapter, logger domain.Logger) *Publisher {
	return &Publisher{
		js:     stream.JetStreamContext(),
		nc:     stream.NatsConn(),
		logger: logger,
		now:    time.Now,
	}
}

// PublishWebhookEvent enqueues a webhook job. The Nats-Msg-Id header lets the stream drop
// upstream retries of the same event inside its duplicate window.
func (p *Publisher) PublishWebhookEvent(ctx context.Context, event domain.WebhookEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode webhook job %s: %w", event.EventID, err)
	}
	subject := EventSubject(event.EventType)
	msgID := fmt.Sprintf("%s:%s", event.EventType, event.EventID)
	if _, err := p.js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish webhook job to %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) PublishBackfill(ctx context.Context, job domain.BackfillJob) error {
	if job.RequestedAt.IsZero() {
		job.RequestedAt = p.now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode backfill job for %s: %w", job.AccountID, err)
	}
	subject := BackfillSubject(job.AccountID)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish backfill job to %s: %w", subject, err)
	}
	p.logger.Info(ctx, "Backfill job enqueued", "accountID", job.AccountID, "reason", job.Reason)
	return nil
}

// PublishFailed stores a job that exhausted its attempts in the failed set.
func (p *Publisher) PublishFailed(ctx context.Context, job domain.FailedJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode failed job: %w", err)
	}
	subject := FailedSubject(job.Subject)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish failed job to %s: %w", subject, err)
	}
	return nil
}

// Republish puts a raw job payload back on its original subject. msgID must differ from
// the first publication or the stream would treat it as a duplicate.
func (p *Publisher) Republish(ctx context.Context, subject string, data []byte, msgID string) error {
	if _, err := p.js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to republish job to %s: %w", subject, err)
	}
	return nil
}

// PublishResult announces a job result. Results are fire-and-forget.
func (p *Publisher) PublishResult(ctx context.Context, result domain.JobResult) {
	data, err := json.Marshal(result)
	if err != nil {
		p.logger.Error(ctx, "Failed to encode job result", "error", err.Error())
		return
	}
	if err := p.nc.Publish(ResultSubject(result.EventType), data); err != nil {
		p.logger.Warn(ctx, "Failed to publish job result", "eventID", result.EventID, "error", err.Error())
	}
}
