package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

type resultSink interface {
	PublishResult(ctx context.Context, result domain.JobResult)
}

// NewWebhookEventHandler decodes webhook jobs, runs them through the processor and
// announces each result.
func NewWebhookEventHandler(processor domain.WebhookEventProcessor, results resultSink) JobHandler {
	return func(ctx context.Context, msg *nats.Msg) error {
		var event domain.WebhookEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrUndecodableJob, err)
		}
		if event.EventID == "" || event.AccountID == "" {
			return fmt.Errorf("%w: eventId and accountId are required", domain.ErrUndecodableJob)
		}

		result, err := processor.Process(ctx, event)
		results.PublishResult(ctx, result)
		if errors.Is(err, domain.ErrUnsupportedEventType) {
			// Retrying cannot teach the normalizer a new event type.
			return fmt.Errorf("%w: %v", domain.ErrUndecodableJob, err)
		}
		return err
	}
}

// NewBackfillHandler decodes backfill jobs and runs them.
func NewBackfillHandler(runner domain.BackfillRunner) JobHandler {
	return func(ctx context.Context, msg *nats.Msg) error {
		var job domain.BackfillJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrUndecodableJob, err)
		}
		if job.AccountID == "" {
			return fmt.Errorf("%w: accountId is required", domain.ErrUndecodableJob)
		}
		_, err := runner.Run(ctx, job)
		if errors.Is(err, domain.ErrAccountNotFound) {
			return fmt.Errorf("%w: %v", domain.ErrUndecodableJob, err)
		}
		return err
	}
}
