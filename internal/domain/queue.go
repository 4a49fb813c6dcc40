package domain

import "context"

// JobPublisher enqueues work onto the durable job queue.
type JobPublisher interface {
	PublishWebhookEvent(ctx context.Context, event WebhookEvent) error
	PublishBackfill(ctx context.Context, job BackfillJob) error
}

// WebhookEventProcessor handles one webhook job.
type WebhookEventProcessor interface {
	Process(ctx context.Context, event WebhookEvent) (JobResult, error)
}

// BackfillRunner handles one backfill job.
type BackfillRunner interface {
	Run(ctx context.Context, job BackfillJob) (BackfillReport, error)
}
