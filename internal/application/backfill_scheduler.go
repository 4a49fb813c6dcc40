package application

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// BackfillScheduler enqueues a backfill job for every auto-sync account on a cron schedule.
type BackfillScheduler struct {
	directory      domain.AccountDirectory
	publisher      domain.JobPublisher
	configProvider config.Provider
	logger         domain.Logger
	now            func() time.Time
}

func NewBackfillScheduler(directory domain.AccountDirectory, publisher domain.JobPublisher, configProvider config.Provider, logger domain.Logger) *BackfillScheduler {
	return &BackfillScheduler{
		directory:      directory,
		publisher:      publisher,
		configProvider: configProvider,
		logger:         logger,
		now:            time.Now,
	}
}

// Run blocks until ctx is done. The cron expression is re-read every cycle so a
// config reload takes effect at the next tick; an empty expression idles.
func (s *BackfillScheduler) Run(ctx context.Context) {
	for {
		expr := s.configProvider.Get().Backfill.Cron
		if expr == "" {
			if !waitOrDone(ctx, time.Minute) {
				return
			}
			continue
		}

		next, err := gronx.NextTickAfter(expr, s.now(), false)
		if err != nil {
			s.logger.Error(ctx, "Invalid backfill cron expression", "cron", expr, "error", err.Error())
			if !waitOrDone(ctx, 30*time.Second) {
				return
			}
			continue
		}

		if !waitOrDone(ctx, next.Sub(s.now())) {
			return
		}
		if _, err := s.EnqueueAll(ctx, "scheduled"); err != nil {
			s.logger.Error(ctx, "Scheduled backfill enqueue failed", "error", err.Error())
		}
	}
}

// EnqueueAll publishes one backfill job per auto-sync account and returns how many were queued.
func (s *BackfillScheduler) EnqueueAll(ctx context.Context, reason string) (int, error) {
	ids, err := s.directory.ListAutoSyncAccountIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list auto-sync accounts: %w", err)
	}

	queued := 0
	var firstErr error
	for _, id := range ids {
		job := domain.BackfillJob{AccountID: id, Reason: reason, RequestedAt: s.now().UTC()}
		if err := s.publisher.PublishBackfill(ctx, job); err != nil {
			s.logger.Warn(ctx, "Failed to enqueue backfill", "accountID", id, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		queued++
	}
	s.logger.Info(ctx, "Backfill jobs enqueued", "queued", queued, "accounts", len(ids), "reason", reason)
	if firstErr != nil {
		return queued, fmt.Errorf("enqueued %d of %d backfill jobs: %w", queued, len(ids), firstErr)
	}
	return queued, nil
}

// waitOrDone sleeps for d and reports false if ctx ended first.
func waitOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	return sleepCtx(ctx, d) == nil
}
