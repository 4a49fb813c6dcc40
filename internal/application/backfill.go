package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/contextkeys"
)

// BackfillService resyncs an account's direct-message history from the platform,
// pacing every call against the shared call budget.
type BackfillService struct {
	accounts       domain.AccountLookup
	gateway        domain.MessagingGateway
	conversations  *ConversationService
	limiter        *RateLimiter
	configProvider config.Provider
	logger         domain.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewBackfillService(
	accounts domain.AccountLookup,
	gateway domain.MessagingGateway,
	conversations *ConversationService,
	limiter *RateLimiter,
	configProvider config.Provider,
	logger domain.Logger,
) *BackfillService {
	return &BackfillService{
		accounts:       accounts,
		gateway:        gateway,
		conversations:  conversations,
		limiter:        limiter,
		configProvider: configProvider,
		logger:         logger,
		sleep:          sleepCtx,
	}
}

// Run pages through the account's conversations and ingests every message. Messages
// already stored are counted as skipped. A page that cannot be fetched after all
// attempts ends the run with an error; the report covers the pages done so far.
func (s *BackfillService) Run(ctx context.Context, job domain.BackfillJob) (domain.BackfillReport, error) {
	ctx = context.WithValue(ctx, contextkeys.AccountIDKey, job.AccountID)
	report := domain.BackfillReport{AccountID: job.AccountID}
	started := time.Now()

	account, err := s.accounts.GetAccount(ctx, job.AccountID)
	if err != nil {
		return report, fmt.Errorf("failed to load account %s for backfill: %w", job.AccountID, err)
	}
	if account.AccessToken == "" || account.InstagramAccountID == "" {
		return report, fmt.Errorf("account %s has no platform credentials", job.AccountID)
	}
	creds := domain.GatewayCredentials{AccessToken: account.AccessToken, InstagramAccountID: account.InstagramAccountID}

	s.logger.Info(ctx, "Backfill started", "reason", job.Reason)

	maxPages := s.configProvider.Get().Backfill.MaxPages
	cursor := ""
	for maxPages <= 0 || report.Pages < maxPages {
		page, err := s.fetchPage(ctx, job.AccountID, creds, cursor, &report)
		if err != nil {
			s.logReport(ctx, report, started, err)
			return report, err
		}
		report.Pages++

		for _, conv := range page.Conversations {
			report.Conversations++
			s.ingestConversation(ctx, account, conv, &report)
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	s.logReport(ctx, report, started, nil)
	return report, nil
}

func (s *BackfillService) fetchPage(
	ctx context.Context,
	accountID string,
	creds domain.GatewayCredentials,
	cursor string,
	report *domain.BackfillReport,
) (*domain.ConversationPage, error) {
	cfg := s.configProvider.Get().Backfill
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	maxWait := time.Duration(cfg.MaxWaitSeconds) * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if wait := s.limiter.ShouldWait(ctx, accountID); wait > 0 {
			if maxWait > 0 && wait > maxWait {
				return nil, fmt.Errorf("backfill for %s needs %s of budget wait: %w", accountID, wait, domain.ErrRateLimited)
			}
			s.logger.Info(ctx, "Backfill waiting for rate limit budget", "wait", wait.String())
			if err := s.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		page, err := s.gateway.ListConversations(ctx, creds, cursor)
		report.APICalls++
		s.limiter.RecordAPICall(ctx, accountID)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			return nil, fmt.Errorf("backfill page fetch failed permanently: %w", err)
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := s.limiter.CalculateBackoff(attempt)
		s.logger.Warn(ctx, "Backfill page fetch failed, retrying",
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("backfill page fetch failed after %d attempts: %w", maxAttempts, lastErr)
}

func (s *BackfillService) ingestConversation(ctx context.Context, account *domain.Account, conv domain.RemoteConversation, report *domain.BackfillReport) {
	participant := counterpart(conv.Participants, account.InstagramAccountID)

	for _, rm := range conv.Messages {
		in := InboundMessage{
			AccountID:         account.ID,
			PlatformMessageID: rm.ID,
			SenderPlatformID:  rm.FromID,
			Text:              rm.Text,
			Attachments:       rm.Attachments,
			SentAt:            rm.CreatedAt,
			Source:            "backfill",
		}
		if rm.FromID == account.InstagramAccountID {
			in.SenderType = domain.SenderUser
			in.ParticipantID = firstNonEmpty(participant.ID, rm.ToID)
		} else {
			in.SenderType = domain.SenderCustomer
			in.ParticipantID = rm.FromID
			in.ParticipantUsername = rm.FromName
		}
		if in.ParticipantUsername == "" {
			in.ParticipantUsername = participant.Username
		}

		res, err := s.conversations.IngestMessage(ctx, in)
		switch {
		case err != nil:
			report.MessagesSkipped++
			level := s.logger.Warn
			if !domain.IsValidationError(err) && !errors.Is(err, domain.ErrUniqueViolation) {
				level = s.logger.Error
			}
			level(ctx, "Backfill could not ingest message",
				"platformMessageID", rm.ID,
				"conversation", conv.ID,
				"error", err.Error(),
			)
		case res.Duplicate:
			report.MessagesSkipped++
		default:
			report.MessagesIngested++
		}
	}
}

// counterpart returns the first participant that is not the business account.
func counterpart(participants []domain.Actor, ownID string) domain.Actor {
	for _, p := range participants {
		if p.ID != ownID {
			return p
		}
	}
	return domain.Actor{}
}

func (s *BackfillService) logReport(ctx context.Context, report domain.BackfillReport, started time.Time, err error) {
	fields := []any{
		"pages", humanize.Comma(int64(report.Pages)),
		"conversations", humanize.Comma(int64(report.Conversations)),
		"messagesIngested", humanize.Comma(int64(report.MessagesIngested)),
		"messagesSkipped", humanize.Comma(int64(report.MessagesSkipped)),
		"apiCalls", humanize.Comma(int64(report.APICalls)),
		"duration", time.Since(started).Round(time.Millisecond).String(),
	}
	if err != nil {
		s.logger.Error(ctx, "Backfill aborted", append(fields, "error", err.Error())...)
		return
	}
	s.logger.Info(ctx, "Backfill finished", fields...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
