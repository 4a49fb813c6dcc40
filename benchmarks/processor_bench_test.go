package benchmarks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/daisi-webhook-worker/benchmarks/mocks"
	"gitlab.com/timkado/api/daisi-webhook-worker/benchmarks/utils"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	appredis "gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/redis"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/application"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

const (
	testAccountID  = "acct_bench"
	testBusinessID = "ig_business_bench"
)

type pipeline struct {
	processor *application.EventProcessor
	limiter   *application.RateLimiter
	convRepo  *mocks.MockConversationRepository
	msgRepo   *mocks.MockMessageRepository
	gateway   *mocks.MockGateway
	events    *utils.EventPayloadGenerator
}

// setupPipeline wires the real services onto miniredis-backed stores and in-memory repositories
func setupPipeline(b *testing.B, rules ...domain.AutoReplyRule) *pipeline {
	b.Helper()

	mr := miniredis.RunT(b)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { client.Close() })

	logger := domain.NopLogger{}
	cfg := config.NewStaticProvider(nil)
	p := &pipeline{
		convRepo: mocks.NewMockConversationRepository(),
		gateway:  &mocks.MockGateway{},
		events:   utils.NewEventPayloadGenerator(testAccountID, testBusinessID),
	}
	p.msgRepo = mocks.NewMockMessageRepository(p.convRepo)
	accounts := mocks.NewMockAccounts(&domain.Account{
		ID:                 testAccountID,
		InstagramAccountID: testBusinessID,
		AccessToken:        "bench-token",
		AutoReplyEnabled:   true,
		AutoSyncEnabled:    true,
		Status:             "active",
	})

	dedup := application.NewDeduplicator(appredis.NewTTLStoreAdapter(client, logger), cfg, logger)
	p.limiter = application.NewRateLimiter(appredis.NewRateWindowStoreAdapter(client, logger), cfg, logger)
	conversations := application.NewConversationService(p.convRepo, p.msgRepo, logger)
	engine := application.NewAutoReplyEngine(accounts, &mocks.MockRuleRepository{Rules: rules}, p.gateway, p.limiter, cfg, logger)
	p.processor = application.NewEventProcessor(
		dedup,
		application.NewNormalizer(logger),
		conversations,
		mocks.NewMockEngagementRepository(),
		engine,
		&mocks.MockAnalytics{},
		logger,
	)
	return p
}

// BenchmarkEventProcessing measures one job end to end, per event type
func BenchmarkEventProcessing(b *testing.B) {
	ctx := context.Background()

	for _, eventType := range domain.EventTypes {
		b.Run(eventType.String(), func(b *testing.B) {
			p := setupPipeline(b)
			events := make([]domain.WebhookEvent, b.N)
			for i := range events {
				events[i] = p.events.Generate(eventType, 100)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := p.processor.Process(ctx, events[i]); err != nil {
					b.Fatalf("Process failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkDuplicateDelivery measures the short-circuit path for redelivered jobs
func BenchmarkDuplicateDelivery(b *testing.B) {
	ctx := context.Background()
	p := setupPipeline(b)
	event := p.events.Generate(domain.EventTypeComment, 1)
	if _, err := p.processor.Process(ctx, event); err != nil {
		b.Fatalf("Initial process failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, _ := p.processor.Process(ctx, event)
		if !res.IsDuplicate {
			b.Fatal("expected duplicate")
		}
	}
}

// BenchmarkAutoReply measures comment processing that ends in a dispatched reply
func BenchmarkAutoReply(b *testing.B) {
	ctx := context.Background()
	rule := domain.AutoReplyRule{
		ID:        "price",
		AccountID: testAccountID,
		Trigger:   domain.TriggerKeyword,
		Pattern:   "price,cost,shipping",
		Response:  "Hi {username}, check your DMs!",
		Enabled:   true,
		Priority:  1,
	}
	p := setupPipeline(b, rule)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.processor.Process(ctx, p.events.Generate(domain.EventTypeComment, 1000)); err != nil {
			b.Fatalf("Process failed: %v", err)
		}
	}
	b.StopTimer()
	b.ReportMetric(float64(atomic.LoadInt64(&p.gateway.CommentReplies))/float64(b.N), "replies/op")
}

// BenchmarkConcurrentWorkers mirrors a pool of workers draining message jobs for a
// shared set of participants
func BenchmarkConcurrentWorkers(b *testing.B) {
	ctx := context.Background()

	for _, participants := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("Participants_%d", participants), func(b *testing.B) {
			p := setupPipeline(b)
			var failures int64

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if _, err := p.processor.Process(ctx, p.events.Generate(domain.EventTypeMessage, participants)); err != nil {
						atomic.AddInt64(&failures, 1)
					}
				}
			})
			b.StopTimer()

			if failures > 0 {
				b.Fatalf("%d jobs failed", failures)
			}
			if got := p.convRepo.Count(); got > participants {
				b.Fatalf("expected at most %d conversations, got %d", participants, got)
			}
		})
	}
}

// BenchmarkRateLimiter measures the sliding window check and record pair per outbound call
func BenchmarkRateLimiter(b *testing.B) {
	ctx := context.Background()
	p := setupPipeline(b)

	b.Run("CheckRateLimit", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			p.limiter.CheckRateLimit(ctx, testAccountID)
		}
	})

	b.Run("RecordAPICall", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			p.limiter.RecordAPICall(ctx, fmt.Sprintf("acct_%d", i%64))
		}
	})
}
