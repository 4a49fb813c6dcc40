package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/gateway"
	apphttp "gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/http"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/logger"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/middleware"
	appnats "gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/nats"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/postgres"
	appredis "gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/redis"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/application"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// Distinct types so Wire can tell the two pools apart.
type WebhookWorkerPool struct{ *appnats.WorkerPool }
type BackfillWorkerPool struct{ *appnats.WorkerPool }

type AdminAuthMiddleware func(http.Handler) http.Handler

// InitialZapLoggerProvider provides a basic *zap.Logger used while the config is loaded.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger, err = zap.NewDevelopment()
		if err != nil {
			logger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger, falling back to example logger: %v\n", err)
		}
	}

	cleanup := func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync initial zap logger: %v\n", syncErr)
		}
	}
	return logger, cleanup, nil
}

// App holds the long-running components started by Run.
type App struct {
	configProvider      config.Provider
	logger              domain.Logger
	httpServeMux        *http.ServeMux
	httpServer          *http.Server
	redisClient         *redis.Client
	db                  *sqlx.DB
	jetStream           *appnats.JetStreamAdapter
	webhookPool         WebhookWorkerPool
	backfillPool        BackfillWorkerPool
	scheduler           *application.BackfillScheduler
	adminHandlers       *apphttp.AdminHandlers
	adminAuthMiddleware AdminAuthMiddleware
}

func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	redisClient *redis.Client,
	db *sqlx.DB,
	jetStream *appnats.JetStreamAdapter,
	webhookPool WebhookWorkerPool,
	backfillPool BackfillWorkerPool,
	scheduler *application.BackfillScheduler,
	adminHandlers *apphttp.AdminHandlers,
	adminAuthMid AdminAuthMiddleware,
) (*App, func(), error) {
	app := &App{
		configProvider:      cfgProvider,
		logger:              appLogger,
		httpServeMux:        mux,
		httpServer:          server,
		redisClient:         redisClient,
		db:                  db,
		jetStream:           jetStream,
		webhookPool:         webhookPool,
		backfillPool:        backfillPool,
		scheduler:           scheduler,
		adminHandlers:       adminHandlers,
		adminAuthMiddleware: adminAuthMid,
	}

	cleanup := func() {
		app.logger.Info(context.Background(), "Running app cleanup...")
	}
	return app, cleanup, nil
}

// ConfigProvider provides the application configuration. appCtx bounds the config watcher.
func ConfigProvider(appCtx context.Context, logger *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(appCtx, logger)
}

func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	return logger.NewZapAdapter(cfgProvider, cfgProvider.Get().App.ServiceName)
}

func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides the admin/probe HTTP server.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	appCfg := cfgProvider.Get()

	writeTimeout := 10 * time.Second
	if appCfg.App.WriteTimeoutSeconds > 0 {
		writeTimeout = time.Duration(appCfg.App.WriteTimeoutSeconds) * time.Second
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", appCfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// RedisClientProvider provides a Redis client and a cleanup function.
func RedisClientProvider(cfgProvider config.Provider, appLogger domain.Logger) (*redis.Client, func(), error) {
	appCfg := cfgProvider.Get()
	client := redis.NewClient(&redis.Options{
		Addr:     appCfg.Redis.Address,
		Password: appCfg.Redis.Password,
		DB:       appCfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		appLogger.Error(context.Background(), "Failed to connect to Redis", "error", err.Error(), "address", appCfg.Redis.Address)
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", appCfg.Redis.Address, err)
	}
	cleanup := func() {
		client.Close()
		appLogger.Info(context.Background(), "Redis connection closed")
	}
	appLogger.Info(context.Background(), "Successfully connected to Redis", "address", appCfg.Redis.Address)
	return client, cleanup, nil
}

func PostgresProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*sqlx.DB, func(), error) {
	return postgres.NewDB(ctx, cfgProvider, appLogger)
}

func JetStreamProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*appnats.JetStreamAdapter, func(), error) {
	return appnats.NewJetStreamAdapter(ctx, cfgProvider, appLogger)
}

// FailedReplayerProvider exists because the replayer's publisher port is unexported.
func FailedReplayerProvider(stream *appnats.JetStreamAdapter, publisher *appnats.Publisher, cfgProvider config.Provider, appLogger domain.Logger) *appnats.FailedReplayer {
	return appnats.NewFailedReplayer(stream, publisher, cfgProvider, appLogger)
}

// WebhookWorkerPoolProvider builds the pool that drains webhook.events.>.
func WebhookWorkerPoolProvider(
	stream *appnats.JetStreamAdapter,
	publisher *appnats.Publisher,
	processor *application.EventProcessor,
	cfgProvider config.Provider,
	appLogger domain.Logger,
) WebhookWorkerPool {
	cfg := cfgProvider.Get()
	spec := appnats.PoolSpec{
		Name:        "webhook",
		Subject:     appnats.EventSubjectFilter,
		Durable:     cfg.NATS.EventsConsumer,
		Concurrency: cfg.Worker.WebhookConcurrency,
		Handler:     appnats.NewWebhookEventHandler(processor, publisher),
	}
	return WebhookWorkerPool{appnats.NewWorkerPool(spec, stream, publisher, cfgProvider, appLogger)}
}

// BackfillWorkerPoolProvider builds the pool that drains webhook.backfill.>.
func BackfillWorkerPoolProvider(
	stream *appnats.JetStreamAdapter,
	publisher *appnats.Publisher,
	backfill *application.BackfillService,
	cfgProvider config.Provider,
	appLogger domain.Logger,
) BackfillWorkerPool {
	cfg := cfgProvider.Get()
	spec := appnats.PoolSpec{
		Name:        "backfill",
		Subject:     appnats.BackfillSubjectFilter,
		Durable:     cfg.NATS.BackfillConsumer,
		Concurrency: cfg.Worker.BackfillConcurrency,
		Handler:     appnats.NewBackfillHandler(backfill),
	}
	return BackfillWorkerPool{appnats.NewWorkerPool(spec, stream, publisher, cfgProvider, appLogger)}
}

func AdminHandlersProvider(
	dedup *application.Deduplicator,
	limiter *application.RateLimiter,
	publisher *appnats.Publisher,
	scheduler *application.BackfillScheduler,
	replayer *appnats.FailedReplayer,
	analytics *appredis.AnalyticsStoreAdapter,
	conversations *application.ConversationService,
	appLogger domain.Logger,
) *apphttp.AdminHandlers {
	return apphttp.NewAdminHandlers(dedup, limiter, publisher, scheduler, replayer, analytics, conversations, appLogger)
}

func AdminAuthMiddlewareProvider(cfgProvider config.Provider, appLogger domain.Logger) AdminAuthMiddleware {
	return middleware.AdminAPIKeyAuthMiddleware(cfgProvider, appLogger)
}

// ProviderSet is the Wire provider set for the entire application.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,

	// Infrastructure
	RedisClientProvider,
	PostgresProvider,
	JetStreamProvider,

	appredis.NewTTLStoreAdapter,
	wire.Bind(new(domain.TTLStore), new(*appredis.TTLStoreAdapter)),
	appredis.NewRateWindowStoreAdapter,
	wire.Bind(new(domain.RateWindowStore), new(*appredis.RateWindowStoreAdapter)),
	appredis.NewAnalyticsStoreAdapter,
	wire.Bind(new(domain.AnalyticsRecorder), new(*appredis.AnalyticsStoreAdapter)),

	postgres.NewConversationRepository,
	wire.Bind(new(domain.ConversationRepository), new(*postgres.ConversationRepository)),
	postgres.NewMessageRepository,
	wire.Bind(new(domain.MessageRepository), new(*postgres.MessageRepository)),
	postgres.NewEngagementRepository,
	wire.Bind(new(domain.EngagementRepository), new(*postgres.EngagementRepository)),
	postgres.NewAutoReplyRuleRepository,
	wire.Bind(new(domain.AutoReplyRuleRepository), new(*postgres.AutoReplyRuleRepository)),
	postgres.NewAccountRepository,
	wire.Bind(new(domain.AccountLookup), new(*postgres.AccountRepository)),
	wire.Bind(new(domain.AccountDirectory), new(*postgres.AccountRepository)),

	gateway.NewInstagramClient,
	wire.Bind(new(domain.MessagingGateway), new(*gateway.InstagramClient)),

	appnats.NewPublisher,
	wire.Bind(new(domain.JobPublisher), new(*appnats.Publisher)),
	FailedReplayerProvider,

	// Application services
	application.NewDeduplicator,
	application.NewRateLimiter,
	application.NewNormalizer,
	application.NewConversationService,
	application.NewAutoReplyEngine,
	application.NewEventProcessor,
	application.NewBackfillService,
	application.NewBackfillScheduler,

	// Workers and HTTP surface
	WebhookWorkerPoolProvider,
	BackfillWorkerPoolProvider,
	AdminHandlersProvider,
	AdminAuthMiddlewareProvider,
	NewApp,
)
