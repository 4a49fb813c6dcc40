package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apphttp "gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/http"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/middleware"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/safego"
)

// Run registers the HTTP routes, starts the worker pools and the backfill scheduler, and
// blocks until the HTTP server stops.
func (a *App) Run(ctx context.Context) error {
	appCfg := a.configProvider.Get()
	version := "unknown"
	serviceName := "daisi-webhook-worker"
	if appCfg.App.Version != "" {
		version = appCfg.App.Version
	}
	if appCfg.App.ServiceName != "" {
		serviceName = appCfg.App.ServiceName
	}
	a.logger.Info(ctx, "Starting application", "service_name", serviceName, "version", version)

	a.registerRoutes(ctx)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if err := a.webhookPool.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start webhook workers: %w", err)
	}
	if err := a.backfillPool.Start(runCtx); err != nil {
		_ = a.webhookPool.Stop(context.Background())
		return fmt.Errorf("failed to start backfill workers: %w", err)
	}
	a.logger.Info(ctx, "Worker pools started",
		"webhookConcurrency", appCfg.Worker.WebhookConcurrency,
		"backfillConcurrency", appCfg.Worker.BackfillConcurrency,
		"maxDeliver", appCfg.Worker.MaxDeliver,
	)

	safego.Execute(runCtx, a.logger, "BackfillScheduler", func() {
		a.scheduler.Run(runCtx)
	})

	safego.Execute(ctx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}

		shutdownTimeout := 30 * time.Second
		if secs := a.configProvider.Get().App.ShutdownTimeoutSeconds; secs > 0 {
			shutdownTimeout = time.Duration(secs) * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop fetching first so in-flight jobs settle before connections close.
		cancelRun()
		if err := a.webhookPool.Stop(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "Webhook workers did not stop cleanly", "error", err.Error())
		}
		if err := a.backfillPool.Stop(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "Backfill workers did not stop cleanly", "error", err.Error())
		}

		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "HTTP server graceful shutdown failed", "error", err.Error())
		}
		a.logger.Info(context.Background(), "HTTP server shut down.")
	})

	a.logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %d", appCfg.Server.HTTPPort))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.logger.Info(ctx, "Application shut down gracefully or server closed.")
	return nil
}

func (a *App) registerRoutes(ctx context.Context) {
	a.httpServeMux.Handle("GET /health", middleware.RequestIDMiddleware(apphttp.HealthHandler()))

	checks := map[string]apphttp.DependencyCheck{
		"redis":    func(ctx context.Context) error { return a.redisClient.Ping(ctx).Err() },
		"postgres": func(ctx context.Context) error { return a.db.PingContext(ctx) },
		"nats":     a.jetStream.Ping,
	}
	a.httpServeMux.Handle("GET /ready", middleware.RequestIDMiddleware(apphttp.ReadyHandler(checks, a.logger)))

	a.httpServeMux.Handle("GET /metrics", middleware.RequestIDMiddleware(promhttp.Handler()))
	a.logger.Info(ctx, "Prometheus metrics endpoint registered at /metrics")

	accessLog := middleware.AccessLogMiddleware(a.logger)
	a.adminHandlers.Register(a.httpServeMux, func(h http.Handler) http.Handler {
		return middleware.RequestIDMiddleware(accessLog(a.adminAuthMiddleware(h)))
	})
	a.logger.Info(ctx, "Admin endpoints registered under /admin")
}
