package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

const (
	eventsSubjectPrefix   = "webhook.events"
	backfillSubjectPrefix = "webhook.backfill"
	failedSubjectPrefix   = "webhook.failed"
	resultsSubjectPrefix  = "webhook.results"

	// Pool subscriptions.
	EventSubjectFilter    = eventsSubjectPrefix + ".>"
	BackfillSubjectFilter = backfillSubjectPrefix + ".>"
	FailedSubjectFilter   = failedSubjectPrefix + ".>"
)

// EventSubject is the queue subject for webhook jobs of one event type.
func EventSubject(eventType domain.EventType) string {
	return fmt.Sprintf("%s.%s", eventsSubjectPrefix, eventType)
}

// BackfillSubject is the queue subject for backfill jobs of one account.
func BackfillSubject(accountID string) string {
	return fmt.Sprintf("%s.%s", backfillSubjectPrefix, accountID)
}

// FailedSubject derives the failed set subject from the subject the job originally arrived on,
// e.g. webhook.events.comment -> webhook.failed.events.comment.
func FailedSubject(originalSubject string) string {
	if rest, ok := strings.CutPrefix(originalSubject, "webhook."); ok && rest != "" {
		return failedSubjectPrefix + "." + rest
	}
	return failedSubjectPrefix + ".unknown"
}

// ResultSubject is the core NATS subject job results are announced on.
func ResultSubject(eventType domain.EventType) string {
	return fmt.Sprintf("%s.%s", resultsSubjectPrefix, eventType)
}

// JetStreamAdapter owns the NATS connection and the job stream.
type JetStreamAdapter struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger domain.Logger
	cfg    config.NATSConfig
}

// NewJetStreamAdapter connects to NATS, obtains a JetStream context and makes sure the
// job stream exists with the configured limits.
func NewJetStreamAdapter(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*JetStreamAdapter, func(), error) {
	appFullCfg := cfgProvider.Get()
	natsCfg := appFullCfg.NATS

	appLogger.Info(ctx, "Attempting to connect to NATS server", "url", natsCfg.URL)

	nc, err := nats.Connect(natsCfg.URL,
		nats.Name(fmt.Sprintf("%s-%s", appFullCfg.App.ServiceName, appFullCfg.Server.PodID)),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			appLogger.Error(ctx, "NATS error", "subscription", subject, "error", err.Error())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS connection closed")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			appLogger.Warn(ctx, "NATS disconnected", "error", err)
		}),
	)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to NATS", "url", natsCfg.URL, "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	adapter := &JetStreamAdapter{nc: nc, js: js, logger: appLogger, cfg: natsCfg}
	if err := adapter.EnsureStream(ctx); err != nil {
		nc.Close()
		return nil, nil, err
	}

	cleanup := func() {
		appLogger.Info(context.Background(), "Closing NATS connection...")
		adapter.Close()
	}
	return adapter, cleanup, nil
}

// EnsureStream creates the job stream or brings an existing one up to date.
func (a *JetStreamAdapter) EnsureStream(ctx context.Context) error {
	streamCfg := &nats.StreamConfig{
		Name: a.cfg.StreamName,
		Subjects: []string{
			EventSubjectFilter,
			BackfillSubjectFilter,
			FailedSubjectFilter,
		},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		MaxAge:     time.Duration(a.cfg.StreamMaxAgeHours) * time.Hour,
		Duplicates: time.Duration(a.cfg.DuplicateWindowSeconds) * time.Second,
	}

	_, err := a.js.StreamInfo(a.cfg.StreamName, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := a.js.AddStream(streamCfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", a.cfg.StreamName, err)
		}
		a.logger.Info(ctx, "Created JetStream stream", "stream", a.cfg.StreamName, "subjects", streamCfg.Subjects)
	case err != nil:
		return fmt.Errorf("failed to look up stream %s: %w", a.cfg.StreamName, err)
	default:
		if _, err := a.js.UpdateStream(streamCfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to update stream %s: %w", a.cfg.StreamName, err)
		}
		a.logger.Info(ctx, "JetStream stream is up to date", "stream", a.cfg.StreamName)
	}
	return nil
}

// ensurePullConsumer creates the durable pull consumer described by cfg, or updates an
// existing one. Subscriptions then bind to it, so unsubscribing never deletes it.
func ensurePullConsumer(ctx context.Context, js nats.JetStreamContext, stream string, cfg *nats.ConsumerConfig) error {
	cfg.AckPolicy = nats.AckExplicitPolicy
	_, err := js.ConsumerInfo(stream, cfg.Durable, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrConsumerNotFound):
		if _, err := js.AddConsumer(stream, cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to create consumer %s: %w", cfg.Durable, err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up consumer %s: %w", cfg.Durable, err)
	default:
		if _, err := js.UpdateConsumer(stream, cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to update consumer %s: %w", cfg.Durable, err)
		}
	}
	return nil
}

// Ping round-trips the server. Used by the readiness probe.
func (a *JetStreamAdapter) Ping(ctx context.Context) error {
	if !a.nc.IsConnected() {
		return fmt.Errorf("nats connection status is %s", a.nc.Status())
	}
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return a.nc.FlushTimeout(timeout)
}

// Close drains and closes the NATS connection.
func (a *JetStreamAdapter) Close() {
	if a.nc != nil && !a.nc.IsClosed() {
		if err := a.nc.Drain(); err != nil {
			a.logger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
		}
	}
}

// JetStreamContext returns the JetStream context.
func (a *JetStreamAdapter) JetStreamContext() nats.JetStreamContext {
	return a.js
}

// NatsConn returns the underlying NATS connection.
func (a *JetStreamAdapter) NatsConn() *nats.Conn {
	return a.nc
}

// StreamName returns the configured job stream name.
func (a *JetStreamAdapter) StreamName() string {
	return a.cfg.StreamName
}
