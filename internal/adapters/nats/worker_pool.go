package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/metrics"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/contextkeys"
	"gitlab.com/timkado/api/daisi-webhook-worker/pkg/safego"
)

// JobHandler processes one queue message. A nil error acks the message.
// Errors wrapping domain.ErrUndecodableJob are never retried.
type JobHandler func(ctx context.Context, msg *nats.Msg) error

// PoolSpec describes one worker pool.
type PoolSpec struct {
	Name        string
	Subject     string
	Durable     string
	Concurrency int
	Handler     JobHandler
}

type failedSink interface {
	PublishFailed(ctx context.Context, job domain.FailedJob) error
}

// settler is the acknowledgement surface of a delivered JetStream message.
type settler interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// WorkerPool drains a durable pull consumer with a fixed number of workers. Each worker
// fetches one message at a time, so Concurrency bounds the jobs in flight.
type WorkerPool struct {
	spec        PoolSpec
	js          nats.JetStreamContext
	stream      string
	failed      failedSink
	cfgProvider config.Provider
	logger      domain.Logger
	now         func() time.Time

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
	subs   []*nats.Subscription
}

func NewWorkerPool(spec PoolSpec, stream *JetStreamAdapter, failed failedSink, cfgProvider config.Provider, logger domain.Logger) *WorkerPool {
	return &WorkerPool{
		spec:        spec,
		js:          stream.JetStreamContext(),
		stream:      stream.StreamName(),
		failed:      failed,
		cfgProvider: cfgProvider,
		logger:      logger.With("worker", spec.Name),
		now:         time.Now,
	}
}

// Start binds the workers to the durable consumer and begins fetching. It returns once
// every worker is subscribed.
func (p *WorkerPool) Start(ctx context.Context) error {
	workerCfg := p.cfgProvider.Get().Worker
	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	err := ensurePullConsumer(ctx, p.js, p.stream, &nats.ConsumerConfig{
		Durable:       p.spec.Durable,
		FilterSubject: p.spec.Subject,
		AckWait:       time.Duration(workerCfg.AckWaitSeconds) * time.Second,
		MaxDeliver:    workerCfg.MaxDeliver,
		MaxAckPending: workerCfg.MaxAckPending,
	})
	if err != nil {
		cancel()
		return err
	}

	for i := 0; i < p.spec.Concurrency; i++ {
		sub, err := p.js.PullSubscribe(p.spec.Subject, p.spec.Durable, nats.Bind(p.stream, p.spec.Durable), nats.ManualAck())
		if err != nil {
			cancel()
			return fmt.Errorf("failed to bind pull consumer %s on %s: %w", p.spec.Durable, p.spec.Subject, err)
		}
		p.mu.Lock()
		p.subs = append(p.subs, sub)
		p.mu.Unlock()

		name := fmt.Sprintf("%s-worker-%d", p.spec.Name, i)
		safego.ExecuteTracked(runCtx, p.logger, name, &p.wg, func() {
			p.loop(runCtx, sub)
		})
	}

	p.logger.Info(ctx, "Worker pool started",
		"subject", p.spec.Subject,
		"durable", p.spec.Durable,
		"concurrency", p.spec.Concurrency,
	)
	return nil
}

// Stop ends fetching and waits for in-flight jobs until ctx expires. Jobs still running
// after that are redelivered once their ack wait elapses.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("worker pool %s: %w while waiting for in-flight jobs", p.spec.Name, ctx.Err())
	}

	for _, sub := range subs {
		if uerr := sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) && !errors.Is(uerr, nats.ErrBadSubscription) {
			p.logger.Warn(ctx, "Failed to unsubscribe pull consumer", "error", uerr.Error())
		}
	}
	p.logger.Info(ctx, "Worker pool stopped")
	return err
}

func (p *WorkerPool) loop(ctx context.Context, sub *nats.Subscription) {
	for ctx.Err() == nil {
		fetchWait := time.Duration(p.cfgProvider.Get().Worker.FetchWaitSeconds) * time.Second
		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
			return
		default:
			p.logger.Warn(ctx, "Failed to fetch from pull consumer", "error", err.Error())
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		for _, msg := range msgs {
			p.handle(ctx, msg)
		}
	}
}

// handle runs the job on a context detached from pool shutdown so a job that has started
// always settles its message.
func (p *WorkerPool) handle(ctx context.Context, msg *nats.Msg) {
	attempt := uint64(1)
	jobID := ""
	if meta, err := msg.Metadata(); err == nil {
		attempt = meta.NumDelivered
		jobID = strconv.FormatUint(meta.Sequence.Stream, 10)
	}

	jobCtx := context.WithoutCancel(ctx)
	jobCtx = context.WithValue(jobCtx, contextkeys.WorkerKey, p.spec.Name)
	jobCtx = context.WithValue(jobCtx, contextkeys.JobIDKey, jobID)

	metrics.WorkerBusy(p.spec.Name)
	err := safego.Call(func() error { return p.spec.Handler(jobCtx, msg) })
	metrics.WorkerIdle(p.spec.Name)

	p.settle(jobCtx, msg, msg.Subject, msg.Data, attempt, err)
}

// settle applies the retry policy to a finished job: ack on success, redeliver with
// exponential delay while attempts remain, otherwise park it in the failed set.
func (p *WorkerPool) settle(ctx context.Context, msg settler, subject string, data []byte, attempt uint64, err error) {
	maxDeliver := uint64(p.cfgProvider.Get().Worker.MaxDeliver)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			p.logger.Warn(ctx, "Failed to ack job", "error", ackErr.Error())
		}
	case errors.Is(err, domain.ErrUndecodableJob):
		p.logger.Error(ctx, "Dropping undecodable job", "subject", subject, "error", err.Error())
		p.moveToFailed(ctx, msg, subject, data, attempt, err)
	case attempt >= maxDeliver:
		p.logger.Error(ctx, "Job exhausted its attempts",
			"subject", subject,
			"attempt", attempt,
			"error", err.Error(),
		)
		p.moveToFailed(ctx, msg, subject, data, attempt, err)
	default:
		delay := RetryDelay(time.Duration(p.cfgProvider.Get().Worker.RetryBaseDelayMs)*time.Millisecond, attempt)
		p.logger.Warn(ctx, "Job failed, scheduling retry",
			"subject", subject,
			"attempt", attempt,
			"retryIn", delay.String(),
			"error", err.Error(),
		)
		metrics.IncrementJobRetry(p.spec.Name)
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			p.logger.Warn(ctx, "Failed to nak job", "error", nakErr.Error())
		}
	}
}

func (p *WorkerPool) moveToFailed(ctx context.Context, msg settler, subject string, data []byte, attempt uint64, cause error) {
	job := domain.FailedJob{
		Subject:  subject,
		Data:     data,
		Error:    cause.Error(),
		Attempts: attempt,
		FailedAt: p.now().UTC(),
	}
	if err := p.failed.PublishFailed(ctx, job); err != nil {
		p.logger.Error(ctx, "Failed to store job in the failed set", "subject", subject, "error", err.Error())
	}
	metrics.IncrementFailedJob(p.spec.Name)
	if err := msg.Term(); err != nil {
		p.logger.Warn(ctx, "Failed to terminate job", "error", err.Error())
	}
}

// RetryDelay is the queue redelivery delay after the given failed attempt: base, 2*base, 4*base...
func RetryDelay(base time.Duration, attempt uint64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return base << (attempt - 1)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
