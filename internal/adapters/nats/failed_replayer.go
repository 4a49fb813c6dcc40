package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

type republisher interface {
	Republish(ctx context.Context, subject string, data []byte, msgID string) error
}

// FailedReplayer moves jobs from the failed set back onto their original subjects.
type FailedReplayer struct {
	js          nats.JetStreamContext
	stream      string
	publisher   republisher
	cfgProvider config.Provider
	logger      domain.Logger
}

func NewFailedReplayer(stream *JetStreamAdapter, publisher republisher, cfgProvider config.Provider, logger domain.Logger) *FailedReplayer {
	return &FailedReplayer{
		js:          stream.JetStreamContext(),
		stream:      stream.StreamName(),
		publisher:   publisher,
		cfgProvider: cfgProvider,
		logger:      logger,
	}
}

// Pending reports how many jobs wait in the failed set.
func (r *FailedReplayer) Pending(ctx context.Context) (uint64, error) {
	durable := r.cfgProvider.Get().NATS.FailedConsumer
	info, err := r.js.ConsumerInfo(r.stream, durable, nats.Context(ctx))
	if errors.Is(err, nats.ErrConsumerNotFound) {
		info, err := r.js.StreamInfo(r.stream, nats.Context(ctx), &nats.StreamInfoRequest{SubjectsFilter: FailedSubjectFilter})
		if err != nil {
			return 0, fmt.Errorf("failed to inspect stream %s: %w", r.stream, err)
		}
		var n uint64
		for _, count := range info.State.Subjects {
			n += count
		}
		return n, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to inspect consumer %s: %w", durable, err)
	}
	return info.NumPending + uint64(info.NumAckPending), nil
}

// Replay republishes up to max failed jobs and returns how many were moved.
func (r *FailedReplayer) Replay(ctx context.Context, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	durable := r.cfgProvider.Get().NATS.FailedConsumer
	err := ensurePullConsumer(ctx, r.js, r.stream, &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: FailedSubjectFilter,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return 0, err
	}
	sub, err := r.js.PullSubscribe(FailedSubjectFilter, durable, nats.Bind(r.stream, durable), nats.ManualAck())
	if err != nil {
		return 0, fmt.Errorf("failed to bind failed-set consumer %s: %w", durable, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn(ctx, "Failed to unsubscribe failed-set consumer", "error", err.Error())
		}
	}()

	replayed := 0
	for replayed < max {
		batch := max - replayed
		if batch > 50 {
			batch = 50
		}
		msgs, err := sub.Fetch(batch, nats.MaxWait(time.Second))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if err != nil {
			return replayed, fmt.Errorf("failed to fetch failed jobs: %w", err)
		}
		for _, msg := range msgs {
			if err := r.requeue(ctx, msg); err != nil {
				return replayed, err
			}
			replayed++
		}
	}

	r.logger.Info(ctx, "Failed jobs replayed", "count", replayed)
	return replayed, nil
}

// requeue replays one entry. An entry that could not be replayed is handed back to the
// failed set for the next run.
func (r *FailedReplayer) requeue(ctx context.Context, msg *nats.Msg) error {
	err := r.replayOne(ctx, msg)
	if err == nil {
		return nil
	}
	if nakErr := msg.Nak(); nakErr != nil {
		r.logger.Warn(ctx, "Failed to nak failed-set entry", "subject", msg.Subject, "error", nakErr.Error())
	}
	return err
}

func (r *FailedReplayer) replayOne(ctx context.Context, msg *nats.Msg) error {
	var job domain.FailedJob
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.Subject == "" {
		r.logger.Error(ctx, "Discarding unreadable failed-set entry", "subject", msg.Subject)
		return msg.Term()
	}

	msgID := "replay:" + msg.Subject
	if meta, err := msg.Metadata(); err == nil {
		msgID = fmt.Sprintf("replay:%d", meta.Sequence.Stream)
	}
	if err := r.publisher.Republish(ctx, job.Subject, job.Data, msgID); err != nil {
		return err
	}
	r.logger.Info(ctx, "Failed job requeued", "subject", job.Subject, "attempts", job.Attempts, "lastError", job.Error)
	return msg.Ack()
}
