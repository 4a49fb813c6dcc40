package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dww_jobs_processed_total",
			Help: "Webhook jobs processed, by event type and outcome (success, duplicate, failed).",
		},
		[]string{"event_type", "outcome"},
	)

	JobProcessingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dww_job_processing_seconds",
			Help:    "Time spent processing one webhook job.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dww_job_retries_total",
			Help: "Queue redeliveries scheduled after a failed attempt.",
		},
		[]string{"queue"},
	)

	FailedJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dww_failed_jobs_total",
			Help: "Jobs moved to the failed set after exhausting their attempts.",
		},
		[]string{"queue"},
	)

	AutoRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dww_auto_replies_total",
			Help: "Auto-reply dispatch attempts, by target and result (sent, rate_limited, error).",
		},
		[]string{"target", "result"},
	)

	StoreFailOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dww_store_failopen_total",
			Help: "Shared store errors that were tolerated by failing open.",
		},
		[]string{"component"},
	)

	RateLimitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dww_rate_limit_wait_seconds",
			Help:    "Wait imposed by the per-account call budget before an outbound call.",
			Buckets: []float64{0.1, 1, 10, 60, 300, 900, 3600},
		},
	)

	GatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dww_gateway_calls_total",
			Help: "Outbound platform API calls, by operation and result.",
		},
		[]string{"op", "result"},
	)

	MessagesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dww_messages_ingested_total",
			Help: "Direct messages persisted, by source (webhook, backfill) and sender type.",
		},
		[]string{"source", "sender"},
	)

	WorkersBusyGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dww_workers_busy",
			Help: "Workers currently executing a job, by pool.",
		},
		[]string{"pool"},
	)
)

// ObserveJob records the outcome and latency of one processed webhook job.
func ObserveJob(eventType, outcome string, elapsed time.Duration) {
	JobsProcessedTotal.WithLabelValues(eventType, outcome).Inc()
	JobProcessingSeconds.WithLabelValues(eventType).Observe(elapsed.Seconds())
}

func IncrementJobRetry(queue string) {
	JobRetriesTotal.WithLabelValues(queue).Inc()
}

func IncrementFailedJob(queue string) {
	FailedJobsTotal.WithLabelValues(queue).Inc()
}

func IncrementAutoReply(target, result string) {
	AutoRepliesTotal.WithLabelValues(target, result).Inc()
}

// IncrementStoreFailOpen counts a store error that was swallowed so processing could continue.
func IncrementStoreFailOpen(component string) {
	StoreFailOpenTotal.WithLabelValues(component).Inc()
}

func ObserveRateLimitWait(wait time.Duration) {
	RateLimitWaitSeconds.Observe(wait.Seconds())
}

func IncrementGatewayCall(op, result string) {
	GatewayCallsTotal.WithLabelValues(op, result).Inc()
}

func IncrementMessagesIngested(source, sender string) {
	MessagesIngestedTotal.WithLabelValues(source, sender).Inc()
}

func WorkerBusy(pool string) {
	WorkersBusyGauge.WithLabelValues(pool).Inc()
}

func WorkerIdle(pool string) {
	WorkersBusyGauge.WithLabelValues(pool).Dec()
}
