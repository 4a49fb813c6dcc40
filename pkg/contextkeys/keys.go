package contextkeys

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey contextKey = "request_id"

	// EventIDKey is the context key for the upstream webhook event ID being processed.
	EventIDKey contextKey = "event_id"

	// EventTypeKey is the context key for the webhook event type being processed.
	EventTypeKey contextKey = "event_type"

	// AccountIDKey is the context key for the client account that owns the event.
	AccountIDKey contextKey = "account_id"

	// JobIDKey is the context key for the queue message (stream sequence) carrying the job.
	JobIDKey contextKey = "job_id"

	// WorkerKey is the context key for the name of the worker pool handling the job.
	WorkerKey contextKey = "worker"
)

// String makes contextKey satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c contextKey) String() string {
	return string(c)
}
