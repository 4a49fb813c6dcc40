package domain

import "time"

// EventType enumerates the upstream webhook event kinds handled by the intake pipeline.
type EventType string

const (
	EventTypeComment      EventType = "comment"
	EventTypeMention      EventType = "mention"
	EventTypeMessage      EventType = "message"
	EventTypeStoryInsight EventType = "story_insight"
)

// EventTypes lists every supported event type.
var EventTypes = []EventType{EventTypeComment, EventTypeMention, EventTypeMessage, EventTypeStoryInsight}

// Valid reports whether t is one of the supported event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeComment, EventTypeMention, EventTypeMessage, EventTypeStoryInsight:
		return true
	}
	return false
}

// AutoReplyEligible reports whether events of this type may trigger an automated reply.
func (t EventType) AutoReplyEligible() bool {
	return t == EventTypeComment || t == EventTypeMessage
}

func (t EventType) String() string { return string(t) }

// WebhookEvent is the job payload consumed from the queue. It is transient: it is never
// stored as its own row, only its normalized effects are.
type WebhookEvent struct {
	EventType EventType      `json:"eventType"`
	EventID   string         `json:"eventId"`
	AccountID string         `json:"accountId"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// JobResult is produced for every processed job.
type JobResult struct {
	Success          bool      `json:"success"`
	EventID          string    `json:"eventId"`
	EventType        EventType `json:"eventType"`
	IsDuplicate      bool      `json:"isDuplicate"`
	AutoReplySent    bool      `json:"autoReplySent"`
	ProcessingTimeMs int64     `json:"processingTime"`
	Error            string    `json:"error,omitempty"`
}

// BackfillJob asks the bulk worker to re-synchronise the conversations of one account.
type BackfillJob struct {
	AccountID   string    `json:"accountId"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// BackfillReport summarises one backfill run.
type BackfillReport struct {
	AccountID        string `json:"accountId"`
	Pages            int    `json:"pages"`
	Conversations    int    `json:"conversations"`
	MessagesIngested int    `json:"messagesIngested"`
	MessagesSkipped  int    `json:"messagesSkipped"`
	APICalls         int    `json:"apiCalls"`
}

// FailedJob is what lands in the failed set once the queue exhausted its retries.
// The original payload is preserved verbatim for manual reprocessing.
type FailedJob struct {
	Subject  string    `json:"subject"`
	Data     []byte    `json:"data"`
	Error    string    `json:"error"`
	Attempts uint64    `json:"attempts"`
	FailedAt time.Time `json:"failedAt"`
}

// AnalyticsSample is one processed job as seen by the analytics counters.
type AnalyticsSample struct {
	EventType     EventType
	Duplicate     bool
	AutoReplySent bool
	Failed        bool
	Latency       time.Duration
	At            time.Time
}
