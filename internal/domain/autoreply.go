package domain

// AutoReplyTrigger selects how a rule matches incoming text.
type AutoReplyTrigger string

const (
	TriggerKeyword  AutoReplyTrigger = "keyword"
	TriggerQuestion AutoReplyTrigger = "question"
	TriggerGreeting AutoReplyTrigger = "greeting"
	// TriggerAway always matches and acts as a catch-all.
	TriggerAway     AutoReplyTrigger = "away"
)

// AutoReplyRule is a configured automated response. Rules are evaluated in ascending
// Priority and the first match wins. An empty EventTypes list applies the rule to every
// auto-reply eligible event type.
type AutoReplyRule struct {
	ID         string
	AccountID  string
	Trigger    AutoReplyTrigger
	Pattern    string
	Response   string
	Enabled    bool
	Priority   int
	EventTypes []EventType
}

// AppliesTo reports whether the rule is configured for the event type.
func (r AutoReplyRule) AppliesTo(eventType EventType) bool {
	if len(r.EventTypes) == 0 {
		return true
	}
	for _, t := range r.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// AutoReplyDecision is the outcome of rule evaluation.
type AutoReplyDecision struct {
	Should bool
	Rule   *AutoReplyRule
	Reason string
}

// ReplyResult is the best-effort outcome of a reply dispatch. It never aborts a job.
type ReplyResult struct {
	Sent      bool
	ReplyID   string
	RuleID    string
	Reason    string
	Retryable bool
	Err       error
}
