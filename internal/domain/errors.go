package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by repositories when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUniqueViolation is returned by repositories when an insert hits a uniqueness constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrConversationArchived is returned when a status change is attempted on an archived conversation.
	ErrConversationArchived = errors.New("conversation is archived")
	// ErrInvalidStatusTransition is returned for unknown conversation statuses.
	ErrInvalidStatusTransition = errors.New("invalid conversation status transition")
	// ErrUnsupportedEventType is returned by the normalizer for event types it has no mapping for.
	ErrUnsupportedEventType = errors.New("unsupported event type")
	// ErrAccountNotFound is returned by the account lookup.
	ErrAccountNotFound = errors.New("client account not found")
	// ErrRateLimited is returned when the account has no call budget left in the current window.
	ErrRateLimited = errors.New("rate limit budget exhausted")
	// ErrUndecodableJob marks queue messages that can never be processed; they are not retried.
	ErrUndecodableJob = errors.New("undecodable job payload")
)

// ValidationError reports a normalized event missing a required field. It fails the job,
// which makes it eligible for queue-level retry and, eventually, the failed set.
type ValidationError struct {
	EventType EventType
	Field     string
}

func NewValidationError(eventType EventType, field string) *ValidationError {
	return &ValidationError{EventType: eventType, Field: field}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s event: missing or invalid %s", e.EventType, e.Field)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExternalError describes a failed call to the upstream platform API.
type ExternalError struct {
	Op         string
	StatusCode int
	Code       int
	Retryable  bool
	Err        error
}

func (e *ExternalError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s external error (status %d, code %d): %v", e.Op, kind, e.StatusCode, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s external error: %v", e.Op, kind, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient external failure.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var ee *ExternalError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// ErrorCode represents a specific error condition returned on the operational HTTP surface.
type ErrorCode string

const (
	ErrInvalidAPIKey      ErrorCode = "InvalidAPIKey"       // HTTP 401
	ErrBadRequest         ErrorCode = "BadRequest"          // HTTP 400
	ErrResourceNotFound   ErrorCode = "NotFound"            // HTTP 404
	ErrMethodNotAllowed   ErrorCode = "MethodNotAllowed"    // HTTP 405
	ErrConflict           ErrorCode = "Conflict"            // HTTP 409
	ErrServiceUnavailable ErrorCode = "ServiceUnavailable"  // HTTP 503
	ErrInternal           ErrorCode = "InternalServerError" // HTTP 500
)

// ErrorResponse is the standard error format returned as JSON.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	json.NewEncoder(w).Encode(er) // Best effort, error from Encode is not typically handled here.
}
