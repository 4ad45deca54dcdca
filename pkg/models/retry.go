package models

import "time"

// ErrorClass distinguishes retryable failures from terminal ones for the
// Retry Coordinator.
type ErrorClass string

const (
	// ErrorClassTransport covers network/transport failures: timeouts,
	// connection resets, 5xx from the LLM Gateway or Agent Driver.
	ErrorClassTransport ErrorClass = "transport"
	// ErrorClassRateLimited covers provider rate-limit responses.
	ErrorClassRateLimited ErrorClass = "rate_limited"
	// ErrorClassValidatorParse covers the Validator Pipeline failing to
	// parse a quality-scoring response — retryable, not the task's fault.
	ErrorClassValidatorParse ErrorClass = "validator_parse"
	// ErrorClassContextOverflow covers a prompt exceeding the context
	// window after assembly-time truncation already ran.
	ErrorClassContextOverflow ErrorClass = "context_overflow"
	// ErrorClassTerminal covers failures the Retry Coordinator must not retry:
	// schema errors, configuration errors, cancellation.
	ErrorClassTerminal ErrorClass = "terminal"
)

// Retryable reports whether the Retry Coordinator should schedule another
// attempt for this error class.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassTransport, ErrorClassRateLimited, ErrorClassValidatorParse, ErrorClassContextOverflow:
		return true
	default:
		return false
	}
}

// RetryAttempt records one scheduled or completed retry for a task.
type RetryAttempt struct {
	// ID is the unique identifier for this attempt record.
	ID string `json:"id"`
	// TaskID is the task being retried.
	TaskID string `json:"task_id"`
	// Attempt is the 1-indexed attempt number for this task.
	Attempt int `json:"attempt"`
	// Class is the error class that triggered this retry.
	Class ErrorClass `json:"class"`
	// Message is the underlying error's message, for audit.
	Message string `json:"message,omitempty"`
	// NextDelay is the computed backoff delay before the next attempt.
	NextDelay time.Duration `json:"next_delay"`
	// NextAttemptAt is when the next attempt is scheduled to run.
	NextAttemptAt time.Time `json:"next_attempt_at"`
	// OccurredAt is when this attempt's failure was recorded.
	OccurredAt time.Time `json:"occurred_at"`
}
