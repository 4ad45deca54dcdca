package models

import "time"

// Decision is the action the Decision Engine assigns to an iteration.
type Decision string

const (
	// DecisionProceed marks the owning task COMPLETED.
	DecisionProceed Decision = "proceed"
	// DecisionClarify continues the loop, asking the Implementer to address feedback.
	DecisionClarify Decision = "clarify"
	// DecisionRetry continues the loop without a clarification stanza.
	DecisionRetry Decision = "retry"
	// DecisionEscalate marks the owning task ESCALATED and breaks the loop.
	DecisionEscalate Decision = "escalate"
	// DecisionBreakpoint pauses the task pending a user-supplied directive.
	DecisionBreakpoint Decision = "breakpoint"
)

// Valid returns true if d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionProceed, DecisionClarify, DecisionRetry, DecisionEscalate, DecisionBreakpoint:
		return true
	default:
		return false
	}
}

// TokenUsage breaks down token accounting for a single Implementer call.
type TokenUsage struct {
	Input       int64 `json:"input"`
	CacheCreate int64 `json:"cache_create"`
	CacheRead   int64 `json:"cache_read"`
	Output      int64 `json:"output"`
}

// Total returns input + cache_create + cache_read + output, matching the
// invariant that persisted total_tokens always equals this sum.
func (u TokenUsage) Total() int64 {
	return u.Input + u.CacheCreate + u.CacheRead + u.Output
}

// Iteration is one append-only pass through the loop for a given task.
type Iteration struct {
	// ID is the unique identifier for this iteration record.
	ID string `json:"id"`
	// TaskID is the task this iteration belongs to.
	TaskID string `json:"task_id"`
	// SessionID is the Implementer session this iteration ran under.
	SessionID string `json:"session_id"`
	// Number is the 1-indexed iteration number for this task.
	Number int `json:"number"`
	// PromptFingerprint is a content hash of the assembled prompt, for audit.
	PromptFingerprint string `json:"prompt_fingerprint"`
	// RawResponse is the Implementer's raw response, possibly truncated.
	// See Truncated and ResponseDigest for the full-retention contract.
	RawResponse string `json:"raw_response,omitempty"`
	// Truncated is true when RawResponse was cut to the retention cap.
	Truncated bool `json:"truncated,omitempty"`
	// ResponseDigest is a SHA-256 hex digest of the untruncated raw response.
	ResponseDigest string `json:"response_digest,omitempty"`
	// Usage is the token breakdown reported by the Agent Driver.
	Usage TokenUsage `json:"usage"`
	// Complete is the Completeness check's verdict.
	Complete bool `json:"complete"`
	// CompletenessIssues lists predicate failures from the completeness check.
	CompletenessIssues []string `json:"completeness_issues,omitempty"`
	// Quality is the Orchestrator LLM's quality score in [0,1].
	Quality float64 `json:"quality"`
	// QualityComment is the scorer's free-text comment, if any.
	QualityComment string `json:"quality_comment,omitempty"`
	// ValidatorErrored is true when quality scoring itself failed to parse.
	ValidatorErrored bool `json:"validator_errored,omitempty"`
	// Confidence is a bounded, deterministic observability-only score in [0,1].
	Confidence float64 `json:"confidence"`
	// Decision is the action chosen by the Decision Engine.
	Decision Decision `json:"decision"`
	// Breakpoint is true if this iteration triggered a BREAKPOINT.
	Breakpoint bool `json:"breakpoint,omitempty"`
	// RetryAttempt is the retry counter at the time this iteration ran, 0 if none.
	RetryAttempt int `json:"retry_attempt,omitempty"`
	// Cancelled is true if cancellation reached a suspension point mid-iteration.
	Cancelled bool `json:"cancelled,omitempty"`
	// ErrorKind records the taxonomy kind when the iteration ended in error.
	ErrorKind string `json:"error_kind,omitempty"`
	// LatencyMS is the Agent Driver call's wall-clock duration in milliseconds.
	LatencyMS int64 `json:"latency_ms"`
	// CostUnits is the accounting cost for this iteration in a small unit.
	CostUnits float64 `json:"cost_units"`
	// StartedAt is when the iteration's prompt was submitted.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the iteration's decision was recorded.
	EndedAt time.Time `json:"ended_at"`
}
