// Package retry implements the Retry Coordinator: error classification,
// attempt bookkeeping, and exponential backoff with full jitter.
package retry

import "github.com/obra-run/obra/internal/errs"

// Class is whether a failure is worth retrying.
type Class string

const (
	// ClassRetryable failures may succeed on a later attempt: transport
	// timeouts, rate limits, transient I/O, an exhausted turn budget.
	ClassRetryable Class = "retryable"
	// ClassTerminal failures will not resolve by retrying: authentication,
	// configuration, or a schema violation in the response.
	ClassTerminal Class = "terminal"
)

// Classify maps an error taxonomy Kind to a retry class.
func Classify(kind errs.Kind) Class {
	switch kind {
	case errs.KindTransport, errs.KindAgentMaxTurns, errs.KindContextOverflow:
		return ClassRetryable
	case errs.KindAuthentication, errs.KindConfiguration, errs.KindSchema,
		errs.KindDependencyCycle, errs.KindTaskRunning, errs.KindNotFound:
		return ClassTerminal
	default:
		return ClassTerminal
	}
}

// ClassifyErr extracts the Kind from err (if any) and classifies it.
// An error with no identifiable Kind is treated as terminal — an unknown
// failure mode should surface to a human rather than loop silently.
func ClassifyErr(err error) Class {
	kind, ok := errs.KindOf(err)
	if !ok {
		return ClassTerminal
	}
	return Classify(kind)
}
