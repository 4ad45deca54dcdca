// Package errs defines Obra's error taxonomy: a small set of typed errors
// that every other package wraps with fmt.Errorf("...: %w", err) rather
// than returning ad hoc strings, so callers can branch with errors.As/Is.
package errs

import "fmt"

// Kind classifies an error for retry decisions, exit codes, and logging.
type Kind string

const (
	KindTransport       Kind = "transport"
	KindAgentMaxTurns   Kind = "agent_max_turns"
	KindValidatorParse  Kind = "validator_parse"
	KindSchema          Kind = "schema"
	KindDependencyCycle Kind = "dependency_cycle"
	KindTaskRunning     Kind = "task_already_running"
	KindContextOverflow Kind = "context_overflow"
	KindCancellation    Kind = "cancellation"
	KindConfiguration   Kind = "configuration"
	KindNotFound        Kind = "not_found"
	KindAuthentication  Kind = "authentication"
)

// Error is a typed error carrying a Kind plus the component and entity id
// it occurred against, matching the user-facing message contract of the
// error handling design: component/kind/id are always identifiable.
type Error struct {
	Kind      Kind
	Component string
	ID        string
	Err       error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s[%s]: %v", e.Kind, e.Component, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Component, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error. err may be nil, in which case Error() still reports
// kind/component/id without a trailing cause.
func New(kind Kind, component, id string, err error) *Error {
	return &Error{Kind: kind, Component: component, ID: id, Err: err}
}

// Wrap is a convenience for the common case of wrapping an underlying error
// with fmt.Errorf-style context plus a Kind, matching the rest of the
// codebase's "%s: %w" wrapping convention.
func Wrap(kind Kind, component, id, msg string, err error) *Error {
	return New(kind, component, id, fmt.Errorf("%s: %w", msg, err))
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and reports ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
