// Package notify delivers task and budget events to optional external
// sinks — stdout and Slack — grounded on internal/api/notifications.go's
// append-only decisions log, generalized from a single markdown file to a
// structured, fan-out event record.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventKind classifies a notification.
type EventKind string

const (
	EventTaskCompleted   EventKind = "task_completed"
	EventTaskFailed      EventKind = "task_failed"
	EventTaskEscalated   EventKind = "task_escalated"
	EventBreakpoint      EventKind = "breakpoint"
	EventBudgetThreshold EventKind = "budget_threshold"
)

// Event is a structured record describing something the core loop wants an
// operator to know about, independent of how (or whether) it is delivered.
type Event struct {
	Kind      EventKind
	ProjectID string
	TaskID    string
	Message   string
	Fields    map[string]string
	At        time.Time
}

// Sink delivers an Event somewhere. A Sink's Send error is logged, never
// propagated — a failed notification must never affect task state.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// Manager fans an Event out to every configured Sink.
type Manager struct {
	sinks  []Sink
	logger *slog.Logger
}

// New constructs a Manager. A nil logger defaults to slog.Default().
func New(logger *slog.Logger, sinks ...Sink) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{sinks: sinks, logger: logger}
}

// Notify delivers event to every sink, logging (but not returning) any
// delivery failure.
func (m *Manager) Notify(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	for _, s := range m.sinks {
		if err := s.Send(ctx, event); err != nil {
			m.logger.Warn("notification delivery failed", "kind", event.Kind, "task_id", event.TaskID, "error", err)
		}
	}
}

// StdoutSink prints events to stdout via the given slog.Logger, one
// structured log line per event — useful as the always-on default sink
// when no external channel is configured.
type StdoutSink struct {
	logger *slog.Logger
}

// NewStdoutSink constructs a StdoutSink. A nil logger defaults to
// slog.Default().
func NewStdoutSink(logger *slog.Logger) *StdoutSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdoutSink{logger: logger}
}

// Send implements Sink.
func (s *StdoutSink) Send(ctx context.Context, event Event) error {
	args := []any{"kind", event.Kind, "project_id", event.ProjectID, "task_id", event.TaskID}
	for k, v := range event.Fields {
		args = append(args, k, v)
	}
	s.logger.Info(event.Message, args...)
	return nil
}

// formatMessage renders an Event as a single human-readable line, used by
// sinks (like Slack) that post plain text rather than structured fields.
func formatMessage(event Event) string {
	if event.TaskID == "" {
		return fmt.Sprintf("[%s] %s", event.Kind, event.Message)
	}
	return fmt.Sprintf("[%s] task %s: %s", event.Kind, event.TaskID, event.Message)
}
