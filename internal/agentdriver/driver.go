// Package agentdriver abstracts the long-lived Implementer process: the
// headless coding CLI the Iteration Controller drives through each task.
// Three variants share the Driver contract: a local subprocess, a
// subprocess invoked over SSH on a remote host, and a direct Anthropic API
// client that skips the external CLI entirely.
package agentdriver

import (
	"context"
	"time"
)

// Usage breaks down token accounting as reported by the Implementer.
type Usage struct {
	Input       int64
	CacheCreate int64
	CacheRead   int64
	Output      int64
}

// SendOptions configures a single send_prompt call.
type SendOptions struct {
	MaxTurns                     int
	SessionID                    string
	StructuredOutput             bool
	BypassInteractivePermissions bool
}

// Response is the Implementer's structured reply to a single prompt.
type Response struct {
	Content      string
	SessionID    string
	Usage        Usage
	DurationMS   int64
	NumTurns     int
	ErrorSubtype string
}

// MaxTurnsExhausted is the error_subtype the retry coordinator recognizes
// to retry once with a doubled max_turns.
const MaxTurnsExhausted = "max_turns_exhausted"

// Health reports the Driver's current operational status.
type Health struct {
	Alive        bool
	LastLatency  time.Duration
	RestartCount int
}

// Config configures a Driver's initialize call.
type Config struct {
	Command            string
	WorkDir            string
	Model              string
	StabilityWindow    time.Duration
	InitializeTimeout  time.Duration
}

// Driver abstracts the Agent Driver component. Implementations must
// enforce non-overlapping calls per instance: a caller's send_prompt is
// blocking from the caller's perspective even though internally it may
// multiplex I/O.
type Driver interface {
	// Initialize spawns or connects to the Implementer and waits for
	// process stability rather than a banner match.
	Initialize(ctx context.Context, cfg Config) error
	// SendPrompt delivers a prompt and blocks until a structured response
	// or a classified error is available.
	SendPrompt(ctx context.Context, prompt string, opts SendOptions) (*Response, error)
	// Health reports liveness and restart bookkeeping.
	Health() Health
	// Shutdown terminates the Implementer, gracefully then forcibly.
	Shutdown(ctx context.Context) error
}
