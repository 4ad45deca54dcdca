// Package llmgateway abstracts calls to the Orchestrator LLM: the cheaper
// model the Validator Pipeline asks to score each Implementer response and
// the Session & Context Manager asks to summarize a session at refresh
// time. The Gateway is deliberately stateless — any conversation state
// belongs to the Implementer's own session, never here.
package llmgateway

import "context"

// SendOptions configures a single gateway call.
type SendOptions struct {
	// Structured requests a machine-parseable response; implementations
	// that support it (e.g. Ollama's JSON mode) should set it on the wire
	// request. Callers still parse the resulting text themselves — the
	// Gateway never interprets scoring semantics.
	Structured bool
	// MaxTokens bounds the response length; 0 means implementation default.
	MaxTokens int
	// Temperature, when non-nil, overrides the implementation's default.
	Temperature *float64
}

// Response is a gateway call's result.
type Response struct {
	Text string
}

// Gateway abstracts one Orchestrator LLM backend.
type Gateway interface {
	// Send delivers prompt and returns the model's reply.
	Send(ctx context.Context, prompt string, opts SendOptions) (*Response, error)
	// Name reports a short tag identifying this backend, e.g. "ollama".
	Name() string
	// Available performs a lightweight health probe.
	Available(ctx context.Context) bool
}
