package session

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator converts prompt text into an approximate token count before
// sending, so the Prompt Assembler and Iteration Controller can check a
// session's budget ahead of an Agent Driver call that hasn't reported
// real usage yet. It is a soft estimate; the Agent Driver's reported
// usage is always the source of truth for RecordUsage.
type Estimator struct {
	mu    sync.Mutex
	codec tokenizer.Codec
}

// NewEstimator builds an Estimator using the cl100k_base encoding, the
// closest open tokenizer to the Implementer and Orchestrator LLM's own
// tokenization for estimation purposes.
func NewEstimator() (*Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer codec: %w", err)
	}
	return &Estimator{codec: codec}, nil
}

// Estimate returns the approximate token count of text.
func (e *Estimator) Estimate(text string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode text: %w", err)
	}
	return int64(len(ids)), nil
}
