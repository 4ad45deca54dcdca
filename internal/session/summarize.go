package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/obra-run/obra/internal/llmgateway"
	"github.com/obra-run/obra/pkg/models"
)

const summarizePromptTemplate = `You are producing a carry-forward summary for a multi-session engineering Epic.

Epic description:
%s

Prior summary carried into this session (empty if this was the first session):
%s

Iterations completed in this session:
%s

Write a concise summary (a few short paragraphs) covering: what was
accomplished, what decisions were made, what remains outstanding, and
anything a fresh session needs to know to continue this Epic without
re-reading every prior iteration. Do not repeat the Epic description
verbatim. Respond with the summary text only.`

// summarizeEpic asks the Orchestrator LLM to produce the next epic_context_summary
// from every iteration run under the ending session plus the prior summary, if any.
func (m *Manager) summarizeEpic(ctx context.Context, iterations []*models.Iteration, epicDescription, priorSummary string) (string, error) {
	if len(iterations) == 0 {
		return priorSummary, nil
	}

	var sb strings.Builder
	for _, it := range iterations {
		fmt.Fprintf(&sb, "- iteration %d: decision=%s quality=%.2f complete=%v",
			it.Number, it.Decision, it.Quality, it.Complete)
		if it.QualityComment != "" {
			fmt.Fprintf(&sb, " comment=%q", it.QualityComment)
		}
		sb.WriteString("\n")
	}

	prompt := fmt.Sprintf(summarizePromptTemplate, epicDescription, priorSummary, sb.String())

	resp, err := m.gw.Send(ctx, prompt, llmgateway.SendOptions{})
	if err != nil {
		return "", fmt.Errorf("send summarization prompt: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
