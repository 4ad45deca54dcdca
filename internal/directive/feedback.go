package directive

import (
	"context"
	"fmt"
	"strings"

	"github.com/obra-run/obra/internal/llmgateway"
	"github.com/obra-run/obra/internal/store"
)

const feedbackAnalysisPromptTemplate = `An operator asked the following question about this task's most recent iteration:

%s

Iteration quality score: %.2f
Iteration comment: %s

Write a short analysis (2-4 sentences) answering the operator's question
using the quality score and comment above. Respond with the analysis text
only.`

// HandleFeedbackRequest is called after quality scoring for an iteration.
// For each pending feedback_request directive, it asks the Orchestrator
// LLM for a short analysis and queues the result as a pending to_impl
// directive for the next iteration.
func (ib *Inbox) HandleFeedbackRequest(ctx context.Context, gw llmgateway.Gateway, projectID, taskID string, req *FeedbackContext, d *store.Directive) error {
	prompt := fmt.Sprintf(feedbackAnalysisPromptTemplate, d.Body, req.Quality, req.QualityComment)

	resp, err := gw.Send(ctx, prompt, llmgateway.SendOptions{})
	if err != nil {
		return fmt.Errorf("generate feedback analysis: %w", err)
	}

	analysis := strings.TrimSpace(resp.Text)
	if analysis == "" {
		return ib.Consume(d.ID)
	}

	if err := ib.SubmitToImpl(projectID, taskID, "In response to your question: "+d.Body+"\n\n"+analysis, false); err != nil {
		return fmt.Errorf("queue feedback analysis as to_impl: %w", err)
	}
	return ib.Consume(d.ID)
}

// FeedbackContext carries the quality-scoring signals a feedback_request
// analysis is generated from.
type FeedbackContext struct {
	Quality        float64
	QualityComment string
}
