package validator

import (
	"context"

	"github.com/obra-run/obra/internal/llmgateway"
)

// Input bundles everything Validate needs for one iteration.
type Input struct {
	TaskDescription string
	Response        string
	RequiredFields  []string
	ToOrchGuidance  string
	PriorQuality    float64
	HasPriorQuality bool
}

// Result is the pipeline's combined verdict.
type Result struct {
	Completeness CompletenessResult
	Quality      QualityResult
	Confidence   float64
}

// Pipeline runs the three validator stages against a Gateway.
type Pipeline struct {
	gw llmgateway.Gateway
}

// New constructs a Pipeline backed by the given Orchestrator LLM gateway.
func New(gw llmgateway.Gateway) *Pipeline {
	return &Pipeline{gw: gw}
}

// Validate runs completeness, quality scoring, and confidence derivation
// in order. Quality scoring still runs even when completeness fails —
// the Decision Engine needs both signals regardless of stage 1's verdict.
func (p *Pipeline) Validate(ctx context.Context, in Input) Result {
	completeness := CheckCompleteness(in.Response, in.RequiredFields)
	quality := ScoreQuality(ctx, p.gw, in.TaskDescription, in.Response, in.ToOrchGuidance)

	confidence := DeriveConfidence(ConfidenceInput{
		CompletenessPassed: completeness.Complete,
		Quality:            quality.Quality,
		PriorQuality:       in.PriorQuality,
		HasPriorQuality:    in.HasPriorQuality,
	})

	return Result{Completeness: completeness, Quality: quality, Confidence: confidence}
}
