// Package decision implements the Decision Engine as a pure function: given
// a validation verdict, a quality score, iteration bookkeeping, any fired
// breakpoint triggers, and the directive intent in force, it returns the
// action the Iteration Controller must take next. No I/O, no mutable
// state — every rule is checked in order and the first match wins, the
// same ordered-rule-matching shape as a threshold/max-iterations gate,
// generalized into the full five-way action set.
package decision

import "github.com/obra-run/obra/pkg/models"

// Thresholds holds the Decision Engine's two configurable quality gates.
type Thresholds struct {
	QualityProceedThreshold  float64
	QualityCriticalThreshold float64
}

// DefaultThresholds returns the spec-recommended defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{QualityProceedThreshold: 0.70, QualityCriticalThreshold: 0.50}
}

// Input bundles everything the Decision Engine needs to make a call for a
// single iteration.
type Input struct {
	// ValidationPassed is the Completeness check's verdict.
	ValidationPassed bool
	// ValidatorErrored is true when quality scoring itself failed to parse;
	// this is a validator-boundary failure, not the Implementer's fault.
	ValidatorErrored bool
	// Quality is the Orchestrator LLM's quality score in [0,1].
	Quality float64
	// Iteration is the current 1-indexed iteration number.
	Iteration int
	// MaxIterations is the ceiling for this task.
	MaxIterations int
	// BreakpointTriggers lists breakpoint conditions that fired this round.
	BreakpointTriggers []string
	// DirectiveAcceptHint is true when directive_intent = decision_hint("accept").
	DirectiveAcceptHint bool
	// PriorQuality is the previous iteration's quality, for collapse detection.
	PriorQuality float64
	// HasPriorQuality is false on the first iteration, when there is no prior.
	HasPriorQuality bool
	// ConsecutiveClarifies counts CLARIFY decisions immediately preceding this one.
	ConsecutiveClarifies int
}

// QualityCollapseDelta is the iteration-over-iteration quality drop that
// fires a breakpoint.
const QualityCollapseDelta = 0.3

// ConsecutiveClarifyLimit is the number of consecutive CLARIFYs that fires
// a breakpoint.
const ConsecutiveClarifyLimit = 3

// Decide applies the ordered rule set and returns the chosen action.
func Decide(in Input, th Thresholds) models.Decision {
	if in.ValidatorErrored {
		return models.DecisionRetry
	}

	if breakpointFires(in) {
		return models.DecisionBreakpoint
	}

	if in.DirectiveAcceptHint && in.ValidationPassed && in.Quality >= th.QualityProceedThreshold-0.1 {
		return promoteIfAtMax(models.DecisionProceed, in)
	}

	if !in.ValidationPassed || in.Quality < th.QualityCriticalThreshold {
		return models.DecisionEscalate
	}

	if in.ValidationPassed && in.Quality >= th.QualityProceedThreshold {
		return promoteIfAtMax(models.DecisionProceed, in)
	}

	if in.Quality >= th.QualityCriticalThreshold && in.Quality < th.QualityProceedThreshold {
		return promoteIfAtMax(models.DecisionClarify, in)
	}

	return promoteIfAtMax(models.DecisionRetry, in)
}

// breakpointFires reports whether any breakpoint condition has fired: an
// explicit trigger, the hard iteration ceiling, three consecutive
// CLARIFYs, or a quality collapse of more than 0.3 iteration-over-iteration.
func breakpointFires(in Input) bool {
	if len(in.BreakpointTriggers) > 0 {
		return true
	}
	if in.MaxIterations > 0 && in.Iteration >= in.MaxIterations*2 {
		// A hard ceiling independent of the ordinary max_iterations ESCALATE
		// promotion below — reserved for runaway loops that somehow bypass it.
		return true
	}
	if in.ConsecutiveClarifies >= ConsecutiveClarifyLimit {
		return true
	}
	if in.HasPriorQuality && (in.PriorQuality-in.Quality) > QualityCollapseDelta {
		return true
	}
	return false
}

// promoteIfAtMax implements "if iteration = max and the next action would
// be RETRY/CLARIFY, promote to ESCALATE"; PROCEED passes through unchanged.
func promoteIfAtMax(action models.Decision, in Input) models.Decision {
	if in.MaxIterations <= 0 || in.Iteration < in.MaxIterations {
		return action
	}
	if action == models.DecisionRetry || action == models.DecisionClarify {
		return models.DecisionEscalate
	}
	return action
}
