package decision

import (
	"testing"

	"github.com/obra-run/obra/pkg/models"
)

func TestDecideProceedAtThresholdInclusive(t *testing.T) {
	th := DefaultThresholds()
	in := Input{ValidationPassed: true, Quality: th.QualityProceedThreshold, Iteration: 1, MaxIterations: 5}
	if got := Decide(in, th); got != models.DecisionProceed {
		t.Errorf("quality == proceed threshold exactly: expected PROCEED, got %s", got)
	}
}

func TestDecideClarifyAtCriticalThresholdInclusive(t *testing.T) {
	th := DefaultThresholds()
	in := Input{ValidationPassed: true, Quality: th.QualityCriticalThreshold, Iteration: 1, MaxIterations: 5}
	if got := Decide(in, th); got != models.DecisionClarify {
		t.Errorf("quality == critical threshold exactly: expected CLARIFY, got %s", got)
	}
}

func TestDecideEscalatesBelowCriticalThreshold(t *testing.T) {
	th := DefaultThresholds()
	in := Input{ValidationPassed: true, Quality: 0.42, Iteration: 1, MaxIterations: 5}
	if got := Decide(in, th); got != models.DecisionEscalate {
		t.Errorf("expected ESCALATE for quality below critical threshold, got %s", got)
	}
}

func TestDecideEscalatesOnValidationFailure(t *testing.T) {
	th := DefaultThresholds()
	in := Input{ValidationPassed: false, Quality: 0.9, Iteration: 1, MaxIterations: 5}
	if got := Decide(in, th); got != models.DecisionEscalate {
		t.Errorf("expected ESCALATE when validation failed regardless of quality, got %s", got)
	}
}

func TestDecideRetryOnValidatorError(t *testing.T) {
	th := DefaultThresholds()
	in := Input{ValidatorErrored: true, ValidationPassed: true, Quality: 0.9}
	if got := Decide(in, th); got != models.DecisionRetry {
		t.Errorf("a validator-boundary failure must be RETRY regardless of other signals, got %s", got)
	}
}

func TestDecidePromotesToEscalateAtMaxIterations(t *testing.T) {
	th := DefaultThresholds()
	for _, quality := range []float64{0.6, th.QualityCriticalThreshold} {
		in := Input{ValidationPassed: true, Quality: quality, Iteration: 5, MaxIterations: 5}
		if got := Decide(in, th); got != models.DecisionEscalate {
			t.Errorf("RETRY/CLARIFY at iteration==max must promote to ESCALATE, got %s for quality=%v", got, quality)
		}
	}
}

func TestDecideProceedNotPromotedAtMaxIterations(t *testing.T) {
	th := DefaultThresholds()
	in := Input{ValidationPassed: true, Quality: 0.9, Iteration: 5, MaxIterations: 5}
	if got := Decide(in, th); got != models.DecisionProceed {
		t.Errorf("PROCEED must pass through unchanged at max iterations, got %s", got)
	}
}

func TestDecideBreakpointOnConsecutiveClarifies(t *testing.T) {
	th := DefaultThresholds()
	in := Input{ValidationPassed: true, Quality: 0.6, Iteration: 4, MaxIterations: 10, ConsecutiveClarifies: 3}
	if got := Decide(in, th); got != models.DecisionBreakpoint {
		t.Errorf("three consecutive CLARIFYs must trigger BREAKPOINT, got %s", got)
	}
}

func TestDecideBreakpointOnQualityCollapse(t *testing.T) {
	th := DefaultThresholds()
	in := Input{
		ValidationPassed: true, Quality: 0.5, Iteration: 3, MaxIterations: 10,
		PriorQuality: 0.85, HasPriorQuality: true,
	}
	if got := Decide(in, th); got != models.DecisionBreakpoint {
		t.Errorf("a >0.3 iteration-over-iteration quality drop must trigger BREAKPOINT, got %s", got)
	}
}

func TestDecideDirectiveAcceptHintLowersBar(t *testing.T) {
	th := DefaultThresholds()
	in := Input{
		ValidationPassed: true, Quality: th.QualityProceedThreshold - 0.1,
		Iteration: 1, MaxIterations: 5, DirectiveAcceptHint: true,
	}
	if got := Decide(in, th); got != models.DecisionProceed {
		t.Errorf("accept directive hint at threshold-0.1 must PROCEED, got %s", got)
	}
}

func TestDecideEscalatesJustBelowCriticalThreshold(t *testing.T) {
	th := DefaultThresholds()
	in := Input{ValidationPassed: true, Quality: th.QualityCriticalThreshold - 0.01, Iteration: 1, MaxIterations: 5}
	if got := Decide(in, th); got != models.DecisionEscalate {
		t.Errorf("expected ESCALATE just under critical threshold, got %s", got)
	}
}
