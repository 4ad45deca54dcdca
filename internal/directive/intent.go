package directive

import "strings"

// Intent classifies a to_orch directive so the Decision Engine and the
// Validator Pipeline know what to do with it.
type Intent string

const (
	// IntentValidationGuidance steers the Validator Pipeline's quality
	// scoring prompt for this task's remaining iterations.
	IntentValidationGuidance Intent = "validation_guidance"
	// IntentDecisionHint biases the Decision Engine's next verdict.
	IntentDecisionHint Intent = "decision_hint"
	// IntentFeedbackRequest asks the Orchestrator LLM to produce an
	// analysis that is then queued as a pending to_impl directive.
	IntentFeedbackRequest Intent = "feedback_request"
	// IntentGeneral is anything that doesn't match a more specific intent.
	IntentGeneral Intent = "general"
)

// validationKeywords and the other keyword lists below implement a simple
// keyword heuristic rather than a model call, since classifying operator
// shorthand doesn't need one.
var (
	validationKeywords = []string{"validate", "check for", "make sure", "watch for", "grade", "scoring"}
	decisionKeywords   = []string{"proceed", "escalate", "retry", "clarify", "accept", "reject", "approve"}
	feedbackKeywords   = []string{"why", "explain", "what happened", "analyze", "analyse", "feedback"}
)

// Classify applies the keyword heuristics to a to_orch directive's text.
func Classify(text string) Intent {
	lower := strings.ToLower(text)

	if containsAny(lower, feedbackKeywords) {
		return IntentFeedbackRequest
	}
	if containsAny(lower, decisionKeywords) {
		return IntentDecisionHint
	}
	if containsAny(lower, validationKeywords) {
		return IntentValidationGuidance
	}
	return IntentGeneral
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
