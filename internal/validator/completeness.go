// Package validator implements the Validator Pipeline: completeness
// checking, LLM-backed quality scoring, and confidence derivation, run in
// that order against a single Implementer response.
package validator

import "strings"

// CompletenessResult is stage 1's verdict.
type CompletenessResult struct {
	Complete bool
	Issues   []string
}

// CheckCompleteness runs syntactic predicates on a raw Implementer
// response: non-empty, code fences balanced, and every field the Prompt
// Assembler declared in requiredFields present somewhere in the text.
func CheckCompleteness(raw string, requiredFields []string) CompletenessResult {
	var issues []string

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		issues = append(issues, "response is empty")
	}

	if fences := strings.Count(raw, "```"); fences%2 != 0 {
		issues = append(issues, "unbalanced code fences")
	}

	for _, field := range requiredFields {
		if !strings.Contains(raw, field) {
			issues = append(issues, "missing declared field: "+field)
		}
	}

	return CompletenessResult{Complete: len(issues) == 0, Issues: issues}
}
