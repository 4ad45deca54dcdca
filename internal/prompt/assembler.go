// Package prompt implements the Prompt Assembler: it composes the text
// sent to the Implementer from the task, Epic context, prior-iteration
// feedback, and injected directives, declaring the response schema the
// Validator Pipeline expects, and truncating under a token budget in a
// fixed priority order.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/obra-run/obra/pkg/models"
)

// defaultSafetyMargin leaves headroom below the hard token budget.
const defaultSafetyMargin = 0.20

// Estimator measures the approximate token length of a string. It is
// satisfied by *internal/session.Estimator; kept as an interface here so
// this package does not import internal/session for a single method.
type Estimator interface {
	Estimate(text string) (int64, error)
}

// Input bundles everything Assemble needs for one prompt.
type Input struct {
	Task *models.Task

	// EpicContextSummary is the carried-forward Epic summary, if any. It
	// is split into bullet lines for truncation purposes.
	EpicContextSummary string

	// StructureNotes are repository-layout bullets (one per directory
	// convention relevant to this task), built from
	// internal/structure.StructureRules.GetRulesForPath. They render
	// inside the Epic Context section but are truncated ahead of the
	// Epic summary itself, being the more dispensable of the two.
	StructureNotes []string

	// PriorIteration is the most recent prior iteration, when the
	// previous action was CLARIFY or RETRY. Nil on a task's first
	// iteration or after a PROCEED/ESCALATE.
	PriorIteration *models.Iteration

	// ToImplDirectives are pending to_impl directive bodies, oldest
	// first, already filtered to this task by the Injected-Directive
	// Channel. The caller is responsible for marking one-shot entries
	// consumed once the prompt has actually been sent.
	ToImplDirectives []string

	// RequiredFields are the field names the Validator Pipeline's
	// completeness check will look for in the response.
	RequiredFields []string

	// ContextLimit is the model's total context window in tokens. If
	// zero, no truncation is attempted.
	ContextLimit int64
}

// Assembled is Assemble's output: the prompt text plus the schema
// declaration the caller persists alongside it for audit.
type Assembled struct {
	Text           string
	RequiredFields []string
	// OverBudget is true if the prompt still exceeds the token budget
	// after every truncatable section was removed.
	OverBudget bool
}

// Assembler composes prompts and declares the required response schema.
type Assembler struct {
	estimator    Estimator
	safetyMargin float64
}

// New constructs an Assembler. estimator may be nil, in which case
// Assemble never truncates (useful for tests or a driver with no
// configured token budget).
func New(estimator Estimator) *Assembler {
	return &Assembler{estimator: estimator, safetyMargin: defaultSafetyMargin}
}

// Assemble builds the prompt text, truncating the prior-iteration section
// first and then the oldest Epic-context bullets if the result would
// overflow the budget. The task description and acceptance criteria are
// never truncated.
func (a *Assembler) Assemble(ctx context.Context, in Input) (Assembled, error) {
	header := buildHeader(in.Task)
	bullets := append(append([]string{}, in.StructureNotes...), splitBullets(in.EpicContextSummary)...)
	prior := buildPriorIterationSection(in.PriorIteration)
	directives := buildDirectiveSection(in.ToImplDirectives)
	schema := buildSchemaSection(in.RequiredFields)

	budget := a.budget(in.ContextLimit)

	for {
		text := render(header, bullets, prior, directives, schema)
		if budget <= 0 || a.estimator == nil {
			return Assembled{Text: text, RequiredFields: in.RequiredFields}, nil
		}

		tokens, err := a.estimator.Estimate(text)
		if err != nil {
			return Assembled{}, fmt.Errorf("estimate prompt tokens: %w", err)
		}
		if tokens <= budget {
			return Assembled{Text: text, RequiredFields: in.RequiredFields}, nil
		}

		if prior != "" {
			prior = ""
			continue
		}
		if len(bullets) > 0 {
			bullets = bullets[1:]
			continue
		}

		return Assembled{Text: text, RequiredFields: in.RequiredFields, OverBudget: true}, nil
	}
}

// budget returns the usable token budget for a context limit, after
// reserving the safety margin.
func (a *Assembler) budget(contextLimit int64) int64 {
	if contextLimit <= 0 {
		return 0
	}
	return int64(float64(contextLimit) * (1 - a.safetyMargin))
}

func buildHeader(task *models.Task) string {
	var sb strings.Builder
	sb.WriteString("## Task\n\n")
	fmt.Fprintf(&sb, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&sb, "Title: %s\n", task.Title)
	if task.Description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(task.Description)
		sb.WriteString("\n")
	}
	if task.AcceptanceCriteria != "" {
		sb.WriteString("\nAcceptance Criteria:\n")
		sb.WriteString(task.AcceptanceCriteria)
		sb.WriteString("\n")
	}
	return sb.String()
}

func splitBullets(summary string) []string {
	if strings.TrimSpace(summary) == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(summary), "\n")
	bullets := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		bullets = append(bullets, l)
	}
	return bullets
}

func buildPriorIterationSection(prior *models.Iteration) string {
	if prior == nil {
		return ""
	}
	if prior.Decision != models.DecisionClarify && prior.Decision != models.DecisionRetry {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n## Address These Concerns\n\n")
	sb.WriteString("The previous iteration was not accepted. Address the following before continuing:\n\n")
	if prior.QualityComment != "" {
		fmt.Fprintf(&sb, "- %s\n", prior.QualityComment)
	}
	for _, issue := range prior.CompletenessIssues {
		fmt.Fprintf(&sb, "- %s\n", issue)
	}
	return sb.String()
}

func buildDirectiveSection(directives []string) string {
	if len(directives) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n## Operator Directive\n\n")
	for _, d := range directives {
		sb.WriteString(d)
		sb.WriteString("\n")
	}
	return sb.String()
}

func buildSchemaSection(requiredFields []string) string {
	if len(requiredFields) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n## Required Response Format\n\n")
	sb.WriteString("Your response must include the following labelled fields:\n\n")
	for _, f := range requiredFields {
		fmt.Fprintf(&sb, "- %s:\n", f)
	}
	return sb.String()
}

func render(header string, bullets []string, prior, directives, schema string) string {
	var sb strings.Builder
	sb.WriteString(header)
	if len(bullets) > 0 {
		sb.WriteString("\n## Epic Context\n\n")
		for _, b := range bullets {
			sb.WriteString(b)
			sb.WriteString("\n")
		}
	}
	sb.WriteString(prior)
	sb.WriteString(directives)
	sb.WriteString(schema)
	return sb.String()
}
