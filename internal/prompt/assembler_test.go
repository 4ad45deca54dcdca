package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/obra-run/obra/pkg/models"
)

// charEstimator treats every 4 characters as one token, for deterministic
// truncation tests without a real tokenizer.
type charEstimator struct{}

func (charEstimator) Estimate(text string) (int64, error) {
	return int64(len(text) / 4), nil
}

func baseInput() Input {
	return Input{
		Task: &models.Task{ID: "task-1", Title: "Add retry logic", Description: "Implement exponential backoff."},
	}
}

func TestAssembleIncludesTaskAndSchema(t *testing.T) {
	a := New(nil)
	in := baseInput()
	in.RequiredFields = []string{"STATUS", "SUMMARY"}

	out, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Text, "task-1") {
		t.Error("expected the prompt to mention the task id")
	}
	if !strings.Contains(out.Text, "STATUS:") || !strings.Contains(out.Text, "SUMMARY:") {
		t.Errorf("expected the schema section to declare both required fields, got:\n%s", out.Text)
	}
}

func TestAssembleIncludesPriorIterationOnlyForClarifyOrRetry(t *testing.T) {
	a := New(nil)

	in := baseInput()
	in.PriorIteration = &models.Iteration{Decision: models.DecisionProceed, QualityComment: "all good"}
	out, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if strings.Contains(out.Text, "Address These Concerns") {
		t.Error("did not expect a concerns section after a PROCEED")
	}

	in.PriorIteration = &models.Iteration{Decision: models.DecisionClarify, QualityComment: "missing tests"}
	out, err = a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Text, "missing tests") {
		t.Error("expected the prior CLARIFY feedback to appear in the prompt")
	}
}

func TestAssembleAppendsDirectiveVerbatim(t *testing.T) {
	a := New(nil)
	in := baseInput()
	in.ToImplDirectives = []string{"Use the v2 API, not v1."}

	out, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Text, "Use the v2 API, not v1.") {
		t.Error("expected the directive body to appear verbatim")
	}
}

func TestAssembleTruncatesPriorIterationBeforeEpicBullets(t *testing.T) {
	a := New(charEstimator{})
	in := baseInput()
	in.EpicContextSummary = "oldest bullet about setup\nmiddle bullet about design\nnewest bullet about testing"
	in.PriorIteration = &models.Iteration{
		Decision:       models.DecisionRetry,
		QualityComment: strings.Repeat("feedback ", 50),
	}
	in.ContextLimit = 80 // tiny budget forces truncation with the 4-chars-per-token estimator

	out, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if strings.Contains(out.Text, "feedback feedback") {
		t.Error("expected the prior-iteration section to be dropped first under a tight budget")
	}
	if !strings.Contains(out.Text, in.Task.Description) {
		t.Error("task description must never be truncated")
	}
}

func TestAssembleRendersStructureNotesInsideEpicContext(t *testing.T) {
	a := New(nil)
	in := baseInput()
	in.EpicContextSummary = "the epic is about the retry subsystem"
	in.StructureNotes = []string{"internal/retry/*.go — Retry Coordinator internals"}

	out, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Text, "## Epic Context") {
		t.Fatal("expected an Epic Context section")
	}
	if !strings.Contains(out.Text, "Retry Coordinator internals") {
		t.Error("expected the structure note to render inside Epic Context")
	}
}

func TestAssembleDropsStructureNotesBeforeEpicSummary(t *testing.T) {
	a := New(charEstimator{})
	in := baseInput()
	in.EpicContextSummary = "the epic summary must survive truncation"
	in.StructureNotes = []string{strings.Repeat("dispensable layout note ", 20)}
	in.ContextLimit = 60

	out, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if strings.Contains(out.Text, "dispensable layout note") {
		t.Error("expected structure notes to be dropped before the Epic summary under a tight budget")
	}
	if !strings.Contains(out.Text, "the epic summary must survive truncation") {
		t.Error("expected the Epic summary to survive truncation ahead of structure notes")
	}
}

func TestAssembleNeverTruncatesTaskDescription(t *testing.T) {
	a := New(charEstimator{})
	in := baseInput()
	in.Task.Description = strings.Repeat("critical requirement. ", 100)
	in.EpicContextSummary = "bullet one\nbullet two\nbullet three"
	in.ContextLimit = 40

	out, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out.Text, in.Task.Description) {
		t.Error("task description must survive truncation even when over budget")
	}
}
