package validator

import "testing"

func TestCheckCompletenessEmptyResponse(t *testing.T) {
	got := CheckCompleteness("", nil)
	if got.Complete {
		t.Error("expected incomplete for an empty response")
	}
}

func TestCheckCompletenessUnbalancedFences(t *testing.T) {
	got := CheckCompleteness("```go\nfunc main() {}\n", nil)
	if got.Complete {
		t.Error("expected incomplete for unbalanced code fences")
	}
}

func TestCheckCompletenessMissingDeclaredField(t *testing.T) {
	got := CheckCompleteness("STATUS: done", []string{"STATUS", "SUMMARY"})
	if got.Complete {
		t.Error("expected incomplete when a declared field is missing")
	}
	if len(got.Issues) != 1 {
		t.Errorf("expected exactly 1 issue, got %d: %v", len(got.Issues), got.Issues)
	}
}

func TestCheckCompletenessPasses(t *testing.T) {
	got := CheckCompleteness("STATUS: done\nSUMMARY: all tests pass\n```go\nfmt.Println(1)\n```", []string{"STATUS", "SUMMARY"})
	if !got.Complete {
		t.Errorf("expected complete, got issues: %v", got.Issues)
	}
}
