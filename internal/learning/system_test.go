package learning

import (
	"path/filepath"
	"testing"
)

func newTestSystem(t *testing.T) *LearningSystem {
	t.Helper()
	ls, err := NewLearningSystem(filepath.Join(t.TempDir(), "learnings.db"))
	if err != nil {
		t.Fatalf("NewLearningSystem: %v", err)
	}
	t.Cleanup(func() { ls.Close() })
	return ls
}

func TestNormalizeConditionStripsTaskID(t *testing.T) {
	got := normalizeCondition("transport: agentdriver[task-5]: timeout")
	want := "transport: agentdriver: timeout"
	if got != want {
		t.Errorf("normalizeCondition = %q, want %q", got, want)
	}
}

func TestRecordResolutionThenOnFailureFindsIt(t *testing.T) {
	ls := newTestSystem(t)

	if err := ls.RecordResolution("transport: agentdriver[task-1]: timeout", 3); err != nil {
		t.Fatalf("RecordResolution: %v", err)
	}

	matches, err := ls.OnFailure("transport: agentdriver[task-2]: timeout")
	if err != nil {
		t.Fatalf("OnFailure: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1 (same kind/component recurring against a different task)", len(matches))
	}
	if matches[0].TriggerCount != 2 {
		t.Errorf("TriggerCount = %d, want 2 (1 from creation, 1 from the OnFailure match)", matches[0].TriggerCount)
	}
}

func TestRecordResolutionTwiceIncrementsRatherThanDuplicates(t *testing.T) {
	ls := newTestSystem(t)

	if err := ls.RecordResolution("transport: agentdriver[task-1]: timeout", 2); err != nil {
		t.Fatalf("RecordResolution: %v", err)
	}
	if err := ls.RecordResolution("transport: agentdriver[task-9]: timeout", 5); err != nil {
		t.Fatalf("RecordResolution: %v", err)
	}

	matches, err := ls.OnFailure("transport: agentdriver[task-2]: timeout")
	if err != nil {
		t.Fatalf("OnFailure: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1 learning, not a duplicate per resolution", len(matches))
	}
}

func TestOnFailureWithNoLearningsReturnsEmpty(t *testing.T) {
	ls := newTestSystem(t)

	matches, err := ls.OnFailure("validator_parse: validator[task-3]: malformed yaml")
	if err != nil {
		t.Fatalf("OnFailure: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("len(matches) = %d, want 0", len(matches))
	}
}

func TestRecordResolutionEmptyConditionIsANoOp(t *testing.T) {
	ls := newTestSystem(t)

	if err := ls.RecordResolution("", 1); err != nil {
		t.Fatalf("RecordResolution on empty message should no-op, got error: %v", err)
	}

	matches, err := ls.OnFailure("")
	if err != nil {
		t.Fatalf("OnFailure: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("len(matches) = %d, want 0", len(matches))
	}
}
