package retry

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/obra-run/obra/internal/errs"
	"github.com/obra-run/obra/internal/learning"
	"github.com/obra-run/obra/internal/store"
)

func newTestCache(t *testing.T) *store.RetryCache {
	t.Helper()
	cache, err := store.OpenRetryCache(filepath.Join(t.TempDir(), "retry.db"))
	if err != nil {
		t.Fatalf("OpenRetryCache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestEvaluateRetryableSchedulesNextAttempt(t *testing.T) {
	cache := newTestCache(t)
	c := New(cache, Config{MaxRetries: 3, BaseDelay: 0, MaxDelay: 0, BackoffFactor: 2.0})

	err := errs.New(errs.KindTransport, "agentdriver", "task-1", errPlain{"timeout"})
	out, evalErr := c.Evaluate("task-1", 0, err)
	if evalErr != nil {
		t.Fatalf("Evaluate: %v", evalErr)
	}
	if !out.ShouldRetry {
		t.Fatal("expected ShouldRetry=true for a retryable error within max_retries")
	}
	if out.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", out.Attempt)
	}
	if out.TerminalErr != nil {
		t.Errorf("did not expect a terminal error, got %v", out.TerminalErr)
	}
}

func TestEvaluateTerminalClassClearsSchedule(t *testing.T) {
	cache := newTestCache(t)
	c := New(cache, DefaultConfig())

	err := errs.New(errs.KindConfiguration, "config", "", errPlain{"bad config"})
	out, evalErr := c.Evaluate("task-2", 0, err)
	if evalErr != nil {
		t.Fatalf("Evaluate: %v", evalErr)
	}
	if out.ShouldRetry {
		t.Error("expected ShouldRetry=false for a terminal error")
	}
	if out.TerminalErr == nil {
		t.Error("expected a TerminalErr for a terminal error class")
	}
}

func TestEvaluateExhaustedRetriesReturnsTerminal(t *testing.T) {
	cache := newTestCache(t)
	c := New(cache, Config{MaxRetries: 2, BaseDelay: 0, MaxDelay: 0, BackoffFactor: 2.0})

	err := errs.New(errs.KindTransport, "agentdriver", "task-3", errPlain{"timeout"})
	out, evalErr := c.Evaluate("task-3", 2, err)
	if evalErr != nil {
		t.Fatalf("Evaluate: %v", evalErr)
	}
	if out.ShouldRetry {
		t.Error("expected ShouldRetry=false once max_retries is exceeded")
	}
	if out.TerminalErr == nil {
		t.Error("expected a TerminalErr once retries are exhausted")
	}
}

func TestDueReportsFalseBeforeScheduledTime(t *testing.T) {
	cache := newTestCache(t)
	c := New(cache, Config{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1.0})

	err := errs.New(errs.KindTransport, "agentdriver", "task-4", errPlain{"timeout"})
	if _, evalErr := c.Evaluate("task-4", 0, err); evalErr != nil {
		t.Fatalf("Evaluate: %v", evalErr)
	}

	due, dueErr := c.Due("task-4")
	if dueErr != nil {
		t.Fatalf("Due: %v", dueErr)
	}
	if due {
		t.Error("expected Due=false immediately after scheduling an hour-long backoff")
	}
}

type stubConsultant struct {
	matches []*learning.Learning
	err     error
}

func (s stubConsultant) OnFailure(string) ([]*learning.Learning, error) {
	return s.matches, s.err
}

func TestEvaluateAttachesGuidanceFromMatchingLearning(t *testing.T) {
	cache := newTestCache(t)
	c := New(cache, Config{MaxRetries: 3, BaseDelay: 0, MaxDelay: 0, BackoffFactor: 2.0}).
		WithLearnings(stubConsultant{matches: []*learning.Learning{
			{Condition: "a transport timeout occurs", Action: "double the turn budget", TriggerCount: 2},
		}})

	err := errs.New(errs.KindTransport, "agentdriver", "task-5", errPlain{"timeout"})
	out, evalErr := c.Evaluate("task-5", 0, err)
	if evalErr != nil {
		t.Fatalf("Evaluate: %v", evalErr)
	}
	if out.Guidance == "" {
		t.Fatal("expected non-empty Guidance when the consultant returns a match")
	}
	if !strings.Contains(out.Guidance, "double the turn budget") {
		t.Errorf("Guidance = %q, want it to mention the matched learning's action", out.Guidance)
	}
}

func TestEvaluateLeavesGuidanceEmptyWithoutAConsultant(t *testing.T) {
	cache := newTestCache(t)
	c := New(cache, Config{MaxRetries: 3, BaseDelay: 0, MaxDelay: 0, BackoffFactor: 2.0})

	err := errs.New(errs.KindTransport, "agentdriver", "task-6", errPlain{"timeout"})
	out, evalErr := c.Evaluate("task-6", 0, err)
	if evalErr != nil {
		t.Fatalf("Evaluate: %v", evalErr)
	}
	if out.Guidance != "" {
		t.Errorf("Guidance = %q, want empty with no consultant configured", out.Guidance)
	}
}

func TestEvaluateIgnoresConsultantErrors(t *testing.T) {
	cache := newTestCache(t)
	c := New(cache, Config{MaxRetries: 3, BaseDelay: 0, MaxDelay: 0, BackoffFactor: 2.0}).
		WithLearnings(stubConsultant{err: errPlain{"lookup failed"}})

	err := errs.New(errs.KindTransport, "agentdriver", "task-7", errPlain{"timeout"})
	out, evalErr := c.Evaluate("task-7", 0, err)
	if evalErr != nil {
		t.Fatalf("Evaluate: %v", evalErr)
	}
	if out.Guidance != "" {
		t.Error("expected a consultant error to leave Guidance empty rather than fail the retry")
	}
}

type recordingConsultant struct {
	stubConsultant
	recordedMessage  string
	recordedAttempts int
}

func (r *recordingConsultant) RecordResolution(errorMessage string, attempts int) error {
	r.recordedMessage = errorMessage
	r.recordedAttempts = attempts
	return nil
}

func TestRecordResolutionCallsThroughWhenSupported(t *testing.T) {
	cache := newTestCache(t)
	recorder := &recordingConsultant{}
	c := New(cache, DefaultConfig()).WithLearnings(recorder)

	c.RecordResolution("a transport timeout occurs", 2)

	if recorder.recordedMessage != "a transport timeout occurs" {
		t.Errorf("recordedMessage = %q, want the resolved error message", recorder.recordedMessage)
	}
	if recorder.recordedAttempts != 2 {
		t.Errorf("recordedAttempts = %d, want 2", recorder.recordedAttempts)
	}
}

func TestRecordResolutionNoOpsWithoutRecorderSupport(t *testing.T) {
	cache := newTestCache(t)
	c := New(cache, DefaultConfig()).WithLearnings(stubConsultant{})

	// stubConsultant does not implement LearningRecorder; this must not panic.
	c.RecordResolution("a transport timeout occurs", 1)
}
