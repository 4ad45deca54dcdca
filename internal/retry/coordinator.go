package retry

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/obra-run/obra/internal/errs"
	"github.com/obra-run/obra/internal/learning"
	"github.com/obra-run/obra/internal/store"
)

// Config holds the retry coordinator's tunables.
type Config struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig returns the recommended default tunables.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second, BackoffFactor: 2.0}
}

// Outcome is what the Iteration Controller should do after a failure is
// evaluated.
type Outcome struct {
	// ShouldRetry is true if the task may re-enter the step that failed
	// after waiting until NextAttemptAt.
	ShouldRetry bool
	// Attempt is the attempt number just scheduled (1-indexed).
	Attempt int
	// NextAttemptAt is when the task becomes due, already persisted to the
	// retry cache.
	NextAttemptAt time.Time
	// TerminalErr is set when retries are exhausted or the failure was
	// classified terminal; the Iteration Controller must raise this rather
	// than loop.
	TerminalErr error
	// Guidance is non-empty when a past learning matched this failure's
	// error message; the Iteration Controller folds it into the retry
	// prompt ahead of falling back to a bare "it failed, try again".
	Guidance string
}

// LearningConsultant looks up prior learnings matching a failure's error
// message. internal/learning.LearningSystem satisfies this.
type LearningConsultant interface {
	OnFailure(errorMessage string) ([]*learning.Learning, error)
}

// LearningRecorder captures how a failure was eventually resolved, so a
// future occurrence of the same error surfaces guidance instead of a blind
// retry. internal/learning.LearningSystem satisfies this in addition to
// LearningConsultant; the Coordinator reaches it through an optional type
// assertion so a consultant that only answers OnFailure still works.
type LearningRecorder interface {
	RecordResolution(errorMessage string, attempts int) error
}

// Coordinator evaluates failures, maintains per-task attempt counters in a
// crash-recoverable cache, and computes backoff delays.
type Coordinator struct {
	cache      *store.RetryCache
	cfg        Config
	rand       *rand.Rand
	consultant LearningConsultant
}

// New constructs a Coordinator backed by a retry cache.
func New(cache *store.RetryCache, cfg Config) *Coordinator {
	return &Coordinator{cache: cache, cfg: cfg, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// WithLearnings attaches a learning consultant, consulted for guidance on
// every retryable failure before the Coordinator falls back to a generic
// backoff with no hint attached. Returns c for chaining.
func (c *Coordinator) WithLearnings(consultant LearningConsultant) *Coordinator {
	c.consultant = consultant
	return c
}

// Evaluate classifies err for taskID, incrementing and persisting the
// task's attempt counter. A retryable error within max_retries schedules
// the next attempt and returns ShouldRetry=true; a terminal error, or a
// retryable error with attempts exhausted, returns a TerminalErr instead.
func (c *Coordinator) Evaluate(taskID string, attempt int, err error) (Outcome, error) {
	class := ClassifyErr(err)
	if class == ClassTerminal {
		if clearErr := c.cache.Clear(taskID); clearErr != nil {
			return Outcome{}, fmt.Errorf("clear retry schedule on terminal error: %w", clearErr)
		}
		return Outcome{TerminalErr: err}, nil
	}

	nextAttempt := attempt + 1
	if nextAttempt > c.cfg.MaxRetries {
		if clearErr := c.cache.Clear(taskID); clearErr != nil {
			return Outcome{}, fmt.Errorf("clear retry schedule on exhaustion: %w", clearErr)
		}
		return Outcome{TerminalErr: errs.Wrap(errs.KindTransport, "retry", taskID,
			fmt.Sprintf("exhausted %d retries", c.cfg.MaxRetries), err)}, nil
	}

	delay := DelayForAttempt(c.cfg.BaseDelay, c.cfg.MaxDelay, c.cfg.BackoffFactor, attempt, c.rand)
	nextAt := time.Now().Add(delay)

	kind, _ := errs.KindOf(err)
	if schedErr := c.cache.Schedule(taskID, nextAttempt, string(kind), nextAt); schedErr != nil {
		return Outcome{}, fmt.Errorf("persist retry schedule: %w", schedErr)
	}

	return Outcome{ShouldRetry: true, Attempt: nextAttempt, NextAttemptAt: nextAt, Guidance: c.guidanceFor(err)}, nil
}

// guidanceFor consults the learning system for a failure's error message.
// It never fails the retry: a consultation error or a miss just means the
// Iteration Controller falls back to a plain "it failed, try again" retry
// prompt with no extra guidance attached.
func (c *Coordinator) guidanceFor(err error) string {
	if c.consultant == nil {
		return ""
	}
	matches, lookupErr := c.consultant.OnFailure(err.Error())
	if lookupErr != nil || len(matches) == 0 {
		return ""
	}
	lines := make([]string, 0, len(matches))
	for _, l := range matches {
		lines = append(lines, fmt.Sprintf("when %s, %s (seen %dx before)", l.Condition, l.Action, l.TriggerCount))
	}
	return "a similar failure has been seen before: " + strings.Join(lines, "; ")
}

// RecordResolution tells the learning consultant that errorMessage
// eventually resolved after attempts retries, when the consultant attached
// via WithLearnings also supports recording. A miss or a recording error is
// swallowed: a resolution going unrecorded never fails the task that just
// succeeded.
func (c *Coordinator) RecordResolution(errorMessage string, attempts int) {
	if recorder, ok := c.consultant.(LearningRecorder); ok {
		recorder.RecordResolution(errorMessage, attempts)
	}
}

// Due reports whether taskID's scheduled retry time has passed.
func (c *Coordinator) Due(taskID string) (bool, error) {
	return c.cache.Due(taskID, time.Now())
}

// Clear removes a task's retry schedule once it reaches a terminal state.
func (c *Coordinator) Clear(taskID string) error {
	return c.cache.Clear(taskID)
}
