package learning

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idBracket strips the "[taskID]" component errs.Error.Error() embeds, so
// the same failure recurring against a different task still normalizes to
// the same condition text.
var idBracket = regexp.MustCompile(`\[[^\]]*\]`)

func normalizeCondition(errorMessage string) string {
	return strings.TrimSpace(idBracket.ReplaceAllString(errorMessage, ""))
}

// LearningSystem is the Retry Coordinator's learning consultant: it answers
// OnFailure with prior resolutions for a matching error, and records a new
// one via RecordResolution once a retried task succeeds.
type LearningSystem struct {
	store *store
}

// NewLearningSystem opens (creating if necessary) the learnings database at
// dbPath and runs its migration.
func NewLearningSystem(dbPath string) (*LearningSystem, error) {
	s, err := openStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}
	return &LearningSystem{store: s}, nil
}

// Close releases the underlying database connection.
func (ls *LearningSystem) Close() error {
	return ls.store.close()
}

// OnFailure looks up learnings whose condition matches errorMessage,
// recording a trigger against each match before returning them.
func (ls *LearningSystem) OnFailure(errorMessage string) ([]*Learning, error) {
	matches, err := ls.store.searchByCondition(normalizeCondition(errorMessage))
	if err != nil {
		return nil, fmt.Errorf("search for matching learning: %w", err)
	}
	for _, l := range matches {
		if err := ls.store.incrementTriggerCount(l.ID); err != nil {
			continue
		}
	}
	return matches, nil
}

// RecordResolution captures that errorMessage eventually resolved after
// attempts retries: a future occurrence surfaces this as guidance via
// OnFailure instead of a blind retry. If a learning for the same
// normalized condition already exists, its trigger is recorded instead of
// creating a duplicate.
func (ls *LearningSystem) RecordResolution(errorMessage string, attempts int) error {
	condition := normalizeCondition(errorMessage)
	if condition == "" {
		return nil
	}

	existing, err := ls.store.searchByCondition(condition)
	if err != nil {
		return fmt.Errorf("check for existing learning: %w", err)
	}
	for _, l := range existing {
		if l.Condition == condition {
			return ls.store.incrementTriggerCount(l.ID)
		}
	}

	return ls.store.create(&Learning{
		ID:           uuid.New().String(),
		Condition:    condition,
		Action:       "retrying the same prompt",
		Outcome:      fmt.Sprintf("succeeded after %d attempt(s)", attempts),
		Scope:        "repo",
		TriggerCount: 1,
		OutcomeType:  "success",
		CreatedAt:    time.Now(),
	})
}
