// Package directive implements a per-(project,task) inbox for operator
// directives, classified by intent and applied in strict arrival order.
package directive

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/obra-run/obra/internal/store"
)

// Direction is which side of the loop a directive targets.
type Direction string

const (
	// DirectionToImpl directives are appended to the next Implementer prompt.
	DirectionToImpl Direction = "to_impl"
	// DirectionToOrch directives are classified by Intent for the
	// Orchestrator LLM / Decision Engine.
	DirectionToOrch Direction = "to_orch"
)

// Inbox manages directive submission and consumption for one Obra store.
type Inbox struct {
	db *store.DB
}

// New constructs an Inbox backed by db.
func New(db *store.DB) *Inbox {
	return &Inbox{db: db}
}

// SubmitToImpl queues a directive to be appended to the next prompt sent to
// the Implementer for taskID. sticky directives are re-applied to every
// iteration until explicitly cleared; non-sticky ones are consumed after
// one iteration.
func (ib *Inbox) SubmitToImpl(projectID, taskID, text string, sticky bool) error {
	d := &store.Directive{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		TaskID:    taskID,
		Direction: string(DirectionToImpl),
		Intent:    string(IntentGeneral),
		Body:      text,
		Sticky:    sticky,
		CreatedAt: nowStamp(),
	}
	if err := ib.db.CreateDirective(d); err != nil {
		return fmt.Errorf("submit to_impl directive: %w", err)
	}
	return nil
}

// SubmitToOrch queues a directive for the Orchestrator LLM / Decision
// Engine, classifying its intent via keyword heuristics.
func (ib *Inbox) SubmitToOrch(projectID, taskID, text string) (*store.Directive, error) {
	d := &store.Directive{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		TaskID:    taskID,
		Direction: string(DirectionToOrch),
		Intent:    string(Classify(text)),
		Body:      text,
		CreatedAt: nowStamp(),
	}
	if err := ib.db.CreateDirective(d); err != nil {
		return nil, fmt.Errorf("submit to_orch directive: %w", err)
	}
	return d, nil
}

// ApplyToImpl returns the to_impl directive bodies that were captured
// strictly before cutoff (the moment the current iteration's prompt
// assembly began), oldest first, and consumes the non-sticky ones.
// Directives arriving after cutoff are left pending for the next call.
func (ib *Inbox) ApplyToImpl(projectID, taskID string, cutoff time.Time) ([]string, error) {
	pending, err := ib.db.PendingDirectivesBefore(projectID, taskID, string(DirectionToImpl), stamp(cutoff))
	if err != nil {
		return nil, fmt.Errorf("load pending to_impl directives: %w", err)
	}

	bodies := make([]string, 0, len(pending))
	for _, d := range pending {
		bodies = append(bodies, d.Body)
		if !d.Sticky {
			if err := ib.db.ConsumeDirective(d.ID); err != nil {
				return nil, fmt.Errorf("consume to_impl directive %s: %w", d.ID, err)
			}
		}
	}
	return bodies, nil
}

// PendingToOrch returns unconsumed to_orch directives captured before
// cutoff, oldest first. Callers consume each one explicitly via Consume
// once its effect (decision hint, validation guidance, feedback analysis)
// has been applied.
func (ib *Inbox) PendingToOrch(projectID, taskID string, cutoff time.Time) ([]*store.Directive, error) {
	pending, err := ib.db.PendingDirectivesBefore(projectID, taskID, string(DirectionToOrch), stamp(cutoff))
	if err != nil {
		return nil, fmt.Errorf("load pending to_orch directives: %w", err)
	}
	return pending, nil
}

// Consume marks a directive consumed regardless of direction or stickiness.
func (ib *Inbox) Consume(directiveID string) error {
	if err := ib.db.ConsumeDirective(directiveID); err != nil {
		return fmt.Errorf("consume directive %s: %w", directiveID, err)
	}
	return nil
}

func nowStamp() string { return stamp(time.Now()) }

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
