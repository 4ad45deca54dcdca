// Package session implements the Session & Context Manager: cumulative
// per-session token tracking, threshold-driven refresh, and Epic-summary
// carry-forward between sessions.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/obra-run/obra/internal/llmgateway"
	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/pkg/models"
)

// Thresholds are the fractions of Limit at which the manager changes
// behavior, across three ordered tiers.
type Thresholds struct {
	Limit    int64
	Warning  float64
	Refresh  float64
	Critical float64
}

// DefaultThresholds returns the recommended default tiers.
func DefaultThresholds() Thresholds {
	return Thresholds{Limit: 200_000, Warning: 0.70, Refresh: 0.80, Critical: 0.95}
}

// Action is what CheckThresholds tells the Iteration Controller to do
// before assembling the next prompt.
type Action string

const (
	// ActionNone means the session may be used as-is.
	ActionNone Action = "none"
	// ActionWarn means log and expose the warning; no behavioral change.
	ActionWarn Action = "warn"
	// ActionRefresh means rotate the session before the next iteration.
	ActionRefresh Action = "refresh"
	// ActionCriticalRefresh means rotate immediately and signal the
	// Dependency Scheduler to consider decomposing remaining work.
	ActionCriticalRefresh Action = "critical_refresh"
)

// Manager tracks cumulative token usage per session and performs refreshes.
type Manager struct {
	db         *store.DB
	gw         llmgateway.Gateway
	thresholds Thresholds
}

// New constructs a Manager. gw is the Orchestrator LLM gateway used for
// end-of-session Epic summarization.
func New(db *store.DB, gw llmgateway.Gateway, thresholds Thresholds) *Manager {
	return &Manager{db: db, gw: gw, thresholds: thresholds}
}

// EnsureOpen returns the Epic's currently active session, opening a new one
// if none exists yet. A session is scoped to a project and, when driving
// Epic-owned iterations, to that Epic.
func (m *Manager) EnsureOpen(ctx context.Context, projectID, epicID string) (*models.Session, error) {
	existing, err := m.db.ActiveSessionForEpic(projectID, epicID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("look up active session: %w", err)
	}

	s := &models.Session{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		EpicID:        epicID,
		State:         models.SessionActive,
		ContextWindow: m.thresholds.Limit,
		StartedAt:     time.Now(),
	}

	predecessor, err := m.db.LatestEndedSessionForEpic(projectID, epicID)
	if err == nil && predecessor.Summary != "" {
		s.Summary = predecessor.Summary
		s.PredecessorID = predecessor.ID
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("look up predecessor session: %w", err)
	}

	if err := m.db.CreateSession(s); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return s, nil
}

// CheckThresholds reports which tier a session's cumulative usage falls
// into, evaluated before every iteration: critical takes precedence over
// refresh, which takes precedence over warn.
func (m *Manager) CheckThresholds(s *models.Session) Action {
	ratio := s.UsageRatio()
	switch {
	case ratio >= m.thresholds.Critical:
		return ActionCriticalRefresh
	case ratio >= m.thresholds.Refresh:
		return ActionRefresh
	case ratio >= m.thresholds.Warning:
		return ActionWarn
	default:
		return ActionNone
	}
}

// Refresh ends s, summarizes it via the Orchestrator LLM, and opens a
// successor session carrying the summary forward. The returned session is
// the one the Agent Driver must use on its next call.
func (m *Manager) Refresh(ctx context.Context, s *models.Session, epicDescription string) (*models.Session, error) {
	iterations, err := m.db.IterationsForSession(s.ID)
	if err != nil {
		return nil, fmt.Errorf("load session iterations for summary: %w", err)
	}

	summary, err := m.summarizeEpic(ctx, iterations, epicDescription, s.Summary)
	if err != nil {
		return nil, fmt.Errorf("summarize session: %w", err)
	}

	successor := &models.Session{
		ID:            uuid.New().String(),
		ProjectID:     s.ProjectID,
		EpicID:        s.EpicID,
		State:         models.SessionActive,
		ContextWindow: s.ContextWindow,
		Summary:       summary,
		PredecessorID: s.ID,
		StartedAt:     time.Now(),
	}
	if err := m.db.CreateSession(successor); err != nil {
		return nil, fmt.Errorf("create successor session: %w", err)
	}
	if err := m.db.RefreshSession(s.ID, successor.ID, summary); err != nil {
		return nil, fmt.Errorf("mark session refreshed: %w", err)
	}
	return successor, nil
}

// End closes a session without refreshing it, for when its owning Epic
// completes and there is no further work to carry a summary into.
func (m *Manager) End(ctx context.Context, s *models.Session) error {
	iterations, err := m.db.IterationsForSession(s.ID)
	if err != nil {
		return fmt.Errorf("load session iterations for summary: %w", err)
	}
	summary, err := m.summarizeEpic(ctx, iterations, "", s.Summary)
	if err != nil {
		return fmt.Errorf("summarize session at end: %w", err)
	}
	if summary != "" && summary != s.Summary {
		if err := m.db.RefreshSession(s.ID, "", summary); err != nil {
			return fmt.Errorf("record final summary: %w", err)
		}
	}
	return m.db.EndSession(s.ID, sql.NullString{String: time.Now().UTC().Format(time.RFC3339Nano), Valid: true})
}

// RecordUsage adds an iteration's token usage to a session's cumulative
// count and returns the new total. Cumulative tokens never decrease.
func (m *Manager) RecordUsage(s *models.Session, usage models.TokenUsage) (int64, error) {
	total, err := m.db.AddSessionTokens(s.ID, usage.Total())
	if err != nil {
		return 0, fmt.Errorf("record session usage: %w", err)
	}
	s.TokensUsed = total
	return total, nil
}
