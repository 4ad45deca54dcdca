package models

import "time"

// SessionState is the lifecycle state of an Implementer session.
type SessionState string

const (
	// SessionActive is a session still accepting iterations.
	SessionActive SessionState = "active"
	// SessionRefreshed means the session hit a refresh threshold and was
	// replaced by a successor carrying forward an Epic summary.
	SessionRefreshed SessionState = "refreshed"
	// SessionEnded means the session's owning task/epic reached a terminal state.
	SessionEnded SessionState = "ended"
)

// Valid returns true if s is a known session state.
func (s SessionState) Valid() bool {
	switch s {
	case SessionActive, SessionRefreshed, SessionEnded:
		return true
	default:
		return false
	}
}

// Session is one Implementer conversation context, scoped to a project and,
// when driving Story/Task iterations under an Epic, to that Epic.
type Session struct {
	// ID is an opaque identifier for this session.
	ID string `json:"id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// EpicID is the owning Epic, empty if this session is not Epic-scoped.
	EpicID string `json:"epic_id,omitempty"`
	// State is the current lifecycle state.
	State SessionState `json:"state"`
	// TokensUsed is the cumulative token count across every iteration run
	// under this session. It only ever increases.
	TokensUsed int64 `json:"tokens_used"`
	// ContextWindow is the token budget this session was opened with.
	ContextWindow int64 `json:"context_window"`
	// Summary is the carried-forward Epic summary, set once a refresh or an
	// Epic completion regenerates it. Empty for a session's whole lifetime
	// if neither has happened yet.
	Summary string `json:"summary,omitempty"`
	// PredecessorID links to the session this one replaced, if refreshed.
	PredecessorID string `json:"predecessor_id,omitempty"`
	// SuccessorID links to the session that replaced this one, if refreshed.
	SuccessorID string `json:"successor_id,omitempty"`
	// StartedAt is when the session was opened.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the session reached SessionEnded, if applicable.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// UsageRatio returns TokensUsed / ContextWindow, or 0 if no window is set.
func (s *Session) UsageRatio() float64 {
	if s.ContextWindow <= 0 {
		return 0
	}
	return float64(s.TokensUsed) / float64(s.ContextWindow)
}
