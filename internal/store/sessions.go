package store

import (
	"database/sql"
	"fmt"

	"github.com/obra-run/obra/pkg/models"
)

// CreateSession inserts a new session.
func (db *DB) CreateSession(s *models.Session) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, project_id, epic_id, state, tokens_used,
			context_window, summary, predecessor_id, successor_id, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.ProjectID, s.EpicID, string(s.State), s.TokensUsed, s.ContextWindow,
		s.Summary, s.PredecessorID, s.SuccessorID, formatTime(s.StartedAt), nullableTimeString(s.EndedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// AddSessionTokens increments a session's cumulative token count and
// returns the new total; it never decreases the value it writes.
func (db *DB) AddSessionTokens(id string, delta int64) (int64, error) {
	_, err := db.Exec(`UPDATE sessions SET tokens_used = tokens_used + ? WHERE id = ?`, delta, id)
	if err != nil {
		return 0, fmt.Errorf("add session tokens: %w", err)
	}
	row := db.QueryRow(`SELECT tokens_used FROM sessions WHERE id = ?`, id)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("read session tokens: %w", err)
	}
	return total, nil
}

// RefreshSession marks a session REFRESHED with a summary and links it to
// its successor; the successor's predecessor_id must already point back.
func (db *DB) RefreshSession(id, successorID, summary string) error {
	_, err := db.Exec(`
		UPDATE sessions SET state = ?, successor_id = ?, summary = ? WHERE id = ?
	`, string(models.SessionRefreshed), successorID, summary, id)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	return nil
}

// EndSession marks a session ENDED.
func (db *DB) EndSession(id string, endedAt sql.NullString) error {
	_, err := db.Exec(`UPDATE sessions SET state = ?, ended_at = ? WHERE id = ?`,
		string(models.SessionEnded), endedAt, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (db *DB) GetSession(id string) (*models.Session, error) {
	row := db.QueryRow(`
		SELECT id, project_id, epic_id, state, tokens_used, context_window,
			summary, predecessor_id, successor_id, started_at, ended_at
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

// ActiveSessionForEpic returns the ACTIVE session open for an Epic, or
// sql.ErrNoRows if none is open.
func (db *DB) ActiveSessionForEpic(projectID, epicID string) (*models.Session, error) {
	row := db.QueryRow(`
		SELECT id, project_id, epic_id, state, tokens_used, context_window,
			summary, predecessor_id, successor_id, started_at, ended_at
		FROM sessions WHERE project_id = ? AND epic_id = ? AND state = ?
		ORDER BY started_at DESC LIMIT 1
	`, projectID, epicID, string(models.SessionActive))
	return scanSession(row)
}

// LatestEndedSessionForEpic returns the most recently REFRESHED or ENDED
// session for an Epic, used to carry its summary into a freshly opened
// successor. Returns sql.ErrNoRows if the Epic has no prior session.
func (db *DB) LatestEndedSessionForEpic(projectID, epicID string) (*models.Session, error) {
	row := db.QueryRow(`
		SELECT id, project_id, epic_id, state, tokens_used, context_window,
			summary, predecessor_id, successor_id, started_at, ended_at
		FROM sessions WHERE project_id = ? AND epic_id = ? AND state IN (?, ?)
		ORDER BY started_at DESC LIMIT 1
	`, projectID, epicID, string(models.SessionRefreshed), string(models.SessionEnded))
	return scanSession(row)
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var s models.Session
	var epicID, state, summary, predID, succID sql.NullString
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&s.ID, &s.ProjectID, &epicID, &state, &s.TokensUsed, &s.ContextWindow,
		&summary, &predID, &succID, &startedAt, &endedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.EpicID = epicID.String
	s.State = models.SessionState(state.String)
	s.Summary = summary.String
	s.PredecessorID = predID.String
	s.SuccessorID = succID.String
	t, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse session started_at: %w", err)
	}
	s.StartedAt = t
	s.EndedAt = parseNullableTime(endedAt)
	return &s, nil
}
