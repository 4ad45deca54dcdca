package learning

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// store is the SQLite-backed home for learnings, scoped to one project
// (ProjectDBPath) or shared across all of them (GlobalDBPath).
type store struct {
	db *sql.DB
	mu sync.RWMutex
}

// GlobalDBPath returns the path to the global Obra learnings database,
// shared across every project on the machine.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "obra", "obra.db")
}

// ProjectDBPath returns the path to the project-local learnings database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".obra", "learnings.db")
}

func openStore(dbPath string) (*store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *store) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

const schemaLearnings = `
CREATE TABLE IF NOT EXISTS learnings (
	id TEXT PRIMARY KEY,
	condition TEXT NOT NULL,
	action TEXT NOT NULL,
	outcome TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT 'repo',
	trigger_count INTEGER NOT NULL DEFAULT 0,
	outcome_type TEXT NOT NULL DEFAULT 'neutral',
	last_triggered DATETIME,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_learnings_condition ON learnings(condition);
`

func (s *store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(schemaLearnings)
	if err != nil {
		return fmt.Errorf("migrate learnings schema: %w", err)
	}
	return nil
}

// create inserts a new learning, generating its CreatedAt timestamp if
// unset.
func (s *store) create(l *Learning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO learnings (id, condition, action, outcome, scope, trigger_count, outcome_type, last_triggered, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Condition, l.Action, l.Outcome, l.Scope, l.TriggerCount, l.OutcomeType,
		nullTime(l.LastTriggered), l.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert learning: %w", err)
	}
	return nil
}

// searchByCondition returns learnings whose condition contains pattern
// (case-insensitive), most-recently-created first.
func (s *store) searchByCondition(pattern string) ([]*Learning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, condition, action, outcome, scope, trigger_count, outcome_type, last_triggered, created_at
		 FROM learnings WHERE condition LIKE '%' || ? || '%' COLLATE NOCASE
		 ORDER BY created_at DESC`,
		pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("search by condition: %w", err)
	}
	defer rows.Close()
	return scanLearnings(rows)
}

// incrementTriggerCount bumps a learning's trigger count and last-triggered
// timestamp, recording that it matched another failure.
func (s *store) incrementTriggerCount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE learnings SET trigger_count = trigger_count + 1, last_triggered = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("increment trigger count: %w", err)
	}
	return nil
}

func scanLearnings(rows *sql.Rows) ([]*Learning, error) {
	var out []*Learning
	for rows.Next() {
		l := &Learning{}
		var lastTriggered sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.Condition, &l.Action, &l.Outcome, &l.Scope,
			&l.TriggerCount, &l.OutcomeType, &lastTriggered, &createdAt); err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		if lastTriggered.Valid && lastTriggered.String != "" {
			if t, err := time.Parse(time.RFC3339, lastTriggered.String); err == nil {
				l.LastTriggered = t
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			l.CreatedAt = t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
