package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RetryCache is a CGO-backed SQLite database dedicated to the Retry
// Coordinator's next_retry_at bookkeeping. It is kept separate from the
// primary WAL-mode store so a crash or a mid-migration primary store does
// not lose in-flight backoff schedules; the coordinator can always answer
// "is this task due for retry yet" from here alone.
type RetryCache struct {
	db *sql.DB
}

// OpenRetryCache opens (and creates if needed) the retry cache database at
// path.
func OpenRetryCache(path string) (*RetryCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open retry cache: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS retry_schedule (
			task_id TEXT PRIMARY KEY,
			attempt INTEGER NOT NULL,
			class TEXT NOT NULL,
			next_attempt_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create retry_schedule table: %w", err)
	}

	return &RetryCache{db: db}, nil
}

// Close closes the retry cache database.
func (c *RetryCache) Close() error { return c.db.Close() }

// Schedule records the next retry time for a task, overwriting any prior
// schedule.
func (c *RetryCache) Schedule(taskID string, attempt int, class string, nextAttemptAt time.Time) error {
	_, err := c.db.Exec(`
		INSERT INTO retry_schedule (task_id, attempt, class, next_attempt_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			attempt = excluded.attempt,
			class = excluded.class,
			next_attempt_at = excluded.next_attempt_at,
			updated_at = excluded.updated_at
	`, taskID, attempt, class, formatTime(nextAttemptAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// Due reports whether taskID's scheduled retry time has passed.
func (c *RetryCache) Due(taskID string, now time.Time) (bool, error) {
	row := c.db.QueryRow(`SELECT next_attempt_at FROM retry_schedule WHERE task_id = ?`, taskID)
	var nextAt string
	if err := row.Scan(&nextAt); err != nil {
		if err == sql.ErrNoRows {
			return true, nil
		}
		return false, fmt.Errorf("read retry schedule: %w", err)
	}
	t, err := parseTime(nextAt)
	if err != nil {
		return false, fmt.Errorf("parse retry schedule time: %w", err)
	}
	return !now.Before(t), nil
}

// Clear removes a task's retry schedule, e.g. once it reaches a terminal state.
func (c *RetryCache) Clear(taskID string) error {
	_, err := c.db.Exec(`DELETE FROM retry_schedule WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("clear retry schedule: %w", err)
	}
	return nil
}
