package store

import (
	"fmt"

	"github.com/obra-run/obra/pkg/models"
)

// RecordRetryAttempt appends an audit-trail row for a retry attempt. This is
// distinct from RetryCache: this table is the durable history (what
// happened), RetryCache is the crash-recoverable "is it due yet" index.
func (db *DB) RecordRetryAttempt(a *models.RetryAttempt) error {
	_, err := db.Exec(`
		INSERT INTO retry_attempts (id, task_id, attempt, class, message, next_delay_ms, next_attempt_at, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TaskID, a.Attempt, string(a.Class), a.Message, a.NextDelay.Milliseconds(),
		formatTime(a.NextAttemptAt), formatTime(a.OccurredAt))
	if err != nil {
		return fmt.Errorf("record retry attempt: %w", err)
	}
	return nil
}
