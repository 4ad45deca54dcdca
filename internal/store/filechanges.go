package store

import (
	"fmt"

	"github.com/obra-run/obra/pkg/models"
)

// CreateFileChangeEvent persists a debounced file-change event, attributed
// to the iteration whose Agent Driver call was in flight when it settled.
func (db *DB) CreateFileChangeEvent(e *models.FileChangeEvent) error {
	_, err := db.Exec(`
		INSERT INTO file_changes (id, iteration_id, path, kind, content_hash, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.IterationID, e.Path, string(e.Kind), e.ContentHash, formatTime(e.ObservedAt))
	if err != nil {
		return fmt.Errorf("insert file change event: %w", err)
	}
	return nil
}

// FileChangesForIteration returns every file-change event attributed to an
// iteration, in insertion order.
func (db *DB) FileChangesForIteration(iterationID string) ([]*models.FileChangeEvent, error) {
	rows, err := db.Query(`
		SELECT id, iteration_id, path, kind, content_hash, observed_at
		FROM file_changes WHERE iteration_id = ? ORDER BY observed_at ASC
	`, iterationID)
	if err != nil {
		return nil, fmt.Errorf("list file changes: %w", err)
	}
	defer rows.Close()

	var out []*models.FileChangeEvent
	for rows.Next() {
		var e models.FileChangeEvent
		var kind, hash string
		var observedAt string
		if err := rows.Scan(&e.ID, &e.IterationID, &e.Path, &kind, &hash, &observedAt); err != nil {
			return nil, fmt.Errorf("scan file change: %w", err)
		}
		e.Kind = models.FileChangeKind(kind)
		e.ContentHash = hash
		t, err := parseTime(observedAt)
		if err != nil {
			return nil, fmt.Errorf("parse file change observed_at: %w", err)
		}
		e.ObservedAt = t
		out = append(out, &e)
	}
	return out, rows.Err()
}
