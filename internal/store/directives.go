package store

import "fmt"

// Directive is a persisted entry in the Injected-Directive Channel's
// per-(project,task) inbox. Direction is "to_impl" or "to_orch"; Intent
// further classifies the directive for the Decision Engine / prompt
// assembly consumer.
type Directive struct {
	ID        string
	ProjectID string
	TaskID    string
	Direction string
	Intent    string
	Body      string
	Sticky    bool
	Consumed  bool
	CreatedAt string
}

// CreateDirective inserts a directive into the inbox.
func (db *DB) CreateDirective(d *Directive) error {
	_, err := db.Exec(`
		INSERT INTO directives (id, project_id, task_id, direction, intent, body, sticky, consumed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ProjectID, d.TaskID, d.Direction, d.Intent, d.Body, d.Sticky, d.Consumed, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert directive: %w", err)
	}
	return nil
}

// PendingDirectives returns every unconsumed directive for a task in a
// given direction, oldest first.
func (db *DB) PendingDirectives(projectID, taskID, direction string) ([]*Directive, error) {
	rows, err := db.Query(`
		SELECT id, project_id, task_id, direction, intent, body, sticky, consumed, created_at
		FROM directives WHERE project_id = ? AND task_id = ? AND direction = ? AND consumed = 0
		ORDER BY created_at ASC
	`, projectID, taskID, direction)
	if err != nil {
		return nil, fmt.Errorf("pending directives: %w", err)
	}
	defer rows.Close()

	var out []*Directive
	for rows.Next() {
		var d Directive
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.TaskID, &d.Direction, &d.Intent,
			&d.Body, &d.Sticky, &d.Consumed, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// PendingDirectivesBefore returns unconsumed directives in a direction
// created at or before cutoff, oldest first. A directive arriving after
// cutoff is left pending for the following call, matching the rule that
// only directives captured strictly before an iteration's prompt assembly
// apply to that iteration.
func (db *DB) PendingDirectivesBefore(projectID, taskID, direction, cutoff string) ([]*Directive, error) {
	rows, err := db.Query(`
		SELECT id, project_id, task_id, direction, intent, body, sticky, consumed, created_at
		FROM directives
		WHERE project_id = ? AND task_id = ? AND direction = ? AND consumed = 0 AND created_at <= ?
		ORDER BY created_at ASC
	`, projectID, taskID, direction, cutoff)
	if err != nil {
		return nil, fmt.Errorf("pending directives before cutoff: %w", err)
	}
	defer rows.Close()

	var out []*Directive
	for rows.Next() {
		var d Directive
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.TaskID, &d.Direction, &d.Intent,
			&d.Body, &d.Sticky, &d.Consumed, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ConsumeDirective marks a one-shot directive consumed; sticky directives
// are left for repeated consumption by the caller's choice.
func (db *DB) ConsumeDirective(id string) error {
	_, err := db.Exec(`UPDATE directives SET consumed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("consume directive: %w", err)
	}
	return nil
}
