package store

import "fmt"

// ReadyTasks returns the ids of every non-terminal, non-deleted task in a
// project whose depends_on list is empty or fully COMPLETED. It is the
// persistence-backed mirror of the in-memory Dependency Scheduler's
// ready-set, used to reconcile after a restart.
func (db *DB) ReadyTasks(projectID string) ([]string, error) {
	tasks, err := db.ListTasksByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("ready tasks: %w", err)
	}
	completed := map[string]bool{}
	for _, t := range tasks {
		if t.Status == "completed" {
			completed[t.ID] = true
		}
	}
	var ready []string
	for _, t := range tasks {
		if t.Status.Terminal() || t.Status == "in_progress" {
			continue
		}
		if t.Ready(completed) {
			ready = append(ready, t.ID)
		}
	}
	return ready, nil
}

// EpicChildren returns the ids of every Story belonging to an Epic.
func (db *DB) EpicChildren(epicID string) ([]string, error) {
	rows, err := db.Query(`SELECT id FROM tasks WHERE epic_id = ? AND deleted = 0`, epicID)
	if err != nil {
		return nil, fmt.Errorf("epic children: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan epic child: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DependentsOf returns the ids of every task whose depends_on list contains
// taskID, used by cascading-block propagation.
func (db *DB) DependentsOf(projectID, taskID string) ([]string, error) {
	tasks, err := db.ListTasksByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("dependents of: %w", err)
	}
	var ids []string
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if dep == taskID {
				ids = append(ids, t.ID)
				break
			}
		}
	}
	return ids, nil
}

// SessionUsage reports a session's recorded cumulative token count as
// stored on the sessions row (the authoritative counter incremented by
// AddSessionTokens), for comparison against SessionTotalTokens.
func (db *DB) SessionUsage(sessionID string) (int64, error) {
	row := db.QueryRow(`SELECT tokens_used FROM sessions WHERE id = ?`, sessionID)
	var used int64
	if err := row.Scan(&used); err != nil {
		return 0, fmt.Errorf("session usage: %w", err)
	}
	return used, nil
}
