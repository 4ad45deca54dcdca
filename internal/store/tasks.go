package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/obra-run/obra/internal/errs"
	"github.com/obra-run/obra/pkg/models"
)

func joinDeps(deps []string) string { return strings.Join(deps, ",") }

func splitDeps(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// CreateTask inserts a new task.
func (db *DB) CreateTask(t *models.Task) error {
	_, err := db.Exec(`
		INSERT INTO tasks (id, project_id, task_type, status, title, description,
			acceptance_criteria, priority, epic_id, story_id, parent_task_id,
			depends_on, retry_count, failure_reason, breakpoint_pending,
			commit_error, deleted, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ProjectID, string(t.TaskType), string(t.Status), t.Title, t.Description,
		t.AcceptanceCriteria, t.Priority, t.EpicID, t.StoryID, t.ParentTaskID,
		joinDeps(t.DependsOn), t.RetryCount, t.FailureReason, t.BreakpointPending,
		t.CommitError, t.Deleted, formatTime(t.CreatedAt), nullableTimeString(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTaskStatus updates a task's status and, when terminal, completed_at.
func (db *DB) UpdateTaskStatus(id string, status models.TaskStatus, failureReason string) error {
	var completedAt sql.NullString
	if status.Terminal() {
		completedAt = sql.NullString{String: formatTime(time.Now()), Valid: true}
	}
	_, err := db.Exec(`
		UPDATE tasks SET status = ?, failure_reason = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, string(status), failureReason, completedAt, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// StartTask atomically transitions a READY task to IN_PROGRESS, failing
// with a KindTaskRunning error if the task is not currently READY (already
// running, not yet ready, or terminal). This is the only path by which a
// task may become IN_PROGRESS, so it is the single place that enforces the
// one-worker-per-task invariant.
func (db *DB) StartTask(id string) error {
	res, err := db.Exec(`
		UPDATE tasks SET status = ? WHERE id = ? AND status = ? AND deleted = 0
	`, string(models.TaskStatusInProgress), id, string(models.TaskStatusReady))
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check start task result: %w", err)
	}
	if n == 0 {
		return errs.New(errs.KindTaskRunning, "store", id, fmt.Errorf("task is not READY or is already running"))
	}
	return nil
}

// UpdateTaskDependsOn replaces a task's dependency list; callers (the
// Dependency Scheduler) validate DAG-ness before calling this.
func (db *DB) UpdateTaskDependsOn(id string, deps []string) error {
	_, err := db.Exec(`UPDATE tasks SET depends_on = ? WHERE id = ?`, joinDeps(deps), id)
	if err != nil {
		return fmt.Errorf("update task depends_on: %w", err)
	}
	return nil
}

// SetBreakpointPending marks or clears a task's breakpoint-pending flag.
func (db *DB) SetBreakpointPending(id string, pending bool) error {
	_, err := db.Exec(`UPDATE tasks SET breakpoint_pending = ? WHERE id = ?`, pending, id)
	if err != nil {
		return fmt.Errorf("set breakpoint pending: %w", err)
	}
	return nil
}

// SetCommitError records a non-fatal git post-task hook failure.
func (db *DB) SetCommitError(id string, msg string) error {
	_, err := db.Exec(`UPDATE tasks SET commit_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("set commit error: %w", err)
	}
	return nil
}

// IncrementRetryCount bumps a task's retry counter and returns the new value.
func (db *DB) IncrementRetryCount(id string) (int, error) {
	_, err := db.Exec(`UPDATE tasks SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("increment retry count: %w", err)
	}
	row := db.QueryRow(`SELECT retry_count FROM tasks WHERE id = ?`, id)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("read retry count: %w", err)
	}
	return n, nil
}

// GetTask loads a task by id.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, project_id, task_type, status, title, description,
			acceptance_criteria, priority, epic_id, story_id, parent_task_id,
			depends_on, retry_count, failure_reason, breakpoint_pending,
			commit_error, deleted, created_at, completed_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*models.Task, error) {
	var t models.Task
	var taskType, status, deps string
	var description, criteria, epicID, storyID, parentID, failureReason, commitError sql.NullString
	var createdAt string
	var completedAt sql.NullString
	if err := row.Scan(&t.ID, &t.ProjectID, &taskType, &status, &t.Title, &description,
		&criteria, &t.Priority, &epicID, &storyID, &parentID, &deps, &t.RetryCount,
		&failureReason, &t.BreakpointPending, &commitError, &t.Deleted, &createdAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.TaskType = models.TaskType(taskType)
	t.Status = models.TaskStatus(status)
	t.Description = description.String
	t.AcceptanceCriteria = criteria.String
	t.EpicID = epicID.String
	t.StoryID = storyID.String
	t.ParentTaskID = parentID.String
	t.DependsOn = splitDeps(deps)
	t.FailureReason = failureReason.String
	t.CommitError = commitError.String
	ct, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse task created_at: %w", err)
	}
	t.CreatedAt = ct
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

// ListTasksByProject returns every non-deleted task for a project.
func (db *DB) ListTasksByProject(projectID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, project_id, task_type, status, title, description,
			acceptance_criteria, priority, epic_id, story_id, parent_task_id,
			depends_on, retry_count, failure_reason, breakpoint_pending,
			commit_error, deleted, created_at, completed_at
		FROM tasks WHERE project_id = ? AND deleted = 0
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		var t models.Task
		var taskType, status, deps string
		var description, criteria, epicID, storyID, parentID, failureReason, commitError sql.NullString
		var createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectID, &taskType, &status, &t.Title, &description,
			&criteria, &t.Priority, &epicID, &storyID, &parentID, &deps, &t.RetryCount,
			&failureReason, &t.BreakpointPending, &commitError, &t.Deleted, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.TaskType = models.TaskType(taskType)
		t.Status = models.TaskStatus(status)
		t.Description = description.String
		t.AcceptanceCriteria = criteria.String
		t.EpicID = epicID.String
		t.StoryID = storyID.String
		t.ParentTaskID = parentID.String
		t.DependsOn = splitDeps(deps)
		t.FailureReason = failureReason.String
		t.CommitError = commitError.String
		ct, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse task created_at: %w", err)
		}
		t.CreatedAt = ct
		t.CompletedAt = parseNullableTime(completedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}
