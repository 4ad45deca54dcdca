package models

import "time"

// TaskType is the level of a task within the work hierarchy.
type TaskType string

const (
	// TaskTypeEpic groups stories under a single engineering goal.
	TaskTypeEpic TaskType = "epic"
	// TaskTypeStory is a unit of work that executes in one iteration.
	TaskTypeStory TaskType = "story"
	// TaskTypeTask is a standalone unit of work, optionally under a story.
	TaskTypeTask TaskType = "task"
	// TaskTypeSubtask is a decomposition of a task into smaller pieces.
	TaskTypeSubtask TaskType = "subtask"
)

// Valid returns true if t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeEpic, TaskTypeStory, TaskTypeTask, TaskTypeSubtask:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	// TaskStatusPending means dependencies are not yet satisfied.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady means every dependency is COMPLETED; the task may be scheduled.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusInProgress means a single worker owns the task exclusively.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted is terminal unless the task is explicitly reopened.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed means the iteration loop ended without PROCEED.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusEscalated means the Decision Engine chose ESCALATE.
	TaskStatusEscalated TaskStatus = "escalated"
	// TaskStatusBlocked means a transitive dependency failed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCancelled means cancellation reached a suspension point.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated,
		TaskStatusBlocked, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if s does not expect further iterations.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// FailedMaxIterations is a FAILED subclass recorded in Task.FailureReason
// when the iteration loop exhausts max_iterations without terminating.
const FailedMaxIterations = "failed_max_iterations"

// Task is a unit of work: an Epic, a Story, a Task, or a Subtask.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// TaskType is the level of this task in the hierarchy.
	TaskType TaskType `json:"task_type"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// AcceptanceCriteria defines the criteria for task completion.
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`
	// Priority ranges 1 (lowest) to 10 (highest).
	Priority int `json:"priority"`
	// EpicID references the owning Epic for a Story. Empty for Epics.
	EpicID string `json:"epic_id,omitempty"`
	// StoryID references the owning Story for a Task. Empty otherwise.
	StoryID string `json:"story_id,omitempty"`
	// ParentTaskID references the parent Task for a Subtask.
	ParentTaskID string `json:"parent_task_id,omitempty"`
	// DependsOn lists task IDs that must be COMPLETED before this task is READY.
	DependsOn []string `json:"depends_on,omitempty"`
	// RetryCount is the number of retries applied across iterations.
	RetryCount int `json:"retry_count"`
	// FailureReason records why a FAILED/ESCALATED task ended that way.
	FailureReason string `json:"failure_reason,omitempty"`
	// BreakpointPending is true while the task is paused awaiting user input.
	BreakpointPending bool `json:"breakpoint_pending,omitempty"`
	// CommitError records a non-fatal failure from the git post-task hook.
	CommitError string `json:"commit_error,omitempty"`
	// Deleted is a soft-delete flag; soft-deleted tasks are excluded from the DAG.
	Deleted bool `json:"deleted,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal state, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Ready reports whether every dependency id in deps is marked completed.
func (t *Task) Ready(completed map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}
