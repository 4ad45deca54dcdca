// Package scheduler implements the Dependency Scheduler: the persistence-
// backed operations layered on top of internal/graph's in-memory DAG
// (add_task, add_dependency, ready_set, on_complete, on_fail, topo_order)
// plus cascading-block propagation when a dependency fails terminally.
// Structural diagnostics (missing fields, suspicious anti-patterns) are
// folded in using the same decomposition-validation style as task
// decomposition checks elsewhere in this module.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/obra-run/obra/internal/errs"
	"github.com/obra-run/obra/internal/graph"
	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/pkg/models"
)

// Scheduler owns the in-memory DAG for a single project and keeps it
// synchronized with the Persistence Store.
type Scheduler struct {
	mu        sync.Mutex
	db        *store.DB
	projectID string
	g         *graph.DependencyGraph
}

// New loads every task for a project from the store and builds the DAG.
func New(db *store.DB, projectID string) (*Scheduler, error) {
	tasks, err := db.ListTasksByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("load tasks for scheduler: %w", err)
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return nil, fmt.Errorf("build dependency graph: %w", err)
	}

	return &Scheduler{db: db, projectID: projectID, g: g}, nil
}

// AddTask registers a new task with the store and the DAG. The task's
// DependsOn must already reference only known task ids.
func (s *Scheduler) AddTask(task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.g.AddTask(task); err != nil {
		return errs.Wrap(errs.KindDependencyCycle, "scheduler", task.ID, "add task", err)
	}
	if err := s.db.CreateTask(task); err != nil {
		return fmt.Errorf("persist new task: %w", err)
	}
	return nil
}

// AddDependency appends dep to taskID's dependency list, validating against
// the DAG and task_dependencies.max_depth before persisting. On rejection
// neither the in-memory graph nor the store is mutated.
func (s *Scheduler) AddDependency(taskID, dep string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.g.GetDependencies(taskID)
	next := append(append([]string(nil), current...), dep)

	if err := s.g.SetDependsOn(taskID, next); err != nil {
		return errs.Wrap(errs.KindDependencyCycle, "scheduler", taskID, "add dependency", err)
	}
	if err := s.db.UpdateTaskDependsOn(taskID, next); err != nil {
		// Roll back the in-memory edge so graph and store stay consistent.
		s.g.SetDependsOn(taskID, current)
		return fmt.Errorf("persist new dependency: %w", err)
	}
	return nil
}

// ReadySet returns the ids of every task currently eligible to run.
func (s *Scheduler) ReadySet() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.GetReady()
}

// TopoOrder returns every task id in dependency order.
func (s *Scheduler) TopoOrder() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.g.TopologicalSort()
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyCycle, "scheduler", "", "topo order", err)
	}
	return order, nil
}

// OnComplete marks a task COMPLETED in both the graph and the store,
// making its dependents eligible once their other dependencies clear.
func (s *Scheduler) OnComplete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.g.MarkComplete(taskID)
	if err := s.db.UpdateTaskStatus(taskID, models.TaskStatusCompleted, ""); err != nil {
		return fmt.Errorf("persist task completion: %w", err)
	}
	return nil
}

// OnFail marks a task FAILED or ESCALATED and cascades BLOCKED to every
// transitive dependent, matching the cascade-block scenario: a failing
// task's direct and indirect dependents all move to BLOCKED in one call.
func (s *Scheduler) OnFail(taskID string, status models.TaskStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.UpdateTaskStatus(taskID, status, reason); err != nil {
		return fmt.Errorf("persist task failure: %w", err)
	}

	blocked := s.transitiveDependents(taskID)
	for _, id := range blocked {
		if t := s.g.GetTask(id); t != nil {
			t.Status = models.TaskStatusBlocked
		}
		if err := s.db.UpdateTaskStatus(id, models.TaskStatusBlocked, fmt.Sprintf("blocked by %s", taskID)); err != nil {
			return fmt.Errorf("cascade block to %s: %w", id, err)
		}
	}
	return nil
}

// transitiveDependents returns every task reachable by following
// GetDependents edges from taskID, in no particular order.
func (s *Scheduler) transitiveDependents(taskID string) []string {
	seen := map[string]bool{}
	var walk func(id string)
	var out []string
	walk = func(id string) {
		for _, dep := range s.g.GetDependents(id) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			walk(dep)
		}
	}
	walk(taskID)
	return out
}
