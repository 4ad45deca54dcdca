// Package graph provides the in-memory DAG primitives backing the
// Dependency Scheduler: cycle detection, topological sort, and the
// ready-set computation. Persistence keeps tasks as records with
// id-valued depends_on references; this graph is reconstructed from those
// lists on demand rather than stored as a second source of truth.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/obra-run/obra/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed graph of task dependencies. Tasks are
// nodes, edges represent "blocked by" relationships (a task's edges point
// at the tasks it depends on).
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// completed tracks which tasks have been marked complete.
	completed map[string]bool
	debugLog  func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Task),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of tasks. Returns an
// error if a cycle is detected or a dependency references an unknown task.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("graph.Build: building graph from %d tasks", len(tasks))

	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
		if task.Status == models.TaskStatusCompleted {
			g.completed[task.ID] = true
		}
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	return nil
}

// AddTask registers a single task without rebuilding the whole graph, and
// validates that the insertion does not introduce a cycle. On failure the
// graph is left unchanged.
func (g *DependencyGraph) AddTask(task *models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, depID := range task.DependsOn {
		if _, exists := g.nodes[depID]; !exists {
			return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
		}
	}

	prevNode, hadNode := g.nodes[task.ID]
	prevEdges, hadEdges := g.edges[task.ID]

	g.nodes[task.ID] = task
	g.edges[task.ID] = append([]string(nil), task.DependsOn...)

	if g.hasCycleLocked() {
		if hadNode {
			g.nodes[task.ID] = prevNode
		} else {
			delete(g.nodes, task.ID)
		}
		if hadEdges {
			g.edges[task.ID] = prevEdges
		} else {
			delete(g.edges, task.ID)
		}
		return ErrCycleDetected
	}

	return nil
}

// SetDependsOn replaces a task's dependency edges, validating that doing so
// does not introduce a cycle. On failure the graph is left unchanged,
// matching the invariant that a rejected edge insertion never mutates the
// DAG.
func (g *DependencyGraph) SetDependsOn(taskID string, deps []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[taskID]; !exists {
		return fmt.Errorf("unknown task %s", taskID)
	}
	for _, depID := range deps {
		if _, exists := g.nodes[depID]; !exists {
			return fmt.Errorf("task %s depends on unknown task %s", taskID, depID)
		}
	}

	prev := g.edges[taskID]
	g.edges[taskID] = append([]string(nil), deps...)

	if g.hasCycleLocked() {
		g.edges[taskID] = prev
		return ErrCycleDetected
	}

	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked performs DFS with coloring; callers must hold g.mu.
func (g *DependencyGraph) hasCycleLocked() bool {
	colors := make(map[string]int, len(g.nodes)) // 0=white 1=gray 2=black

	var hasCycle bool
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				hasCycle = true
				break
			}
		}
	}
	return hasCycle
}

// TopologicalSort returns task IDs with every dependency ordered before
// the tasks that depend on it.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for id := range g.nodes {
		visit(id)
	}

	return result, nil
}

// GetReady returns task IDs whose dependencies are all completed and whose
// own status is neither terminal nor IN_PROGRESS.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.nodes {
		if g.completed[id] {
			continue
		}
		if task.Status.Terminal() || task.Status == models.TaskStatusInProgress {
			continue
		}

		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if g.completed[depID] {
				continue
			}
			if depTask, exists := g.nodes[depID]; exists && depTask.Status == models.TaskStatusCompleted {
				continue
			}
			allDepsComplete = false
			break
		}

		if allDepsComplete {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkComplete marks a task as completed in the graph, affecting subsequent GetReady calls.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[taskID]
}

// GetDependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// GetCompletedIDs returns the IDs of all tasks marked as completed in the graph.
func (g *DependencyGraph) GetCompletedIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for id, done := range g.completed {
		if done {
			ids = append(ids, id)
		}
	}
	return ids
}
