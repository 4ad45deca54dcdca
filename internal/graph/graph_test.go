package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/obra-run/obra/pkg/models"
)

func TestNewDependencyGraph(t *testing.T) {
	g := New()
	if g.Size() != 0 {
		t.Errorf("expected empty graph, got size %d", g.Size())
	}
}

func TestGraphBuildWithDependencies(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "task-1", Status: models.TaskStatusPending},
		{ID: "task-2", Status: models.TaskStatusPending, DependsOn: []string{"task-1"}},
		{ID: "task-3", Status: models.TaskStatusPending, DependsOn: []string{"task-1", "task-2"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps := g.GetDependencies("task-3"); len(deps) != 2 {
		t.Errorf("expected 2 dependencies for task-3, got %d", len(deps))
	}
	if dependents := g.GetDependents("task-1"); len(dependents) != 2 {
		t.Errorf("expected 2 dependents of task-1, got %d", len(dependents))
	}
}

func TestGraphBuildUnknownDependency(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "task-1", Status: models.TaskStatusPending, DependsOn: []string{"unknown-task"}},
	}
	if err := g.Build(tasks); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestGraphCycleDetectionSimple(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "A", Status: models.TaskStatusPending, DependsOn: []string{"B"}},
		{ID: "B", Status: models.TaskStatusPending, DependsOn: []string{"A"}},
	}
	if err := g.Build(tasks); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}

func TestGraphCycleDetectionSelfLoop(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "A", Status: models.TaskStatusPending, DependsOn: []string{"A"}},
	}
	if err := g.Build(tasks); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected for self-loop, got %v", err)
	}
}

func TestGraphTopologicalSortDiamond(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "A", Status: models.TaskStatusPending},
		{ID: "B", Status: models.TaskStatusPending, DependsOn: []string{"A"}},
		{ID: "C", Status: models.TaskStatusPending, DependsOn: []string{"A"}},
		{ID: "D", Status: models.TaskStatusPending, DependsOn: []string{"B", "C"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error in TopologicalSort: %v", err)
	}
	positions := make(map[string]int)
	for i, id := range sorted {
		positions[id] = i
	}
	if positions["A"] > positions["B"] || positions["A"] > positions["C"] {
		t.Error("A should come before B and C")
	}
	if positions["B"] > positions["D"] || positions["C"] > positions["D"] {
		t.Error("B and C should come before D")
	}
}

func TestGraphGetReadyAfterMarkComplete(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "A", Status: models.TaskStatusPending},
		{ID: "B", Status: models.TaskStatusPending, DependsOn: []string{"A"}},
		{ID: "C", Status: models.TaskStatusPending, DependsOn: []string{"B"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready := g.GetReady()
	if len(ready) != 1 || ready[0] != "A" {
		t.Errorf("expected only A ready, got %v", ready)
	}

	g.MarkComplete("A")
	ready = g.GetReady()
	if len(ready) != 1 || ready[0] != "B" {
		t.Errorf("expected only B ready after A complete, got %v", ready)
	}
}

func TestGraphGetReadySkipsTerminalTasks(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "A", Status: models.TaskStatusFailed},
		{ID: "B", Status: models.TaskStatusPending},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := g.GetReady()
	if len(ready) != 1 || ready[0] != "B" {
		t.Errorf("expected only B to be ready (A is failed), got %v", ready)
	}
}

func TestGraphSetDependsOnRejectsCycle(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "A", Status: models.TaskStatusPending},
		{ID: "B", Status: models.TaskStatusPending, DependsOn: []string{"A"}},
		{ID: "C", Status: models.TaskStatusPending, DependsOn: []string{"B"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := append([]string(nil), g.GetDependencies("A")...)
	if err := g.SetDependsOn("A", []string{"C"}); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	after := g.GetDependencies("A")
	if len(before) != len(after) {
		t.Errorf("rejected edge insertion must leave the DAG unchanged: before=%v after=%v", before, after)
	}
}

func TestGraphComplexDependencies(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "A", Status: models.TaskStatusPending},
		{ID: "B", Status: models.TaskStatusPending, DependsOn: []string{"A"}},
		{ID: "C", Status: models.TaskStatusPending, DependsOn: []string{"A"}},
		{ID: "D", Status: models.TaskStatusPending, DependsOn: []string{"B"}},
		{ID: "E", Status: models.TaskStatusPending, DependsOn: []string{"B", "C"}},
		{ID: "F", Status: models.TaskStatusPending, DependsOn: []string{"C"}},
		{ID: "G", Status: models.TaskStatusPending, DependsOn: []string{"D", "E", "F"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error in TopologicalSort: %v", err)
	}
	positions := make(map[string]int)
	for i, id := range sorted {
		positions[id] = i
	}
	constraints := []struct{ before, after string }{
		{"A", "B"}, {"A", "C"}, {"B", "D"}, {"B", "E"},
		{"C", "E"}, {"C", "F"}, {"D", "G"}, {"E", "G"}, {"F", "G"},
	}
	for _, c := range constraints {
		if positions[c.before] >= positions[c.after] {
			t.Errorf("%s should come before %s", c.before, c.after)
		}
	}
}

func TestGraphGetReadyMultiple(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "A", Status: models.TaskStatusPending},
		{ID: "B", Status: models.TaskStatusPending},
		{ID: "C", Status: models.TaskStatusPending, DependsOn: []string{"A", "B"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := g.GetReady()
	sort.Strings(ready)
	if len(ready) != 2 || ready[0] != "A" || ready[1] != "B" {
		t.Errorf("expected A and B ready, got %v", ready)
	}
}
