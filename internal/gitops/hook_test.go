package gitops

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/obra-run/obra/internal/protect"
	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/pkg/models"
)

type stubRunner struct {
	branches   map[string]bool
	current    string
	staged     []string
	commitMsgs []string
	failAdd    bool
	failCommit bool
}

func newStubRunner() *stubRunner {
	return &stubRunner{branches: map[string]bool{}, current: "main"}
}

func (r *stubRunner) BranchExists(name string) (bool, error) { return r.branches[name], nil }
func (r *stubRunner) CheckoutBranch(name string) error        { r.current = name; return nil }
func (r *stubRunner) CreateAndCheckoutBranch(name string) error {
	r.branches[name] = true
	r.current = name
	return nil
}
func (r *stubRunner) Add(paths ...string) error {
	if r.failAdd {
		return errors.New("add failed")
	}
	r.staged = append(r.staged, paths...)
	return nil
}
func (r *stubRunner) Commit(message string) error {
	if r.failCommit {
		return errors.New("commit failed")
	}
	r.commitMsgs = append(r.commitMsgs, message)
	return nil
}

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "obra.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestTask(t *testing.T, db *store.DB, id string) *models.Task {
	t.Helper()
	task := &models.Task{
		ID: id, ProjectID: "proj-1", TaskType: models.TaskTypeTask,
		Status: models.TaskStatusCompleted, Title: "add a widget", CreatedAt: time.Now(),
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func defaultConfig() Config {
	return Config{Enabled: true, AutoCommit: true, CommitStrategy: CommitPerTask, BranchPrefix: "obra/"}
}

func TestRunCommitsChangedPaths(t *testing.T) {
	db := newTestDB(t)
	task := newTestTask(t, db, "task-1")
	runner := newStubRunner()
	hook := New(db, runner, protect.New(), defaultConfig())

	hook.Run(task, []string{"widget.go"})

	if len(runner.staged) != 1 || runner.staged[0] != "widget.go" {
		t.Errorf("staged = %v, want [widget.go]", runner.staged)
	}
	if len(runner.commitMsgs) != 1 {
		t.Fatalf("expected one commit, got %d", len(runner.commitMsgs))
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.CommitError != "" {
		t.Errorf("commit_error = %q, want empty", got.CommitError)
	}
}

func TestRunSkipsProtectedPaths(t *testing.T) {
	db := newTestDB(t)
	task := newTestTask(t, db, "task-1")
	runner := newStubRunner()
	hook := New(db, runner, protect.New(), defaultConfig())

	hook.Run(task, []string{"internal/auth/login.go"})

	if len(runner.commitMsgs) != 0 {
		t.Errorf("expected no commit for a protected path, got %v", runner.commitMsgs)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.CommitError == "" {
		t.Error("expected commit_error to be set when a protected path is skipped")
	}
}

func TestRunNoopsWhenDisabled(t *testing.T) {
	db := newTestDB(t)
	task := newTestTask(t, db, "task-1")
	runner := newStubRunner()
	cfg := defaultConfig()
	cfg.Enabled = false
	hook := New(db, runner, protect.New(), cfg)

	hook.Run(task, []string{"widget.go"})

	if len(runner.commitMsgs) != 0 {
		t.Errorf("expected no commit when disabled, got %v", runner.commitMsgs)
	}
}

func TestRunNoopsOnManualStrategy(t *testing.T) {
	db := newTestDB(t)
	task := newTestTask(t, db, "task-1")
	runner := newStubRunner()
	cfg := defaultConfig()
	cfg.CommitStrategy = CommitManual
	hook := New(db, runner, protect.New(), cfg)

	hook.Run(task, []string{"widget.go"})

	if len(runner.commitMsgs) != 0 {
		t.Errorf("expected no commit under manual strategy, got %v", runner.commitMsgs)
	}
}

func TestRunCreatesPerTaskBranch(t *testing.T) {
	db := newTestDB(t)
	task := newTestTask(t, db, "task-1")
	runner := newStubRunner()
	cfg := defaultConfig()
	cfg.BranchPerTask = true
	hook := New(db, runner, protect.New(), cfg)

	hook.Run(task, []string{"widget.go"})

	if runner.current != "obra/task-1" {
		t.Errorf("current branch = %q, want obra/task-1", runner.current)
	}
	if !runner.branches["obra/task-1"] {
		t.Error("expected the per-task branch to have been created")
	}
}

func TestRunRecordsCommitFailureWithoutPanicking(t *testing.T) {
	db := newTestDB(t)
	task := newTestTask(t, db, "task-1")
	runner := newStubRunner()
	runner.failCommit = true
	hook := New(db, runner, protect.New(), defaultConfig())

	hook.Run(task, []string{"widget.go"})

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.CommitError == "" {
		t.Error("expected commit_error to be recorded on commit failure")
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("task status = %v, want completed (commit failure must not roll back completion)", got.Status)
	}
}

func TestCollectAndCommitGathersTaskIterationsAndCommits(t *testing.T) {
	db := newTestDB(t)
	task := newTestTask(t, db, "task-1")

	it := &models.Iteration{
		ID: "iter-1", TaskID: task.ID, SessionID: "sess-1", Number: 1,
		StartedAt: time.Now(), EndedAt: time.Now(),
	}
	if err := db.CreateIteration(it); err != nil {
		t.Fatalf("CreateIteration: %v", err)
	}
	event := &models.FileChangeEvent{
		ID: "fc-1", IterationID: "iter-1", Path: "widget.go",
		Kind: models.FileChangeCreated, ObservedAt: time.Now(),
	}
	if err := db.CreateFileChangeEvent(event); err != nil {
		t.Fatalf("CreateFileChangeEvent: %v", err)
	}

	runner := newStubRunner()
	hook := New(db, runner, protect.New(), defaultConfig())

	paths, err := hook.CollectAndCommit(task)
	if err != nil {
		t.Fatalf("CollectAndCommit: %v", err)
	}
	if len(paths) != 1 || paths[0] != "widget.go" {
		t.Errorf("paths = %v, want [widget.go]", paths)
	}
	if len(runner.commitMsgs) != 1 {
		t.Errorf("expected one commit, got %d", len(runner.commitMsgs))
	}
}

func TestChangedPathsDedupesAndSkipsDeleted(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	events := []*models.FileChangeEvent{
		{ID: "fc-1", IterationID: "iter-1", Path: "a.go", Kind: models.FileChangeCreated, ObservedAt: now},
		{ID: "fc-2", IterationID: "iter-1", Path: "b.go", Kind: models.FileChangeModified, ObservedAt: now},
		{ID: "fc-3", IterationID: "iter-2", Path: "a.go", Kind: models.FileChangeModified, ObservedAt: now},
		{ID: "fc-4", IterationID: "iter-2", Path: "c.go", Kind: models.FileChangeDeleted, ObservedAt: now},
	}
	for _, e := range events {
		if err := db.CreateFileChangeEvent(e); err != nil {
			t.Fatalf("CreateFileChangeEvent: %v", err)
		}
	}

	paths, err := ChangedPaths(db, []string{"iter-1", "iter-2"})
	if err != nil {
		t.Fatalf("ChangedPaths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v, want 2 entries", paths)
	}
	if paths[0] != "a.go" || paths[1] != "b.go" {
		t.Errorf("paths = %v, want [a.go b.go]", paths)
	}
}
