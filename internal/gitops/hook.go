// Package gitops implements the git post-task hook: given a completed
// task and the paths its iterations touched, it stages and commits those
// paths (optionally on a per-task branch), refusing to auto-commit when a
// protected path is involved. A hook failure is recorded on the task but
// never rolls back the task's own completion, per the contract that git
// operations are an external collaborator, not part of the core loop.
package gitops

import (
	"fmt"
	"strings"

	"github.com/obra-run/obra/internal/protect"
	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/pkg/models"
)

// Runner is the subset of internal/git.Runner the hook needs: branch
// switching and staging/committing. Satisfied by *git.ExecRunner.
type Runner interface {
	BranchExists(name string) (bool, error)
	CheckoutBranch(name string) error
	CreateAndCheckoutBranch(name string) error
	Add(paths ...string) error
	Commit(message string) error
}

// CommitStrategy selects when the hook produces a commit.
type CommitStrategy string

const (
	// CommitPerTask commits once, when a task reaches COMPLETED.
	CommitPerTask CommitStrategy = "per_task"
	// CommitManual disables the hook's own commits; the operator commits by hand.
	CommitManual CommitStrategy = "manual"
)

// Config mirrors internal/config.GitConfig.
type Config struct {
	Enabled        bool
	AutoCommit     bool
	CommitStrategy CommitStrategy
	BranchPerTask  bool
	BranchPrefix   string
}

// Hook runs the post-task git commit step for a single task.
type Hook struct {
	db       *store.DB
	runner   Runner
	detector *protect.Detector
	cfg      Config
}

// New constructs a Hook. detector may be nil to disable protected-area
// gating entirely.
func New(db *store.DB, runner Runner, detector *protect.Detector, cfg Config) *Hook {
	return &Hook{db: db, runner: runner, detector: detector, cfg: cfg}
}

// Run commits changedPaths for task, per the configured strategy. It never
// returns an error to a caller expecting the task's own completion to be
// affected — callers should log the error and call db.SetCommitError,
// which Run does internally already, then proceed regardless.
func (h *Hook) Run(task *models.Task, changedPaths []string) {
	if !h.cfg.Enabled || !h.cfg.AutoCommit || h.cfg.CommitStrategy == CommitManual {
		return
	}
	if len(changedPaths) == 0 {
		return
	}

	if reason, blocked := h.protectedPath(changedPaths); blocked {
		h.recordError(task, fmt.Sprintf("auto-commit skipped: %s", reason))
		return
	}

	if h.cfg.BranchPerTask {
		branch := h.branchName(task)
		exists, err := h.runner.BranchExists(branch)
		if err != nil {
			h.recordError(task, fmt.Sprintf("check branch %s: %v", branch, err))
			return
		}
		if exists {
			if err := h.runner.CheckoutBranch(branch); err != nil {
				h.recordError(task, fmt.Sprintf("checkout branch %s: %v", branch, err))
				return
			}
		} else if err := h.runner.CreateAndCheckoutBranch(branch); err != nil {
			h.recordError(task, fmt.Sprintf("create branch %s: %v", branch, err))
			return
		}
	}

	if err := h.runner.Add(changedPaths...); err != nil {
		h.recordError(task, fmt.Sprintf("stage changes: %v", err))
		return
	}
	if err := h.runner.Commit(h.commitMessage(task)); err != nil {
		h.recordError(task, fmt.Sprintf("commit: %v", err))
		return
	}
}

// protectedPath reports the first changed path that matches the protected-
// area detector, if any.
func (h *Hook) protectedPath(paths []string) (string, bool) {
	if h.detector == nil {
		return "", false
	}
	for _, p := range paths {
		if protected, reason := h.detector.IsProtectedWithReason(p); protected {
			return fmt.Sprintf("%s (%s)", p, reason), true
		}
	}
	return "", false
}

func (h *Hook) branchName(task *models.Task) string {
	prefix := h.cfg.BranchPrefix
	if prefix == "" {
		prefix = "obra/"
	}
	return prefix + task.ID
}

func (h *Hook) commitMessage(task *models.Task) string {
	title := strings.TrimSpace(task.Title)
	if title == "" {
		title = task.ID
	}
	return fmt.Sprintf("obra: %s (%s)", title, task.ID)
}

func (h *Hook) recordError(task *models.Task, msg string) {
	_ = h.db.SetCommitError(task.ID, msg)
}

// CollectAndCommit loads every iteration recorded for task, derives its
// changed paths from the File-Change Event pipeline, runs the hook against
// them, and returns the paths — the shape expected by
// internal/controller.Config.ArtifactCollector.
func (h *Hook) CollectAndCommit(task *models.Task) ([]string, error) {
	iterations, err := h.db.IterationsForTask(task.ID)
	if err != nil {
		return nil, fmt.Errorf("load iterations for task %s: %w", task.ID, err)
	}
	ids := make([]string, len(iterations))
	for i, it := range iterations {
		ids[i] = it.ID
	}

	paths, err := ChangedPaths(h.db, ids)
	if err != nil {
		return nil, err
	}

	h.Run(task, paths)
	return paths, nil
}

// ChangedPaths returns the deduplicated set of non-deleted paths recorded
// across every FileChangeEvent attributed to the given iterations, in the
// order they were first observed — the input to Run for a task whose
// iterations were tracked by the File-Change Event pipeline rather than by
// diffing the working tree directly.
func ChangedPaths(db *store.DB, iterationIDs []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, id := range iterationIDs {
		events, err := db.FileChangesForIteration(id)
		if err != nil {
			return nil, fmt.Errorf("load file changes for iteration %s: %w", id, err)
		}
		for _, e := range events {
			if e.Kind == models.FileChangeDeleted || seen[e.Path] {
				continue
			}
			seen[e.Path] = true
			out = append(out, e.Path)
		}
	}
	return out, nil
}
