package controller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/obra-run/obra/internal/agentdriver"
	"github.com/obra-run/obra/internal/decision"
	"github.com/obra-run/obra/internal/directive"
	"github.com/obra-run/obra/internal/llmgateway"
	"github.com/obra-run/obra/internal/prompt"
	"github.com/obra-run/obra/internal/retry"
	"github.com/obra-run/obra/internal/scheduler"
	"github.com/obra-run/obra/internal/session"
	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/internal/validator"
	"github.com/obra-run/obra/pkg/models"
)

// stubGateway answers Send with a scripted sequence of quality replies, one
// per call, repeating the last entry once the script is exhausted. A single
// reply behaves as a fixed answer for every call.
type stubGateway struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (g *stubGateway) Name() string                      { return "stub" }
func (g *stubGateway) Available(ctx context.Context) bool { return true }
func (g *stubGateway) Send(ctx context.Context, prompt string, opts llmgateway.SendOptions) (*llmgateway.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	if i >= len(g.replies) {
		i = len(g.replies) - 1
	}
	g.calls++
	return &llmgateway.Response{Text: g.replies[i]}, nil
}

// stubDriver returns a scripted sequence of responses/errors, one per call,
// repeating the last entry once the script is exhausted.
type stubDriver struct {
	mu        sync.Mutex
	responses []*agentdriver.Response
	errs      []error
	calls     int
}

func (d *stubDriver) Initialize(ctx context.Context, cfg agentdriver.Config) error { return nil }
func (d *stubDriver) Health() agentdriver.Health                                  { return agentdriver.Health{Alive: true} }
func (d *stubDriver) Shutdown(ctx context.Context) error                          { return nil }

func (d *stubDriver) SendPrompt(ctx context.Context, prompt string, opts agentdriver.SendOptions) (*agentdriver.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	if i >= len(d.responses) {
		i = len(d.responses) - 1
	}
	resp, err := d.responses[i], d.errs[i]
	d.calls++
	if resp == nil {
		resp = &agentdriver.Response{}
	}
	return resp, err
}

func okResponse(content string) *agentdriver.Response {
	return &agentdriver.Response{
		Content:   content,
		SessionID: "impl-session-1",
		Usage:     agentdriver.Usage{Input: 100, Output: 50},
	}
}

func newTestController(t *testing.T, projectID string, driver agentdriver.Driver, gw llmgateway.Gateway) (*Controller, *store.DB) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "obra.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sched, err := scheduler.New(db, projectID)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	sessions := session.New(db, gw, session.DefaultThresholds())
	inbox := directive.New(db)

	estimator, err := session.NewEstimator()
	if err != nil {
		t.Fatalf("new estimator: %v", err)
	}
	assembler := prompt.New(estimator)

	pipeline := validator.New(gw)

	cache, err := store.OpenRetryCache(filepath.Join(t.TempDir(), "retry.db"))
	if err != nil {
		t.Fatalf("open retry cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	retries := retry.New(cache, retry.DefaultConfig())

	cfg := DefaultConfig()
	cfg.DecisionThresholds = decision.DefaultThresholds()

	ctrl := New(db, sched, sessions, inbox, assembler, pipeline, driver, retries, gw, cfg)
	return ctrl, db
}

func newTestTask(t *testing.T, db *store.DB, projectID, taskID string) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:          taskID,
		ProjectID:   projectID,
		TaskType:    models.TaskTypeTask,
		Status:      models.TaskStatusReady,
		Title:       "add a widget",
		Description: "implement the widget feature",
		Priority:    5,
		CreatedAt:   time.Now(),
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := db.UpdateTaskDependsOn(task.ID, nil); err != nil {
		t.Fatalf("update task depends_on: %v", err)
	}
	return task
}

const goodResponse = "Summary: done\nChanges: added widget.go\nTests: go test ./...\n"

func TestRunProceedsOnHighQuality(t *testing.T) {
	gw := &stubGateway{replies: []string{"QUALITY: 0.9\nCOMMENT: looks solid"}}
	driver := &stubDriver{responses: []*agentdriver.Response{okResponse(goodResponse)}, errs: []error{nil}}
	ctrl, db := newTestController(t, "proj-1", driver, gw)
	newTestTask(t, db, "proj-1", "task-1")

	res, err := ctrl.Run(context.Background(), "proj-1", "task-1", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != models.TaskStatusCompleted {
		t.Errorf("status = %v, want completed", res.Status)
	}
	if res.Decision != models.DecisionProceed {
		t.Errorf("decision = %v, want proceed", res.Decision)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}

	task, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != models.TaskStatusCompleted {
		t.Errorf("persisted task status = %v, want completed", task.Status)
	}
}

func TestRunEscalatesOnLowQuality(t *testing.T) {
	gw := &stubGateway{replies: []string{"QUALITY: 0.1\nCOMMENT: badly wrong"}}
	driver := &stubDriver{responses: []*agentdriver.Response{okResponse(goodResponse)}, errs: []error{nil}}
	ctrl, db := newTestController(t, "proj-1", driver, gw)
	newTestTask(t, db, "proj-1", "task-1")

	res, err := ctrl.Run(context.Background(), "proj-1", "task-1", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != models.TaskStatusEscalated {
		t.Errorf("status = %v, want escalated", res.Status)
	}
	if res.Decision != models.DecisionEscalate {
		t.Errorf("decision = %v, want escalate", res.Decision)
	}
}

func TestRunClarifiesThenProceeds(t *testing.T) {
	gw := &stubGateway{replies: []string{
		"QUALITY: 0.6\nCOMMENT: getting there",
		"QUALITY: 0.9\nCOMMENT: now it is correct",
	}}
	driver := &stubDriver{
		responses: []*agentdriver.Response{okResponse(goodResponse), okResponse(goodResponse)},
		errs:      []error{nil, nil},
	}
	ctrl, db := newTestController(t, "proj-1", driver, gw)
	newTestTask(t, db, "proj-1", "task-1")

	res, err := ctrl.Run(context.Background(), "proj-1", "task-1", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != models.TaskStatusCompleted {
		t.Errorf("status = %v, want completed", res.Status)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
}

func TestRunExhaustsMaxIterations(t *testing.T) {
	gw := &stubGateway{replies: []string{"QUALITY: 0.6\nCOMMENT: stuck in the middle"}}
	driver := &stubDriver{
		responses: []*agentdriver.Response{okResponse(goodResponse)},
		errs:      []error{nil},
	}
	ctrl, db := newTestController(t, "proj-1", driver, gw)
	newTestTask(t, db, "proj-1", "task-1")

	res, err := ctrl.Run(context.Background(), "proj-1", "task-1", 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != models.TaskStatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}

	task, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.FailureReason != models.FailedMaxIterations {
		t.Errorf("failure reason = %q, want %q", task.FailureReason, models.FailedMaxIterations)
	}
}

func TestRunRejectsTaskNotReady(t *testing.T) {
	gw := &stubGateway{replies: []string{"QUALITY: 0.9"}}
	driver := &stubDriver{responses: []*agentdriver.Response{okResponse(goodResponse)}, errs: []error{nil}}
	ctrl, db := newTestController(t, "proj-1", driver, gw)
	task := newTestTask(t, db, "proj-1", "task-1")
	if err := db.UpdateTaskStatus(task.ID, models.TaskStatusInProgress, ""); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	_, err := ctrl.Run(context.Background(), "proj-1", "task-1", 5)
	if err == nil {
		t.Fatal("expected an error when the task is not READY")
	}
}

func TestRunCancelledBeforeFirstIteration(t *testing.T) {
	gw := &stubGateway{replies: []string{"QUALITY: 0.9"}}
	driver := &stubDriver{responses: []*agentdriver.Response{okResponse(goodResponse)}, errs: []error{nil}}
	ctrl, db := newTestController(t, "proj-1", driver, gw)
	newTestTask(t, db, "proj-1", "task-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ctrl.Run(ctx, "proj-1", "task-1", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != models.TaskStatusCancelled {
		t.Errorf("status = %v, want cancelled", res.Status)
	}

	task, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("persisted task status = %v, want cancelled", task.Status)
	}
}

func TestRunTerminalDriverErrorEscalates(t *testing.T) {
	gw := &stubGateway{replies: []string{"QUALITY: 0.9"}}
	termErr := errors.New("configuration error: missing api key")
	driver := &stubDriver{responses: []*agentdriver.Response{nil}, errs: []error{termErr}}
	ctrl, db := newTestController(t, "proj-1", driver, gw)
	newTestTask(t, db, "proj-1", "task-1")

	res, err := ctrl.Run(context.Background(), "proj-1", "task-1", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != models.TaskStatusEscalated {
		t.Errorf("status = %v, want escalated", res.Status)
	}
}

func TestSplitToOrchClassifiesDirectiveIntents(t *testing.T) {
	pending := []*store.Directive{
		{ID: "d1", Intent: string(directive.IntentDecisionHint), Body: "please accept this iteration"},
		{ID: "d2", Intent: string(directive.IntentValidationGuidance), Body: "check for edge cases"},
		{ID: "d3", Body: "operator requests a breakpoint here"},
		{ID: "d4", Intent: string(directive.IntentFeedbackRequest), Body: "why did this fail last time?"},
	}

	acceptHint, breakpoints, guidance, feedbackReqs := splitToOrch(pending)
	if !acceptHint {
		t.Error("expected acceptHint = true")
	}
	if len(breakpoints) != 1 {
		t.Errorf("breakpoints = %v, want 1 entry", breakpoints)
	}
	if guidance != "check for edge cases" {
		t.Errorf("guidance = %q, want %q", guidance, "check for edge cases")
	}
	if len(feedbackReqs) != 1 || feedbackReqs[0].ID != "d4" {
		t.Errorf("feedbackReqs = %v, want [d4]", feedbackReqs)
	}
}

func TestEpicScopeAndDescription(t *testing.T) {
	gw := &stubGateway{}
	driver := &stubDriver{responses: []*agentdriver.Response{okResponse(goodResponse)}, errs: []error{nil}}
	ctrl, db := newTestController(t, "proj-1", driver, gw)

	epic := &models.Task{
		ID: "epic-1", ProjectID: "proj-1", TaskType: models.TaskTypeEpic,
		Status: models.TaskStatusReady, Title: "epic", Description: "the epic goal", CreatedAt: time.Now(),
	}
	if err := db.CreateTask(epic); err != nil {
		t.Fatalf("create epic: %v", err)
	}
	story := &models.Task{
		ID: "story-1", ProjectID: "proj-1", TaskType: models.TaskTypeStory, EpicID: "epic-1",
		Status: models.TaskStatusReady, Title: "story", CreatedAt: time.Now(),
	}
	if err := db.CreateTask(story); err != nil {
		t.Fatalf("create story: %v", err)
	}

	if got := epicScope(epic); got != "epic-1" {
		t.Errorf("epicScope(epic) = %q, want epic-1", got)
	}
	if got := epicScope(story); got != "epic-1" {
		t.Errorf("epicScope(story) = %q, want epic-1", got)
	}

	desc, err := ctrl.epicDescription(epic)
	if err != nil {
		t.Fatalf("epicDescription(epic): %v", err)
	}
	if desc != "the epic goal" {
		t.Errorf("epicDescription(epic) = %q, want %q", desc, "the epic goal")
	}

	desc, err = ctrl.epicDescription(story)
	if err != nil {
		t.Fatalf("epicDescription(story): %v", err)
	}
	if desc != "the epic goal" {
		t.Errorf("epicDescription(story) = %q, want %q", desc, "the epic goal")
	}
}
