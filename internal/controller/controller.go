// Package controller implements the Iteration Controller: the loop that
// drives a single task through the Implementer one iteration at a time,
// consulting the Validator Pipeline and Decision Engine after each call and
// acting on PROCEED, RETRY, CLARIFY, ESCALATE, or BREAKPOINT until the task
// reaches a terminal state or exhausts its iteration budget.
package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/obra-run/obra/internal/agentdriver"
	"github.com/obra-run/obra/internal/decision"
	"github.com/obra-run/obra/internal/directive"
	"github.com/obra-run/obra/internal/errs"
	"github.com/obra-run/obra/internal/llmgateway"
	"github.com/obra-run/obra/internal/prompt"
	"github.com/obra-run/obra/internal/retry"
	"github.com/obra-run/obra/internal/scheduler"
	"github.com/obra-run/obra/internal/session"
	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/internal/validator"
	"github.com/obra-run/obra/pkg/models"
)

// breakpointPollInterval is how often Run checks for a fresh operator
// directive while a task is paused at a breakpoint.
const breakpointPollInterval = 2 * time.Second

// MaxTurnsPolicy holds the Agent Driver's per-task-type turn budget and the
// auto-retry-with-doubled-turns policy applied on a max_turns_exhausted
// error.
type MaxTurnsPolicy struct {
	Default         int
	Min             int
	Max             int
	ByTaskType      map[string]int
	AutoRetry       bool
	RetryMultiplier float64
}

// DefaultMaxTurnsPolicy returns the recommended default turn budget.
func DefaultMaxTurnsPolicy() MaxTurnsPolicy {
	return MaxTurnsPolicy{Default: 8, Min: 3, Max: 20, AutoRetry: true, RetryMultiplier: 2.0}
}

func (p MaxTurnsPolicy) initial(taskType models.TaskType) int {
	n := p.Default
	if byType, ok := p.ByTaskType[string(taskType)]; ok && byType > 0 {
		n = byType
	}
	return clampInt(n, p.Min, p.Max)
}

func (p MaxTurnsPolicy) doubled(current int) int {
	mult := p.RetryMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	next := int(float64(current) * mult)
	return clampInt(next, p.Min, p.Max)
}

func clampInt(n, lo, hi int) int {
	if hi > 0 && n > hi {
		n = hi
	}
	if n < lo {
		n = lo
	}
	return n
}

// Config holds the Iteration Controller's tunables. Each sub-threshold type
// mirrors internal/config's corresponding struct; the wiring from loaded
// configuration into these values happens where the Controller is
// constructed, not here.
type Config struct {
	MaxTurns           MaxTurnsPolicy
	DecisionThresholds decision.Thresholds
	// RequiredFields are the labelled fields the Prompt Assembler declares
	// and the Completeness check looks for in the Implementer's response.
	RequiredFields []string
	// UseSessionPersistence carries the Implementer's own native session id
	// forward between iterations of the same Obra session.
	UseSessionPersistence bool
	// ArtifactCollector runs after a PROCEED decision to gather the paths
	// changed by the task, typically backed by the git post-task hook. May
	// be nil, in which case Result.Artifacts is always empty.
	ArtifactCollector func(ctx context.Context, task *models.Task) ([]string, error)
	// StructureNotes builds the repository-layout bullets folded into each
	// iteration's prompt ahead of the Epic summary, typically backed by
	// internal/structure. May be nil, in which case no structure notes are
	// added.
	StructureNotes func(task *models.Task) []string
	// IterationStarted, if set, is called with the iteration id about to be
	// sent to the Implementer, before the agent call, so a caller can
	// attribute concurrently observed side effects (file changes) to the
	// right iteration. May be nil.
	IterationStarted func(task *models.Task, iterationID string)
	// OnIteration, if set, is called once per recorded iteration, after
	// persistence and before the decision is acted on. It lets a caller
	// drive a live view (the TUI) off a loop that otherwise only reports
	// its final Result. May be nil.
	OnIteration func(task *models.Task, iter *models.Iteration)
	// OnBreakpoint, if set, is called when the loop pauses awaiting an
	// operator directive. May be nil.
	OnBreakpoint func(task *models.Task, reason string)
	Logger       *slog.Logger
}

// DefaultConfig returns the recommended default tunables.
func DefaultConfig() Config {
	return Config{
		MaxTurns:              DefaultMaxTurnsPolicy(),
		DecisionThresholds:    decision.DefaultThresholds(),
		RequiredFields:        []string{"Summary:", "Changes:", "Tests:"},
		UseSessionPersistence: true,
	}
}

// Result is what Run reports once a task's loop ends, whether at a terminal
// state or paused/exhausted.
type Result struct {
	Status     models.TaskStatus
	Iterations int
	Quality    float64
	Confidence float64
	Decision   models.Decision
	Artifacts  []string
}

// Controller wires together every component the Iteration Controller's
// algorithm touches: the store, the Dependency Scheduler, the Session &
// Context Manager, the Injected-Directive Channel, the Prompt Assembler, the
// Validator Pipeline, the Agent Driver, and the Retry Coordinator.
type Controller struct {
	db        *store.DB
	scheduler *scheduler.Scheduler
	sessions  *session.Manager
	inbox     *directive.Inbox
	prompts   *prompt.Assembler
	validate  *validator.Pipeline
	driver    agentdriver.Driver
	retries   *retry.Coordinator
	gw        llmgateway.Gateway
	cfg       Config
}

// New constructs a Controller. gw is the Orchestrator LLM gateway used
// directly here only to answer feedback_request directives; every other LLM
// call is made inside sessions/validate.
func New(
	db *store.DB,
	sched *scheduler.Scheduler,
	sessions *session.Manager,
	inbox *directive.Inbox,
	prompts *prompt.Assembler,
	validate *validator.Pipeline,
	driver agentdriver.Driver,
	retries *retry.Coordinator,
	gw llmgateway.Gateway,
	cfg Config,
) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		db: db, scheduler: sched, sessions: sessions, inbox: inbox,
		prompts: prompts, validate: validate, driver: driver, retries: retries,
		gw: gw, cfg: cfg,
	}
}

// Run drives a single READY task through the Implementer for up to
// maxIterations passes, applying the Decision Engine's verdict after each
// one, until the task reaches a terminal state, pauses at a breakpoint and
// the caller's context is cancelled, or the iteration budget is exhausted.
func (c *Controller) Run(ctx context.Context, projectID, taskID string, maxIterations int) (*Result, error) {
	log := c.cfg.Logger.With("task_id", taskID)

	task, err := c.db.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	if err := c.db.StartTask(taskID); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusInProgress

	epicID := epicScope(task)
	epicDescription, err := c.epicDescription(task)
	if err != nil {
		return nil, err
	}

	sess, err := c.sessions.EnsureOpen(ctx, projectID, epicID)
	if err != nil {
		return nil, fmt.Errorf("ensure session open: %w", err)
	}

	maxTurns := c.cfg.MaxTurns.initial(task.TaskType)
	implSessionID := ""

	var prior *models.Iteration
	var priorQuality float64
	var hasPriorQuality bool
	consecutiveClarifies := 0
	lastDecision := models.Decision("")
	var lastQuality, lastConfidence float64

	for iterNum := 1; iterNum <= maxIterations; iterNum++ {
		if ctx.Err() != nil {
			res, cancelErr := c.cancelled(task, sess, iterNum-1, "cancelled before iteration")
			return res, cancelErr
		}

		switch action := c.sessions.CheckThresholds(sess); action {
		case session.ActionRefresh, session.ActionCriticalRefresh:
			refreshed, err := c.sessions.Refresh(ctx, sess, epicDescription)
			if err != nil {
				return nil, fmt.Errorf("refresh session: %w", err)
			}
			log.Info("session refreshed", "old_session_id", sess.ID, "new_session_id", refreshed.ID,
				"critical", action == session.ActionCriticalRefresh)
			sess = refreshed
			implSessionID = ""
			if action == session.ActionCriticalRefresh {
				log.Warn("session hit critical token threshold; remaining work is a decomposition candidate")
			}
		case session.ActionWarn:
			log.Warn("session nearing context budget", "usage_ratio", sess.UsageRatio())
		}

		if ctx.Err() != nil {
			res, cancelErr := c.cancelled(task, sess, iterNum-1, "cancelled during session refresh")
			return res, cancelErr
		}

		cutoff := time.Now()
		toImpl, err := c.inbox.ApplyToImpl(projectID, taskID, cutoff)
		if err != nil {
			return nil, fmt.Errorf("apply pending to_impl directives: %w", err)
		}
		toOrch, err := c.inbox.PendingToOrch(projectID, taskID, cutoff)
		if err != nil {
			return nil, fmt.Errorf("load pending to_orch directives: %w", err)
		}
		acceptHint, breakpointTriggers, guidance, feedbackReqs := splitToOrch(toOrch)
		for _, d := range toOrch {
			if directive.Intent(d.Intent) == directive.IntentFeedbackRequest {
				continue // consumed by HandleFeedbackRequest after scoring
			}
			if err := c.inbox.Consume(d.ID); err != nil {
				return nil, fmt.Errorf("consume to_orch directive %s: %w", d.ID, err)
			}
		}

		var structureNotes []string
		if c.cfg.StructureNotes != nil {
			structureNotes = c.cfg.StructureNotes(task)
		}

		assembled, err := c.prompts.Assemble(ctx, prompt.Input{
			Task:               task,
			EpicContextSummary: sess.Summary,
			PriorIteration:     prior,
			ToImplDirectives:   toImpl,
			RequiredFields:     c.cfg.RequiredFields,
			ContextLimit:       sess.ContextWindow,
			StructureNotes:     structureNotes,
		})
		if err != nil {
			return nil, fmt.Errorf("assemble prompt: %w", err)
		}
		if assembled.OverBudget {
			log.Warn("prompt still exceeds token budget after truncation", "iteration", iterNum)
		}

		iterID := uuid.New().String()
		if c.cfg.IterationStarted != nil {
			c.cfg.IterationStarted(task, iterID)
		}

		startedAt := time.Now()
		resp, retryAttempt, err := c.sendWithRetry(ctx, taskID, &maxTurns, assembled.Text, implSessionID)
		if err != nil {
			if ctx.Err() != nil {
				res, cancelErr := c.cancelled(task, sess, iterNum-1, "cancelled during agent call")
				return res, cancelErr
			}
			return c.terminalFailure(task, iterNum, sess.ID, startedAt, err)
		}
		endedAt := time.Now()
		if c.cfg.UseSessionPersistence {
			implSessionID = resp.SessionID
		}

		usage := models.TokenUsage{
			Input: resp.Usage.Input, CacheCreate: resp.Usage.CacheCreate,
			CacheRead: resp.Usage.CacheRead, Output: resp.Usage.Output,
		}
		if _, err := c.sessions.RecordUsage(sess, usage); err != nil {
			return nil, fmt.Errorf("record session usage: %w", err)
		}

		result := c.validate.Validate(ctx, validator.Input{
			TaskDescription: task.Description,
			Response:        resp.Content,
			RequiredFields:  c.cfg.RequiredFields,
			ToOrchGuidance:  guidance,
			PriorQuality:    priorQuality,
			HasPriorQuality: hasPriorQuality,
		})

		for _, d := range feedbackReqs {
			if err := c.inbox.HandleFeedbackRequest(ctx, c.gw, projectID, taskID, &directive.FeedbackContext{
				Quality: result.Quality.Quality, QualityComment: result.Quality.Comment,
			}, d); err != nil {
				log.Warn("feedback request analysis failed", "directive_id", d.ID, "error", err)
			}
		}

		verdict := decision.Decide(decision.Input{
			ValidationPassed:     result.Completeness.Complete,
			ValidatorErrored:     result.Quality.Errored,
			Quality:              result.Quality.Quality,
			Iteration:            iterNum,
			MaxIterations:        maxIterations,
			BreakpointTriggers:   breakpointTriggers,
			DirectiveAcceptHint:  acceptHint,
			PriorQuality:         priorQuality,
			HasPriorQuality:      hasPriorQuality,
			ConsecutiveClarifies: consecutiveClarifies,
		}, c.cfg.DecisionThresholds)

		fingerprint := sha256.Sum256([]byte(assembled.Text))
		iter := &models.Iteration{
			ID:                 iterID,
			TaskID:             taskID,
			SessionID:          sess.ID,
			Number:             iterNum,
			PromptFingerprint:  hex.EncodeToString(fingerprint[:]),
			RawResponse:        resp.Content,
			Usage:              usage,
			Complete:           result.Completeness.Complete,
			CompletenessIssues: result.Completeness.Issues,
			Quality:            result.Quality.Quality,
			QualityComment:     result.Quality.Comment,
			ValidatorErrored:   result.Quality.Errored,
			Confidence:         result.Confidence,
			Decision:           verdict,
			Breakpoint:         verdict == models.DecisionBreakpoint,
			RetryAttempt:       retryAttempt,
			LatencyMS:          resp.DurationMS,
			CostUnits:          float64(usage.Total()) / 1000.0,
			StartedAt:          startedAt,
			EndedAt:            endedAt,
		}
		if err := c.db.CreateIteration(iter); err != nil {
			return nil, fmt.Errorf("persist iteration %d: %w", iterNum, err)
		}

		log.Info("iteration recorded", "iteration", iterNum, "decision", verdict,
			"quality", result.Quality.Quality, "confidence", result.Confidence)

		lastDecision, lastQuality, lastConfidence = verdict, result.Quality.Quality, result.Confidence
		if c.cfg.OnIteration != nil {
			c.cfg.OnIteration(task, iter)
		}

		switch verdict {
		case models.DecisionProceed:
			if err := c.scheduler.OnComplete(taskID); err != nil {
				return nil, fmt.Errorf("mark task complete: %w", err)
			}
			artifacts, err := c.collectArtifacts(ctx, task)
			if err != nil {
				log.Warn("artifact collection failed", "error", err)
			}
			return &Result{
				Status: models.TaskStatusCompleted, Iterations: iterNum,
				Quality: result.Quality.Quality, Confidence: result.Confidence,
				Decision: verdict, Artifacts: artifacts,
			}, nil

		case models.DecisionEscalate:
			reason := escalationReason(result)
			if err := c.scheduler.OnFail(taskID, models.TaskStatusEscalated, reason); err != nil {
				return nil, fmt.Errorf("mark task escalated: %w", err)
			}
			return &Result{
				Status: models.TaskStatusEscalated, Iterations: iterNum,
				Quality: result.Quality.Quality, Confidence: result.Confidence, Decision: verdict,
			}, nil

		case models.DecisionBreakpoint:
			if err := c.db.SetBreakpointPending(taskID, true); err != nil {
				return nil, fmt.Errorf("set breakpoint pending: %w", err)
			}
			log.Info("task paused at breakpoint, awaiting operator directive", "iteration", iterNum)
			if c.cfg.OnBreakpoint != nil {
				c.cfg.OnBreakpoint(task, escalationReason(result))
			}
			if err := c.waitForDirective(ctx, projectID, taskID, endedAt); err != nil {
				res, cancelErr := c.cancelled(task, sess, iterNum, "cancelled while paused at breakpoint")
				if cancelErr != nil {
					return nil, cancelErr
				}
				return res, nil
			}
			if err := c.db.SetBreakpointPending(taskID, false); err != nil {
				return nil, fmt.Errorf("clear breakpoint pending: %w", err)
			}
			consecutiveClarifies = 0

		case models.DecisionClarify:
			consecutiveClarifies++

		case models.DecisionRetry:
			consecutiveClarifies = 0
		}

		prior = iter
		priorQuality = result.Quality.Quality
		hasPriorQuality = true
	}

	reason := models.FailedMaxIterations
	if err := c.scheduler.OnFail(taskID, models.TaskStatusFailed, reason); err != nil {
		return nil, fmt.Errorf("mark task failed at max iterations: %w", err)
	}
	log.Warn("task exhausted max iterations", "max_iterations", maxIterations)
	return &Result{
		Status: models.TaskStatusFailed, Iterations: maxIterations,
		Quality: lastQuality, Confidence: lastConfidence, Decision: lastDecision,
	}, nil
}

// sendWithRetry submits prompt to the Implementer, evaluating any failure
// through the Retry Coordinator and doubling maxTurns (bounded by policy) on
// a max_turns_exhausted classification. It returns once a response is
// obtained or the Retry Coordinator declares the failure terminal.
func (c *Controller) sendWithRetry(ctx context.Context, taskID string, maxTurns *int, promptText, implSessionID string) (*agentdriver.Response, int, error) {
	attempt := 0
	var lastErr error
	for {
		resp, err := c.driver.SendPrompt(ctx, promptText, agentdriver.SendOptions{
			MaxTurns: *maxTurns, SessionID: implSessionID, StructuredOutput: true,
		})
		if err == nil && resp.ErrorSubtype == agentdriver.MaxTurnsExhausted {
			err = errs.New(errs.KindAgentMaxTurns, "controller", taskID,
				fmt.Errorf("exhausted %d turns", *maxTurns))
		}
		if err == nil {
			if attempt > 0 {
				if clearErr := c.retries.Clear(taskID); clearErr != nil {
					return nil, attempt, fmt.Errorf("clear retry schedule after success: %w", clearErr)
				}
				c.retries.RecordResolution(lastErr.Error(), attempt)
			}
			return resp, attempt, nil
		}
		lastErr = err

		outcome, evalErr := c.retries.Evaluate(taskID, attempt, err)
		if evalErr != nil {
			return nil, attempt, fmt.Errorf("evaluate retry: %w", evalErr)
		}
		if outcome.TerminalErr != nil {
			return nil, attempt, outcome.TerminalErr
		}
		if outcome.Guidance != "" {
			promptText = promptText + "\n\n" + outcome.Guidance
		}

		if _, incErr := c.db.IncrementRetryCount(taskID); incErr != nil {
			return nil, attempt, fmt.Errorf("record retry count: %w", incErr)
		}
		if kind, ok := errs.KindOf(err); ok && kind == errs.KindAgentMaxTurns && c.cfg.MaxTurns.AutoRetry {
			*maxTurns = c.cfg.MaxTurns.doubled(*maxTurns)
		}

		if sleepErr := sleepUntil(ctx, outcome.NextAttemptAt); sleepErr != nil {
			return nil, attempt, sleepErr
		}
		attempt = outcome.Attempt
	}
}

func sleepUntil(ctx context.Context, until time.Time) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	d := time.Until(until)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForDirective blocks until a to_impl or to_orch directive arrives for
// taskID after since, or ctx is cancelled.
func (c *Controller) waitForDirective(ctx context.Context, projectID, taskID string, since time.Time) error {
	sinceStamp := since.UTC().Format(time.RFC3339Nano)
	ticker := time.NewTicker(breakpointPollInterval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		toImpl, err := c.db.PendingDirectives(projectID, taskID, string(directive.DirectionToImpl))
		if err != nil {
			return fmt.Errorf("poll to_impl directives: %w", err)
		}
		toOrch, err := c.db.PendingDirectives(projectID, taskID, string(directive.DirectionToOrch))
		if err != nil {
			return fmt.Errorf("poll to_orch directives: %w", err)
		}
		if hasNewer(toImpl, sinceStamp) || hasNewer(toOrch, sinceStamp) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func hasNewer(ds []*store.Directive, sinceStamp string) bool {
	for _, d := range ds {
		if d.CreatedAt > sinceStamp {
			return true
		}
	}
	return false
}

// cancelled persists a minimal Iteration record marking the cancellation and
// moves the task to CANCELLED, satisfying the rule that cancellation is
// never silent.
func (c *Controller) cancelled(task *models.Task, sess *models.Session, completedIterations int, reason string) (*Result, error) {
	now := time.Now()
	iter := &models.Iteration{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		SessionID: sess.ID,
		Number:    completedIterations + 1,
		Cancelled: true,
		ErrorKind: string(errs.KindCancellation),
		StartedAt: now,
		EndedAt:   now,
	}
	if err := c.db.CreateIteration(iter); err != nil {
		return nil, fmt.Errorf("persist cancellation record: %w", err)
	}
	if err := c.db.UpdateTaskStatus(task.ID, models.TaskStatusCancelled, reason); err != nil {
		return nil, fmt.Errorf("mark task cancelled: %w", err)
	}
	return &Result{Status: models.TaskStatusCancelled, Iterations: completedIterations}, nil
}

// terminalFailure records a terminal Agent Driver failure as a final
// iteration and moves the task to ESCALATED, mirroring the SchemaError and
// similar terminal-error handling.
func (c *Controller) terminalFailure(task *models.Task, iterNum int, sessionID string, startedAt time.Time, err error) (*Result, error) {
	kind, _ := errs.KindOf(err)
	iter := &models.Iteration{
		ID: uuid.New().String(), TaskID: task.ID, SessionID: sessionID, Number: iterNum,
		ErrorKind: string(kind), StartedAt: startedAt, EndedAt: time.Now(),
	}
	if cerr := c.db.CreateIteration(iter); cerr != nil {
		return nil, fmt.Errorf("persist terminal failure record: %w", cerr)
	}
	reason := fmt.Sprintf("agent driver: %v", err)
	if serr := c.scheduler.OnFail(task.ID, models.TaskStatusEscalated, reason); serr != nil {
		return nil, fmt.Errorf("mark task escalated after terminal driver error: %w", serr)
	}
	return &Result{Status: models.TaskStatusEscalated, Iterations: iterNum, Decision: models.DecisionEscalate}, nil
}

func (c *Controller) collectArtifacts(ctx context.Context, task *models.Task) ([]string, error) {
	if c.cfg.ArtifactCollector == nil {
		return nil, nil
	}
	return c.cfg.ArtifactCollector(ctx, task)
}

func (c *Controller) epicDescription(task *models.Task) (string, error) {
	if task.TaskType == models.TaskTypeEpic {
		return task.Description, nil
	}
	if task.EpicID == "" {
		return "", nil
	}
	epic, err := c.db.GetTask(task.EpicID)
	if err != nil {
		return "", fmt.Errorf("load owning epic %s: %w", task.EpicID, err)
	}
	return epic.Description, nil
}

func epicScope(task *models.Task) string {
	if task.TaskType == models.TaskTypeEpic {
		return task.ID
	}
	return task.EpicID
}

func escalationReason(result validator.Result) string {
	if result.Quality.Errored {
		return "quality scoring failed to parse"
	}
	if !result.Completeness.Complete {
		return "completeness check failed: " + strings.Join(result.Completeness.Issues, "; ")
	}
	return fmt.Sprintf("quality %.2f below critical threshold", result.Quality.Quality)
}

// splitToOrch partitions pending to_orch directives by effect: whether any
// is a decision_hint("accept"/"approve"), any explicit breakpoint requests,
// the concatenated validation_guidance text, and the feedback_request
// directives (handled separately, after quality scoring).
func splitToOrch(pending []*store.Directive) (acceptHint bool, breakpoints []string, guidance string, feedbackReqs []*store.Directive) {
	var guidanceLines []string
	for _, d := range pending {
		lower := strings.ToLower(d.Body)
		if strings.Contains(lower, "breakpoint") || strings.Contains(lower, "pause") {
			breakpoints = append(breakpoints, d.Body)
		}
		switch directive.Intent(d.Intent) {
		case directive.IntentDecisionHint:
			if strings.Contains(lower, "accept") || strings.Contains(lower, "approve") || strings.Contains(lower, "proceed") {
				acceptHint = true
			}
		case directive.IntentValidationGuidance:
			guidanceLines = append(guidanceLines, d.Body)
		case directive.IntentFeedbackRequest:
			feedbackReqs = append(feedbackReqs, d)
		}
	}
	return acceptHint, breakpoints, strings.Join(guidanceLines, "\n"), feedbackReqs
}
