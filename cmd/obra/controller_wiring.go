package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/obra-run/obra/internal/agentdriver"
	"github.com/obra-run/obra/internal/config"
	"github.com/obra-run/obra/internal/controller"
	"github.com/obra-run/obra/internal/decision"
	"github.com/obra-run/obra/internal/directive"
	"github.com/obra-run/obra/internal/git"
	"github.com/obra-run/obra/internal/gitops"
	"github.com/obra-run/obra/internal/learning"
	"github.com/obra-run/obra/internal/llmgateway"
	"github.com/obra-run/obra/internal/metrics"
	"github.com/obra-run/obra/internal/notify"
	"github.com/obra-run/obra/internal/prompt"
	"github.com/obra-run/obra/internal/protect"
	"github.com/obra-run/obra/internal/retry"
	"github.com/obra-run/obra/internal/scheduler"
	"github.com/obra-run/obra/internal/session"
	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/internal/structure"
	"github.com/obra-run/obra/internal/validator"
	"github.com/obra-run/obra/internal/watcher"
	"github.com/obra-run/obra/pkg/models"
)

// defaultMaxIterations bounds a task execute run when --max-iterations is
// left unset.
const defaultMaxIterations = 20

// Exit codes returned by "task execute" / "epic execute", per the command
// contract: 0 completed, 2 escalated, 3 failed, 4 cancelled, 5 blocked by a
// dependency that never became ready.
const (
	exitCompleted  = 0
	exitEscalated  = 2
	exitFailed     = 3
	exitCancelled  = 4
	exitBlockedDep = 5
)

// controllerHandle bundles an Iteration Controller with the long-lived
// driver process it owns, so callers can run one or many tasks and shut the
// driver down exactly once afterward.
type controllerHandle struct {
	ctrl    *controller.Controller
	driver  agentdriver.Driver
	learner *learning.LearningSystem
	inbox   *directive.Inbox

	watch         *watcher.Watcher
	notifier      *notify.Manager
	metricsReg    *metrics.Registry
	metricsServer *http.Server

	// onIteration and onBreakpoint are set for the duration of a single
	// interactive run (see tui_run.go); nil the rest of the time, which is
	// what keeps headless runs free of any TUI dependency.
	onIteration  func(task *models.Task, iter *models.Iteration)
	onBreakpoint func(task *models.Task, reason string)
}

// buildController wires every component the Iteration Controller touches
// from the effective configuration and the project's working directory,
// exactly mirroring the construction order internal/controller.New
// documents: store, scheduler, sessions, directive inbox, prompt assembler,
// validator pipeline, agent driver, retry coordinator, LLM gateway.
func buildController(db *store.DB, projectID string) (*controllerHandle, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	proj, err := requireProject(db, projectID)
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(db, projectID)
	if err != nil {
		return nil, fmt.Errorf("load scheduler: %w", err)
	}

	gw, err := buildGateway(cfg)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator LLM gateway: %w", err)
	}

	sessions := session.New(db, gw, session.Thresholds{
		Limit:    cfg.Session.ContextWindow.Limit,
		Warning:  cfg.Session.ContextWindow.WarningThreshold,
		Refresh:  cfg.Session.ContextWindow.RefreshThreshold,
		Critical: cfg.Session.ContextWindow.CriticalThreshold,
	})

	inbox := directive.New(db)
	estimator, err := session.NewEstimator()
	if err != nil {
		return nil, fmt.Errorf("load token estimator: %w", err)
	}
	prompts := prompt.New(estimator)
	validate := validator.New(gw)

	driver, err := buildDriver(cfg, proj.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("build agent driver: %w", err)
	}

	retryCachePath := filepath.Join(filepath.Dir(store.ProjectDBPath(proj.WorkingDir)), "retry_cache.db")
	retryCache, err := store.OpenRetryCache(retryCachePath)
	if err != nil {
		return nil, fmt.Errorf("open retry cache: %w", err)
	}
	retries := retry.New(retryCache, retry.Config{
		MaxRetries:    cfg.Retry.MaxRetries,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
	})

	learnDBPath := learning.ProjectDBPath(proj.WorkingDir)
	learner, err := learning.NewLearningSystem(learnDBPath)
	if err != nil {
		verbosef("learning system unavailable: %v", err)
	} else {
		retries.WithLearnings(learner)
	}

	runner := git.NewRunner(proj.WorkingDir)
	detector := protect.New()
	for _, p := range cfg.Protect.ExtraPatterns {
		detector.AddPattern(p)
	}
	for _, k := range cfg.Protect.ExtraKeywords {
		detector.AddKeyword(k)
	}
	for _, ft := range cfg.Protect.ExtraFileTypes {
		detector.AddFileType(ft)
	}
	// .obra-protect.yaml sits outside the general config layering (no
	// --set override, no profile merge) so a security reviewer's
	// protected-area rules can't be silently widened by a project or
	// profile config. Its absence is not an error.
	if err := detector.LoadConfig(filepath.Join(proj.WorkingDir, ".obra-protect.yaml")); err != nil && !os.IsNotExist(err) {
		verbosef("loading .obra-protect.yaml: %v", err)
	}
	hook := gitops.New(db, runner, detector, gitops.Config{
		Enabled:        cfg.Git.Enabled,
		AutoCommit:     cfg.Git.AutoCommit,
		CommitStrategy: gitops.CommitStrategy(cfg.Git.CommitStrategy),
		BranchPerTask:  cfg.Git.BranchPerTask,
		BranchPrefix:   cfg.Git.BranchPrefix,
	})

	ctrlCfg := controller.DefaultConfig()
	ctrlCfg.MaxTurns = controller.MaxTurnsPolicy{
		Default:         cfg.Orchestration.MaxTurns.Default,
		Min:             cfg.Orchestration.MaxTurns.Min,
		Max:             cfg.Orchestration.MaxTurns.Max,
		ByTaskType:      cfg.Orchestration.MaxTurns.ByTaskType,
		AutoRetry:       cfg.Orchestration.MaxTurns.AutoRetry,
		RetryMultiplier: cfg.Orchestration.MaxTurns.RetryMultiplier,
	}
	ctrlCfg.UseSessionPersistence = cfg.Agent.UseSessionPersistence
	ctrlCfg.DecisionThresholds = decision.Thresholds{
		QualityProceedThreshold:  cfg.DecisionEngine.QualityProceedThreshold,
		QualityCriticalThreshold: cfg.DecisionEngine.QualityCriticalThreshold,
	}

	analyzer := structure.NewAnalyzer(proj.WorkingDir)
	if err := analyzer.AnalyzeRepository(); err != nil {
		verbosef("structure analysis skipped: %v", err)
	}
	ctrlCfg.StructureNotes = func(task *models.Task) []string {
		// No per-task file boundaries are tracked yet, so every detected
		// directory convention is offered; GetRulesForPath treats an empty
		// boundary list as "no filter".
		rules := analyzer.GetRules().GetRulesForPath(nil)
		notes := make([]string, 0, len(rules))
		for _, r := range rules {
			notes = append(notes, fmt.Sprintf("%s: %s", r.GetPattern(), r.GetDescription()))
		}
		return notes
	}

	ctrlCfg.ArtifactCollector = func(ctx context.Context, task *models.Task) ([]string, error) {
		iter, err := db.LatestIteration(task.ID)
		if err != nil {
			return nil, err
		}
		changes, err := db.FileChangesForIteration(iter.ID)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(changes))
		for _, c := range changes {
			paths = append(paths, c.Path)
		}
		if len(paths) > 0 {
			hook.Run(task, paths)
		}
		return paths, nil
	}

	sinks := []notify.Sink{notify.NewStdoutSink(nil)}
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.Token != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.Notify.Slack.Token, cfg.Notify.Slack.Channel))
	}
	notifier := notify.New(nil, sinks...)

	var metricsReg *metrics.Registry
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsReg = metrics.New()
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsReg.Handler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				verbosef("metrics server stopped: %v", err)
			}
		}()
	}

	var fileWatcher *watcher.Watcher
	if cfg.Watcher.Enabled {
		fileWatcher, err = watcher.New(db, proj.WorkingDir, cfg.Watcher.Debounce)
		if err != nil {
			verbosef("file watcher unavailable: %v", err)
			fileWatcher = nil
		} else if err := fileWatcher.Start(); err != nil {
			verbosef("file watcher failed to start: %v", err)
			fileWatcher = nil
		}
	}

	handle := &controllerHandle{
		driver: driver, learner: learner, inbox: inbox,
		watch: fileWatcher, notifier: notifier, metricsReg: metricsReg, metricsServer: metricsServer,
	}

	ctrlCfg.IterationStarted = func(task *models.Task, iterationID string) {
		if handle.watch != nil {
			handle.watch.SetIteration(iterationID)
		}
	}
	ctrlCfg.OnIteration = func(task *models.Task, iter *models.Iteration) {
		if handle.metricsReg != nil {
			handle.metricsReg.RecordIteration(task.ProjectID, string(iter.Decision), float64(iter.LatencyMS)/1000.0)
			handle.metricsReg.RecordTokens(task.ProjectID, "input", iter.Usage.Input)
			handle.metricsReg.RecordTokens(task.ProjectID, "output", iter.Usage.Output)
			if iter.Decision == models.DecisionRetry {
				handle.metricsReg.RecordRetry(task.ProjectID, "validator")
			}
		}
		if handle.onIteration != nil {
			handle.onIteration(task, iter)
		}
	}
	ctrlCfg.OnBreakpoint = func(task *models.Task, reason string) {
		handle.notifier.Notify(context.Background(), notify.Event{
			Kind: notify.EventBreakpoint, ProjectID: task.ProjectID, TaskID: task.ID, Message: reason,
		})
		if handle.onBreakpoint != nil {
			handle.onBreakpoint(task, reason)
		}
	}

	handle.ctrl = controller.New(db, sched, sessions, inbox, prompts, validate, driver, retries, gw, ctrlCfg)
	return handle, nil
}

func (h *controllerHandle) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.driver.Shutdown(ctx); err != nil {
		verbosef("driver shutdown: %v", err)
	}
	if h.learner != nil {
		h.learner.Close()
	}
	if h.watch != nil {
		if err := h.watch.Close(); err != nil {
			verbosef("file watcher shutdown: %v", err)
		}
	}
	if h.metricsServer != nil {
		if err := h.metricsServer.Shutdown(ctx); err != nil {
			verbosef("metrics server shutdown: %v", err)
		}
	}
}

// notifyTerminal fans the terminal status of a task execute run out to the
// configured notification sinks, skipping the quiet "still in progress"
// statuses a mid-run cancellation can never actually produce here.
func (h *controllerHandle) notifyTerminal(projectID, taskID string, result *controller.Result) {
	if result == nil {
		return
	}
	var kind notify.EventKind
	switch result.Status {
	case models.TaskStatusCompleted:
		kind = notify.EventTaskCompleted
	case models.TaskStatusEscalated:
		kind = notify.EventTaskEscalated
	case models.TaskStatusFailed:
		kind = notify.EventTaskFailed
	default:
		return
	}
	h.notifier.Notify(context.Background(), notify.Event{
		Kind: kind, ProjectID: projectID, TaskID: taskID,
		Message: fmt.Sprintf("%s after %d iteration(s), quality %.2f", result.Status, result.Iterations, result.Quality),
	})
}

// runTask drives a single task to completion through the Iteration
// Controller and maps the terminal status to a process exit code. It never
// calls os.Exit itself, so callers running several tasks (epic execute) can
// keep going and report the worst exit code seen.
func (h *controllerHandle) runTask(projectID, taskID string, maxIterations int, stream, interactive bool) (int, error) {
	if interactive {
		return h.runInteractive(projectID, taskID, maxIterations)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			cancel()
		}
	}()

	if stream {
		h.onIteration = func(task *models.Task, iter *models.Iteration) {
			verbosef("iteration %d: %s (quality=%.2f)", iter.Number, iter.Decision, iter.Quality)
		}
		h.onBreakpoint = func(task *models.Task, reason string) {
			fmt.Printf("breakpoint: %s\n", reason)
		}
		defer func() { h.onIteration = nil; h.onBreakpoint = nil }()
	}

	result, err := h.ctrl.Run(ctx, projectID, taskID, maxIterations)
	h.notifyTerminal(projectID, taskID, result)
	return mapResultToExit(result, err)
}

// mapResultToExit applies the fixed exit-code contract for task execute /
// epic execute to a Controller.Run outcome: 0 completed, 2 escalated, 3
// failed, 4 cancelled, 5 blocked by a dependency.
func mapResultToExit(result *controller.Result, err error) (int, error) {
	if err != nil {
		return exitFailed, err
	}
	switch result.Status {
	case models.TaskStatusCompleted:
		return exitCompleted, nil
	case models.TaskStatusEscalated:
		return exitEscalated, nil
	case models.TaskStatusCancelled:
		return exitCancelled, nil
	case models.TaskStatusBlocked:
		return exitBlockedDep, nil
	default:
		return exitFailed, nil
	}
}

func buildGateway(cfg *config.Config) (llmgateway.Gateway, error) {
	switch cfg.LLM.Type {
	case "external-cli":
		return llmgateway.NewExternalCLI(cfg.LLM.APIURL), nil
	default:
		return llmgateway.NewOllama(cfg.LLM.APIURL, cfg.LLM.Model)
	}
}

func buildDriver(cfg *config.Config, workDir string) (agentdriver.Driver, error) {
	onToolAction := func(tool string) { verbosef("tool call: %s", tool) }

	var driver agentdriver.Driver
	switch cfg.Agent.Type {
	case "api":
		driver = agentdriver.NewAPI(onToolAction)
	default:
		driver = agentdriver.NewLocal(onToolAction)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := driver.Initialize(ctx, agentdriver.Config{
		Command:           cfg.Agent.Command,
		WorkDir:           workDir,
		Model:             cfg.LLM.Model,
		StabilityWindow:   2 * time.Second,
		InitializeTimeout: cfg.Agent.ResponseTimeout,
	}); err != nil {
		return nil, err
	}
	return driver, nil
}
