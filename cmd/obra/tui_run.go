package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/obra-run/obra/internal/tui"
	"github.com/obra-run/obra/pkg/models"
)

// runInteractive drives projectID/taskID through the Iteration Controller
// while a single-task tui.App renders its progress, mirroring the
// context.WithCancel + signal.Notify(SIGINT, SIGTERM) cancellation shape
// every other execute path uses, with the Controller itself running on a
// background goroutine that forwards events into the bubbletea program.
func (h *controllerHandle) runInteractive(projectID, taskID string, maxIterations int) (int, error) {
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

	program, app := tui.NewProgram()
	app.OnDirective(func(text string) {
		if err := h.inbox.SubmitToImpl(projectID, taskID, text, false); err != nil {
			program.Send(tui.DebugLogMsg{Message: fmt.Sprintf("directive submit failed: %v", err)})
		}
	})

	h.onIteration = func(task *models.Task, iter *models.Iteration) {
		program.Send(tui.TaskUpdateMsg{Task: task})
		program.Send(tui.IterationUpdateMsg{Iteration: iter})
	}
	h.onBreakpoint = func(task *models.Task, reason string) {
		program.Send(tui.BreakpointMsg{Reason: reason})
	}
	defer func() { h.onIteration = nil; h.onBreakpoint = nil }()

	type runOutcome struct {
		code int
		err  error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, err := h.ctrl.Run(ctx, projectID, taskID, maxIterations)
		h.notifyTerminal(projectID, taskID, result)
		code, mappedErr := mapResultToExit(result, err)
		msg := tui.SessionDoneMsg{Success: code == exitCompleted}
		if err != nil {
			msg.Message = err.Error()
		} else if result != nil {
			msg.Message = fmt.Sprintf("%s after %d iteration(s)", result.Status, result.Iterations)
		}
		program.Send(msg)
		done <- runOutcome{code: code, err: mappedErr}
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-done
		return exitFailed, fmt.Errorf("run interactive display: %w", err)
	}

	outcome := <-done
	return outcome.code, outcome.err
}
