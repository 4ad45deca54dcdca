// Package tui provides Obra's terminal interface: a status header, a
// scrolling transcript of iteration outcomes, and a directive-injection
// REPL, replacing the teacher's multi-panel agent-swarm dashboard with a
// single-task, single-loop surface.
package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/obra-run/obra/pkg/models"
)

// TaskUpdateMsg is sent when the driven task's state changes.
type TaskUpdateMsg struct {
	Task *models.Task
}

// IterationUpdateMsg is sent when an iteration completes.
type IterationUpdateMsg struct {
	Iteration *models.Iteration
}

// BreakpointMsg is sent when the Decision Engine parks the loop pending an
// operator directive.
type BreakpointMsg struct {
	Reason string
}

// SessionDoneMsg signals that the Iteration Controller's Run call has
// returned.
type SessionDoneMsg struct {
	Success bool
	Message string
}

// DebugLogMsg appends a line to the transcript without changing task or
// iteration state.
type DebugLogMsg struct {
	Message string
}

// LogEntry is one line of the scrolling transcript.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// App is the main bubbletea model for Obra's TUI.
type App struct {
	header *Header
	footer *Footer
	input  *InputField

	task       *models.Task
	iterations []*models.Iteration
	logs       []LogEntry

	paused  bool
	pauseBy string

	width, height  int
	quitting       bool
	sessionDone    bool
	sessionSuccess bool
	sessionMessage string

	// onDirective, if set, receives every line submitted through the input
	// field — wired by the caller to internal/directive.Inbox.SubmitToImpl.
	onDirective func(text string)
}

// New creates a new App instance.
func New() *App {
	return &App{
		header:     NewHeader(),
		footer:     NewFooter(),
		input:      NewInputField(),
		iterations: make([]*models.Iteration, 0),
		logs:       make([]LogEntry, 0),
	}
}

// SetProject sets the project name shown in the header.
func (a *App) SetProject(name string) {
	a.header.SetProject(name)
}

// OnDirective registers the callback invoked for every submitted line.
func (a *App) OnDirective(fn func(text string)) {
	a.onDirective = fn
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.input.Focus()
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "q":
			if a.sessionDone {
				a.quitting = true
				return a, tea.Quit
			}
		case "p":
			if a.paused {
				a.paused = false
				a.footer.SetPaused(false)
				a.appendLog("INFO", "resumed without a directive")
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.header.SetWidth(a.width)
		a.footer.SetWidth(a.width)
		a.input.SetWidth(a.width)

	case TaskUpdateMsg:
		a.task = msg.Task
		if msg.Task != nil {
			a.header.SetTask(msg.Task.ID, msg.Task.Title)
		}

	case IterationUpdateMsg:
		a.addIteration(msg.Iteration)

	case BreakpointMsg:
		a.paused = true
		a.pauseBy = msg.Reason
		a.footer.SetPaused(true)
		a.appendLog("BREAKPOINT", msg.Reason)

	case SessionDoneMsg:
		a.sessionDone = true
		a.sessionSuccess = msg.Success
		a.sessionMessage = msg.Message
		a.footer.SetSessionDone(true, msg.Success, msg.Message)

	case DebugLogMsg:
		a.appendLog("INFO", msg.Message)

	case DirectiveSubmittedMsg:
		a.paused = false
		a.footer.SetPaused(false)
		a.appendLog("DIRECTIVE", msg.Text)
		if a.onDirective != nil {
			a.onDirective(msg.Text)
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}
	return fmt.Sprintf("%s\n%s\n\n%s\n%s", a.header.View(), a.viewTranscript(), a.input.View(), a.footer.View())
}

func (a *App) viewTranscript() string {
	if len(a.logs) == 0 {
		return "Waiting for the first iteration..."
	}

	start := 0
	if max := a.maxVisibleLines(); len(a.logs) > max {
		start = len(a.logs) - max
	}

	var view string
	for _, entry := range a.logs[start:] {
		ts := entry.Timestamp.Format("15:04:05")
		view += fmt.Sprintf("  %s [%s] %s\n", ts, entry.Level, entry.Message)
	}
	return view
}

func (a *App) maxVisibleLines() int {
	reserved := a.header.Height() + 4 // input box + footer + spacing
	visible := a.height - reserved
	if visible < 5 {
		return 20
	}
	return visible
}

func (a *App) addIteration(it *models.Iteration) {
	if it == nil {
		return
	}
	a.iterations = append(a.iterations, it)
	a.footer.SetIterationCounts(a.countDecisions())

	msg := fmt.Sprintf("iteration %d: %s", it.Number, it.Decision)
	if it.QualityComment != "" {
		msg += " — " + it.QualityComment
	}
	a.appendLog("ITERATION", msg)
}

func (a *App) countDecisions() IterationCounts {
	var c IterationCounts
	for _, it := range a.iterations {
		switch it.Decision {
		case models.DecisionProceed:
			c.Proceed++
		case models.DecisionRetry:
			c.Retry++
		case models.DecisionClarify:
			c.Clarify++
		}
	}
	return c
}

func (a *App) appendLog(level, message string) {
	a.logs = append(a.logs, LogEntry{Timestamp: time.Now(), Level: level, Message: message})
}

// Run starts the TUI application.
func Run() error {
	app := New()
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// NewProgram creates a new Bubbletea program wired to a fresh App, so the
// caller can drive it with p.Send(...) from the Iteration Controller's
// goroutine.
func NewProgram() (*tea.Program, *App) {
	app := New()
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
