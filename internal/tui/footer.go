package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// IterationCounts holds the count of iterations by decision so far in the
// current task, replacing the teacher's per-agent Done/Failed/Running
// tally with the Decision Engine's own vocabulary.
type IterationCounts struct {
	Proceed int
	Retry   int
	Clarify int
}

// Footer renders the status bar and keyboard hints.
type Footer struct {
	message     string
	success     bool
	sessionDone bool
	paused      bool
	width       int
	counts      IterationCounts

	successStyle   lipgloss.Style
	errorStyle     lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		successStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true),
		errorStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		hintStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		separatorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("236")),
	}
}

// SetMessage sets the status message.
func (f *Footer) SetMessage(message string, success bool) {
	f.message = message
	f.success = success
}

// SetSessionDone marks the controller run as complete.
func (f *Footer) SetSessionDone(done, success bool, message string) {
	f.sessionDone = done
	f.success = success
	f.message = message
}

// SetPaused marks whether the loop is parked at a breakpoint awaiting a
// directive.
func (f *Footer) SetPaused(paused bool) {
	f.paused = paused
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// SetIterationCounts updates the per-decision tally displayed on the left.
func (f *Footer) SetIterationCounts(counts IterationCounts) {
	f.counts = counts
}

// View renders the footer.
func (f *Footer) View() string {
	var left string

	total := f.counts.Proceed + f.counts.Retry + f.counts.Clarify
	if total > 0 {
		left = fmt.Sprintf("✓%d", f.counts.Proceed)
		if f.counts.Clarify > 0 {
			left += fmt.Sprintf(" ?%d", f.counts.Clarify)
		}
		if f.counts.Retry > 0 {
			left += fmt.Sprintf(" ↻%d", f.counts.Retry)
		}
	}

	if f.sessionDone {
		if f.success {
			left = f.successStyle.Render("✓ " + f.message)
		} else {
			left = f.errorStyle.Render("✗ " + f.message)
		}
	} else if f.paused {
		left = f.errorStyle.Render("⏸ waiting for a directive")
	} else if f.message != "" && left == "" {
		left = f.hintStyle.Render(f.message)
	}

	right := f.keyboardHints()
	sep := f.separatorStyle.Render(" │ ")

	switch {
	case left != "" && right != "":
		return left + sep + right
	case left != "":
		return left
	default:
		return right
	}
}

func (f *Footer) keyboardHints() string {
	if f.sessionDone {
		return f.hintStyle.Render("Press q to exit")
	}
	hints := "enter: send directive"
	if f.paused {
		hints += " │ p resume without a directive"
	}
	hints += " │ q quit"
	return f.hintStyle.Render(hints)
}
