package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Header renders the title bar: project name and the task currently
// driving the loop, replacing the teacher's full-width ASCII logo with a
// single status line, since Obra drives one task through the loop at a
// time rather than a swarm of concurrent agents.
type Header struct {
	width     int
	project   string
	taskID    string
	taskTitle string
}

// NewHeader creates a new Header.
func NewHeader() *Header {
	return &Header{width: 80}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// SetTask sets the task currently displayed in the header.
func (h *Header) SetTask(id, title string) {
	h.taskID = id
	h.taskTitle = title
}

// SetProject sets the project name displayed in the header.
func (h *Header) SetProject(name string) {
	h.project = name
}

// View renders the header.
func (h *Header) View() string {
	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)
	subStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	title := titleStyle.Render("obra")
	if h.project != "" {
		title += subStyle.Render(" · " + h.project)
	}

	var task string
	if h.taskID != "" {
		task = subStyle.Render(fmt.Sprintf("task %s — %s", h.taskID, h.taskTitle))
	}

	bar := lipgloss.NewStyle().Width(h.width).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(lipgloss.Color("236")).
		PaddingBottom(1)

	line := title
	if task != "" {
		line = lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", task)
	}
	return bar.Render(line)
}

// Height returns the header height in lines.
func (h *Header) Height() int {
	return 2
}
