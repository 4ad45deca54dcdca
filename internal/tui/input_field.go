package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DirectiveSubmittedMsg is sent when the operator submits a line of text
// to inject into the running loop, replacing the teacher's
// TaskSubmittedMsg (which kicked off a brand-new task) since Obra's REPL
// only ever feeds the Injected-Directive Channel of a task already in
// flight.
type DirectiveSubmittedMsg struct {
	Text string
}

// InputField is a text input component for entering directives, with
// readline-style history navigation via the up/down arrows.
type InputField struct {
	input textinput.Model
	width int

	history []string
	histIdx int
	draft   string
}

// NewInputField creates a new InputField.
func NewInputField() *InputField {
	ti := textinput.New()
	ti.Placeholder = "Type a directive for the loop and press Enter..."
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 60

	return &InputField{
		input:   ti,
		width:   80,
		history: make([]string, 0),
		histIdx: -1,
	}
}

// SetWidth sets the width of the input field.
func (f *InputField) SetWidth(width int) {
	f.width = width
	f.input.Width = width - 4
}

// Update handles messages for the input field.
func (f *InputField) Update(msg tea.Msg) (*InputField, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			text := f.input.Value()
			if text == "" {
				return f, nil
			}
			f.history = append(f.history, text)
			f.histIdx = -1
			f.draft = ""
			f.input.Reset()
			return f, func() tea.Msg {
				return DirectiveSubmittedMsg{Text: text}
			}

		case "up":
			if len(f.history) > 0 {
				if f.histIdx == -1 {
					f.draft = f.input.Value()
					f.histIdx = len(f.history) - 1
				} else if f.histIdx > 0 {
					f.histIdx--
				}
				f.input.SetValue(f.history[f.histIdx])
				f.input.CursorEnd()
			}
			return f, nil

		case "down":
			if f.histIdx >= 0 {
				if f.histIdx < len(f.history)-1 {
					f.histIdx++
					f.input.SetValue(f.history[f.histIdx])
				} else {
					f.histIdx = -1
					f.input.SetValue(f.draft)
				}
				f.input.CursorEnd()
			}
			return f, nil
		}
	}

	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return f, cmd
}

// View renders the input field.
func (f *InputField) View() string {
	promptStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(f.width - 2)

	prompt := promptStyle.Render("> ")
	return boxStyle.Render(prompt + f.input.View())
}

// Focus sets focus on the input field.
func (f *InputField) Focus() tea.Cmd {
	return f.input.Focus()
}

// Blur removes focus from the input field.
func (f *InputField) Blur() {
	f.input.Blur()
}
