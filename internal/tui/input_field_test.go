package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestNewInputField(t *testing.T) {
	field := NewInputField()

	if field == nil {
		t.Fatal("NewInputField returned nil")
	}
	if field.width != 80 {
		t.Errorf("Default width = %d, want 80", field.width)
	}
}

func TestInputField_SetWidth(t *testing.T) {
	field := NewInputField()
	field.SetWidth(120)

	if field.width != 120 {
		t.Errorf("Width after SetWidth(120) = %d, want 120", field.width)
	}
	if field.input.Width != 116 {
		t.Errorf("Input width = %d, want %d", field.input.Width, 116)
	}
}

func TestInputField_Update_Enter_EmptyInput(t *testing.T) {
	field := NewInputField()

	msg := tea.KeyMsg{Type: tea.KeyEnter}
	updatedField, cmd := field.Update(msg)

	if cmd != nil {
		t.Error("expected no command for empty input")
	}
	if updatedField == nil {
		t.Error("Update returned nil field")
	}
}

func TestInputField_Update_Enter_WithInput(t *testing.T) {
	field := NewInputField()
	field.input.SetValue("the auth package is internal/session, not internal/auth")

	msg := tea.KeyMsg{Type: tea.KeyEnter}
	_, cmd := field.Update(msg)

	if cmd == nil {
		t.Fatal("expected a command from enter with text")
	}
	result := cmd()
	submitted, ok := result.(DirectiveSubmittedMsg)
	if !ok {
		t.Fatalf("expected DirectiveSubmittedMsg, got %T", result)
	}
	if submitted.Text != "the auth package is internal/session, not internal/auth" {
		t.Errorf("Text = %q, want the submitted line verbatim", submitted.Text)
	}
}

func TestInputField_Update_EnterClearsInput(t *testing.T) {
	field := NewInputField()
	field.input.SetValue("go ahead and retry")

	msg := tea.KeyMsg{Type: tea.KeyEnter}
	updatedField, _ := field.Update(msg)

	if updatedField.input.Value() != "" {
		t.Errorf("input should be cleared after enter, got %q", updatedField.input.Value())
	}
}

func TestInputField_Update_OtherKeys(t *testing.T) {
	field := NewInputField()

	for _, char := range "hello" {
		msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{char}}
		field, _ = field.Update(msg)
	}

	if field.input.Value() != "hello" {
		t.Errorf("input value = %q, want %q", field.input.Value(), "hello")
	}
}

func TestInputField_HistoryNavigation(t *testing.T) {
	field := NewInputField()

	submit := func(text string) {
		field.input.SetValue(text)
		field.Update(tea.KeyMsg{Type: tea.KeyEnter})
	}
	submit("first directive")
	submit("second directive")

	field.input.SetValue("typing a third")
	field, _ = field.Update(tea.KeyMsg{Type: tea.KeyUp})
	if field.input.Value() != "second directive" {
		t.Errorf("after one up, value = %q, want %q", field.input.Value(), "second directive")
	}
	field, _ = field.Update(tea.KeyMsg{Type: tea.KeyUp})
	if field.input.Value() != "first directive" {
		t.Errorf("after two ups, value = %q, want %q", field.input.Value(), "first directive")
	}
	field, _ = field.Update(tea.KeyMsg{Type: tea.KeyDown})
	field, _ = field.Update(tea.KeyMsg{Type: tea.KeyDown})
	if field.input.Value() != "typing a third" {
		t.Errorf("after returning past history, value = %q, want the preserved draft", field.input.Value())
	}
}

func TestInputField_Focus(t *testing.T) {
	field := NewInputField()
	if cmd := field.Focus(); cmd == nil {
		t.Error("Focus should return a command")
	}
}

func TestInputField_Blur(t *testing.T) {
	field := NewInputField()
	field.Blur()
}

func TestInputField_View(t *testing.T) {
	field := NewInputField()
	field.SetWidth(80)

	view := field.View()
	if view == "" {
		t.Error("View should not be empty")
	}
}

func TestInputField_CharLimit(t *testing.T) {
	field := NewInputField()
	if field.input.CharLimit != 2000 {
		t.Errorf("CharLimit = %d, want 2000", field.input.CharLimit)
	}
}

func TestInputField_Placeholder(t *testing.T) {
	field := NewInputField()
	if field.input.Placeholder == "" {
		t.Error("placeholder should be set")
	}
}

func TestDirectiveSubmittedMsg_Fields(t *testing.T) {
	msg := DirectiveSubmittedMsg{Text: "treat this as a clarification"}
	if msg.Text != "treat this as a clarification" {
		t.Errorf("Text = %q, want %q", msg.Text, "treat this as a clarification")
	}
}
