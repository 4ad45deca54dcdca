package main

import (
	"testing"

	"github.com/obra-run/obra/pkg/models"
)

func TestParseDependsOn(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []string
	}{
		{"empty string", "", nil},
		{"single id", "task-1", []string{"task-1"}},
		{"multiple ids", "task-1,task-2,task-3", []string{"task-1", "task-2", "task-3"}},
		{"trims whitespace", " task-1 , task-2 ", []string{"task-1", "task-2"}},
		{"drops empty entries", "task-1,,task-2,", []string{"task-1", "task-2"}},
		{"all empty entries", ",, ,", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDependsOn(tt.raw)
			if len(got) != len(tt.expected) {
				t.Fatalf("parseDependsOn(%q) = %v, want %v", tt.raw, got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("parseDependsOn(%q)[%d] = %q, want %q", tt.raw, i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestInitialStatus(t *testing.T) {
	tests := []struct {
		name      string
		dependsOn []string
		expected  models.TaskStatus
	}{
		{"no dependencies is ready", nil, models.TaskStatusReady},
		{"empty slice is ready", []string{}, models.TaskStatusReady},
		{"one dependency is pending", []string{"task-1"}, models.TaskStatusPending},
		{"multiple dependencies is pending", []string{"task-1", "task-2"}, models.TaskStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := initialStatus(tt.dependsOn)
			if got != tt.expected {
				t.Errorf("initialStatus(%v) = %q, want %q", tt.dependsOn, got, tt.expected)
			}
		})
	}
}
