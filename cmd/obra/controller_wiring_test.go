package main

import (
	"errors"
	"testing"

	"github.com/obra-run/obra/internal/controller"
	"github.com/obra-run/obra/pkg/models"
)

func TestMapResultToExit(t *testing.T) {
	tests := []struct {
		name   string
		result *controller.Result
		err    error
		want   int
	}{
		{"error always wins", &controller.Result{Status: models.TaskStatusCompleted}, errors.New("boom"), exitFailed},
		{"completed", &controller.Result{Status: models.TaskStatusCompleted}, nil, exitCompleted},
		{"escalated", &controller.Result{Status: models.TaskStatusEscalated}, nil, exitEscalated},
		{"cancelled", &controller.Result{Status: models.TaskStatusCancelled}, nil, exitCancelled},
		{"blocked", &controller.Result{Status: models.TaskStatusBlocked}, nil, exitBlockedDep},
		{"failed", &controller.Result{Status: models.TaskStatusFailed}, nil, exitFailed},
		{"unrecognized status maps to failed", &controller.Result{Status: models.TaskStatusPending}, nil, exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := mapResultToExit(tt.result, tt.err)
			if code != tt.want {
				t.Errorf("mapResultToExit() code = %d, want %d", code, tt.want)
			}
			if tt.err != nil && err == nil {
				t.Error("expected the original error to be returned")
			}
		})
	}
}
