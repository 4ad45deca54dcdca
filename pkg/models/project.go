// Package models defines the core entities Obra persists and schedules:
// projects, the task hierarchy, iterations, sessions, milestones, and the
// supporting event/attempt records. Types here carry no behavior beyond
// validation and small derived accessors; persistence and scheduling logic
// live in internal/store, internal/graph, and internal/scheduler.
package models

import "time"

// Project is a named engineering workspace rooted at a working directory.
// It is created once and never mutated except for the Deleted flag.
type Project struct {
	// ID is the unique identifier for this project.
	ID string `json:"id"`
	// Name is the human-readable project name.
	Name string `json:"name"`
	// WorkingDir is the absolute path to the project's working directory.
	WorkingDir string `json:"working_dir"`
	// ConfigSnapshot is the serialized configuration in effect when the
	// project was created, kept for audit purposes.
	ConfigSnapshot string `json:"config_snapshot,omitempty"`
	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`
	// Deleted is a soft-delete flag.
	Deleted bool `json:"deleted,omitempty"`
}
