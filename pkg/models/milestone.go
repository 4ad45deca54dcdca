package models

import "time"

// Milestone is a named checkpoint achieved once every required Epic in
// RequiredEpics has reached TaskStatusCompleted.
type Milestone struct {
	// ID is the unique identifier for this milestone.
	ID string `json:"id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// Name is the human-readable milestone name.
	Name string `json:"name"`
	// RequiredEpics lists the Epic task IDs that must all be COMPLETED.
	RequiredEpics []string `json:"required_epics"`
	// Achieved is true once every required Epic has completed.
	Achieved bool `json:"achieved"`
	// AchievedAt is when Achieved became true.
	AchievedAt *time.Time `json:"achieved_at,omitempty"`
	// CreatedAt is when the milestone was defined.
	CreatedAt time.Time `json:"created_at"`
}

// Check reports whether every required epic is present and completed in
// the given status map, without mutating the milestone.
func (m *Milestone) Check(epicStatus map[string]TaskStatus) bool {
	for _, id := range m.RequiredEpics {
		if epicStatus[id] != TaskStatusCompleted {
			return false
		}
	}
	return true
}
