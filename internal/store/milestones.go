package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/obra-run/obra/pkg/models"
)

// CreateMilestone inserts a new milestone.
func (db *DB) CreateMilestone(m *models.Milestone) error {
	_, err := db.Exec(`
		INSERT INTO milestones (id, project_id, name, required_epics, achieved, achieved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ProjectID, m.Name, joinDeps(m.RequiredEpics), m.Achieved,
		nullableTimeString(m.AchievedAt), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert milestone: %w", err)
	}
	return nil
}

// AchieveMilestone marks a milestone achieved.
func (db *DB) AchieveMilestone(id string, achievedAt string) error {
	_, err := db.Exec(`UPDATE milestones SET achieved = 1, achieved_at = ? WHERE id = ?`, achievedAt, id)
	if err != nil {
		return fmt.Errorf("achieve milestone: %w", err)
	}
	return nil
}

// GetMilestone loads a milestone by id.
func (db *DB) GetMilestone(id string) (*models.Milestone, error) {
	row := db.QueryRow(`
		SELECT id, project_id, name, required_epics, achieved, achieved_at, created_at
		FROM milestones WHERE id = ?
	`, id)
	var m models.Milestone
	var deps string
	var achievedAt sql.NullString
	var createdAt string
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Name, &deps, &m.Achieved, &achievedAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan milestone: %w", err)
	}
	m.RequiredEpics = strings.Split(deps, ",")
	m.AchievedAt = parseNullableTime(achievedAt)
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse milestone created_at: %w", err)
	}
	m.CreatedAt = t
	return &m, nil
}
