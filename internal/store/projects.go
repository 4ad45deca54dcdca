package store

import (
	"database/sql"
	"fmt"

	"github.com/obra-run/obra/pkg/models"
)

// CreateProject inserts a new project.
func (db *DB) CreateProject(p *models.Project) error {
	_, err := db.Exec(`
		INSERT INTO projects (id, name, working_dir, config_snapshot, created_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.WorkingDir, p.ConfigSnapshot, formatTime(p.CreatedAt), p.Deleted)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject loads a project by id.
func (db *DB) GetProject(id string) (*models.Project, error) {
	row := db.QueryRow(`
		SELECT id, name, working_dir, config_snapshot, created_at, deleted
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*models.Project, error) {
	var p models.Project
	var snapshot sql.NullString
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.WorkingDir, &snapshot, &createdAt, &p.Deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	p.ConfigSnapshot = snapshot.String
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse project created_at: %w", err)
	}
	p.CreatedAt = t
	return &p, nil
}
