package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/pkg/models"
)

// openProjectStore opens the project-local database rooted at the current
// working directory, mirroring the one-project-per-directory convention
// obra project create establishes.
func openProjectStore() (*store.DB, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	db, err := store.OpenProject(cwd)
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate project store: %w", err)
	}
	return db, nil
}

// requireProject loads a project by id, failing with a clear error if the
// given id does not belong to the store rooted at the current directory.
func requireProject(db *store.DB, projectID string) (*models.Project, error) {
	proj, err := db.GetProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("project %s not found in this directory's store: %w", projectID, err)
	}
	return proj, nil
}

// parseDependsOn splits a repeatable comma-separated --depends-on flag
// value into individual task ids, dropping empty entries.
func parseDependsOn(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// initialStatus derives a freshly created task's starting status from its
// dependency list: a task with no dependencies is immediately READY.
func initialStatus(dependsOn []string) models.TaskStatus {
	if len(dependsOn) == 0 {
		return models.TaskStatusReady
	}
	return models.TaskStatusPending
}
