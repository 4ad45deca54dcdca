package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/obra-run/obra/internal/store"
	"github.com/obra-run/obra/pkg/models"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectWorkingDir string

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project rooted at --working-dir",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectWorkingDir, "working-dir", "", "absolute path to the project's working directory (required)")
	projectCreateCmd.MarkFlagRequired("working-dir")
	projectCmd.AddCommand(projectCreateCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	absDir, err := filepath.Abs(projectWorkingDir)
	if err != nil {
		return fmt.Errorf("resolve --working-dir: %w", err)
	}

	db, err := store.OpenProject(absDir)
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate project store: %w", err)
	}

	proj := &models.Project{
		ID:         uuid.New().String(),
		Name:       name,
		WorkingDir: absDir,
		CreatedAt:  time.Now(),
	}
	if err := db.CreateProject(proj); err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	fmt.Println(proj.ID)
	return nil
}
