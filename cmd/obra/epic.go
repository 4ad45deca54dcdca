package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/obra-run/obra/internal/scheduler"
	"github.com/obra-run/obra/pkg/models"
)

var epicCmd = &cobra.Command{
	Use:   "epic",
	Short: "Manage epics",
}

var (
	epicProjectID   string
	epicDescription string
	epicPriority    int
)

var epicCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create an epic under a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicCreate,
}

var epicExecuteCmd = &cobra.Command{
	Use:   "execute <id>",
	Short: "Run every story under an epic in dependency order",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicExecute,
}

func init() {
	epicCreateCmd.Flags().StringVar(&epicProjectID, "project", "", "owning project id (required)")
	epicCreateCmd.Flags().StringVar(&epicDescription, "description", "", "epic description")
	epicCreateCmd.Flags().IntVar(&epicPriority, "priority", 5, "priority, 1 (lowest) to 10 (highest)")
	epicCreateCmd.MarkFlagRequired("project")

	epicCmd.AddCommand(epicCreateCmd)
	epicCmd.AddCommand(epicExecuteCmd)
}

func runEpicCreate(cmd *cobra.Command, args []string) error {
	title := args[0]
	if epicPriority < 1 || epicPriority > 10 {
		return fmt.Errorf("--priority must be between 1 and 10, got %d", epicPriority)
	}

	db, err := openProjectStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := requireProject(db, epicProjectID); err != nil {
		return err
	}

	sched, err := scheduler.New(db, epicProjectID)
	if err != nil {
		return fmt.Errorf("load scheduler: %w", err)
	}

	epic := &models.Task{
		ID:          uuid.New().String(),
		ProjectID:   epicProjectID,
		TaskType:    models.TaskTypeEpic,
		Status:      models.TaskStatusReady,
		Title:       title,
		Description: epicDescription,
		Priority:    epicPriority,
		CreatedAt:   time.Now(),
	}
	if err := sched.AddTask(epic); err != nil {
		return fmt.Errorf("create epic: %w", err)
	}

	fmt.Println(epic.ID)
	return nil
}

func runEpicExecute(cmd *cobra.Command, args []string) error {
	epicID := args[0]

	db, err := openProjectStore()
	if err != nil {
		return err
	}
	defer db.Close()

	epic, err := db.GetTask(epicID)
	if err != nil {
		return fmt.Errorf("load epic %s: %w", epicID, err)
	}
	if epic.TaskType != models.TaskTypeEpic {
		return fmt.Errorf("%s is a %s, not an epic", epicID, epic.TaskType)
	}

	sched, err := scheduler.New(db, epic.ProjectID)
	if err != nil {
		return fmt.Errorf("load scheduler: %w", err)
	}

	storyIDs, err := db.EpicChildren(epicID)
	if err != nil {
		return fmt.Errorf("load epic children: %w", err)
	}
	order, err := sched.TopoOrder()
	if err != nil {
		return fmt.Errorf("compute dependency order: %w", err)
	}
	inEpic := make(map[string]bool, len(storyIDs))
	for _, id := range storyIDs {
		inEpic[id] = true
	}

	ctrl, err := buildController(db, epic.ProjectID)
	if err != nil {
		return fmt.Errorf("wire iteration controller: %w", err)
	}

	exitCode := 0
	for _, storyID := range order {
		if !inEpic[storyID] {
			continue
		}
		verbosef("executing story %s", storyID)
		code, runErr := ctrl.runTask(epic.ProjectID, storyID, defaultMaxIterations, false, false)
		if runErr != nil {
			ctrl.shutdown()
			return fmt.Errorf("run story %s: %w", storyID, runErr)
		}
		if code != 0 {
			exitCode = code
		}
	}
	ctrl.shutdown()
	os.Exit(exitCode)
	return nil
}
