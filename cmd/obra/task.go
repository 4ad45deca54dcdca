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

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var (
	taskProjectID string
	taskStoryID   string
	taskDependsOn string

	taskMaxIterations int
	taskStream        bool
	taskInteractive   bool
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task, optionally under a story",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCreate,
}

var taskExecuteCmd = &cobra.Command{
	Use:   "execute <id>",
	Short: "Run the Iteration Controller against a single task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskExecute,
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskProjectID, "project", "", "owning project id (required)")
	taskCreateCmd.Flags().StringVar(&taskStoryID, "story", "", "owning story id, if this task belongs to one")
	taskCreateCmd.Flags().StringVar(&taskDependsOn, "depends-on", "", "comma-separated task ids this task depends on")
	taskCreateCmd.MarkFlagRequired("project")

	taskExecuteCmd.Flags().IntVar(&taskMaxIterations, "max-iterations", defaultMaxIterations, "maximum iterations before the task is marked failed")
	taskExecuteCmd.Flags().BoolVar(&taskStream, "stream", false, "stream iteration progress to stdout")
	taskExecuteCmd.Flags().BoolVar(&taskInteractive, "interactive", false, "run the single-task TUI instead of headless output")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskExecuteCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	title := args[0]
	dependsOn := parseDependsOn(taskDependsOn)

	db, err := openProjectStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := requireProject(db, taskProjectID); err != nil {
		return err
	}

	if taskStoryID != "" {
		story, err := db.GetTask(taskStoryID)
		if err != nil {
			return fmt.Errorf("load story %s: %w", taskStoryID, err)
		}
		if story.TaskType != models.TaskTypeStory {
			return fmt.Errorf("%s is a %s, not a story", taskStoryID, story.TaskType)
		}
	}

	sched, err := scheduler.New(db, taskProjectID)
	if err != nil {
		return fmt.Errorf("load scheduler: %w", err)
	}

	task := &models.Task{
		ID:        uuid.New().String(),
		ProjectID: taskProjectID,
		TaskType:  models.TaskTypeTask,
		Status:    initialStatus(dependsOn),
		Title:     title,
		StoryID:   taskStoryID,
		DependsOn: dependsOn,
		CreatedAt: time.Now(),
	}
	if err := sched.AddTask(task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	fmt.Println(task.ID)
	return nil
}

func runTaskExecute(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	db, err := openProjectStore()
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	if task.Status == models.TaskStatusPending {
		os.Exit(exitBlockedDep)
	}

	handle, err := buildController(db, task.ProjectID)
	if err != nil {
		return fmt.Errorf("wire iteration controller: %w", err)
	}

	code, err := handle.runTask(task.ProjectID, taskID, taskMaxIterations, taskStream, taskInteractive)
	handle.shutdown()
	if err != nil {
		return err
	}
	os.Exit(code)
	return nil
}
