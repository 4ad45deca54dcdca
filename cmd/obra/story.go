package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/obra-run/obra/internal/scheduler"
	"github.com/obra-run/obra/pkg/models"
)

var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "Manage stories",
}

var (
	storyEpicID    string
	storyProjectID string
	storyDependsOn string
)

var storyCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a story under an epic",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoryCreate,
}

func init() {
	storyCreateCmd.Flags().StringVar(&storyEpicID, "epic", "", "owning epic id (required)")
	storyCreateCmd.Flags().StringVar(&storyProjectID, "project", "", "owning project id (required)")
	storyCreateCmd.Flags().StringVar(&storyDependsOn, "depends-on", "", "comma-separated task ids this story depends on")
	storyCreateCmd.MarkFlagRequired("epic")
	storyCreateCmd.MarkFlagRequired("project")

	storyCmd.AddCommand(storyCreateCmd)
}

func runStoryCreate(cmd *cobra.Command, args []string) error {
	title := args[0]
	dependsOn := parseDependsOn(storyDependsOn)

	db, err := openProjectStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := requireProject(db, storyProjectID); err != nil {
		return err
	}

	epic, err := db.GetTask(storyEpicID)
	if err != nil {
		return fmt.Errorf("load epic %s: %w", storyEpicID, err)
	}
	if epic.TaskType != models.TaskTypeEpic {
		return fmt.Errorf("%s is a %s, not an epic", storyEpicID, epic.TaskType)
	}

	sched, err := scheduler.New(db, storyProjectID)
	if err != nil {
		return fmt.Errorf("load scheduler: %w", err)
	}

	story := &models.Task{
		ID:        uuid.New().String(),
		ProjectID: storyProjectID,
		TaskType:  models.TaskTypeStory,
		Status:    initialStatus(dependsOn),
		Title:     title,
		EpicID:    storyEpicID,
		DependsOn: dependsOn,
		CreatedAt: time.Now(),
	}
	if err := sched.AddTask(story); err != nil {
		return fmt.Errorf("create story: %w", err)
	}

	fmt.Println(story.ID)
	return nil
}
