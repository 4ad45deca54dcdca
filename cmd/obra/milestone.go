package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/obra-run/obra/pkg/models"
)

var milestoneCmd = &cobra.Command{
	Use:   "milestone",
	Short: "Manage milestones",
}

var (
	milestoneProjectID string
	milestoneEpics     string
)

var milestoneCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Define a milestone achieved once every listed epic completes",
	Args:  cobra.ExactArgs(1),
	RunE:  runMilestoneCreate,
}

var milestoneCheckCmd = &cobra.Command{
	Use:   "check <id>",
	Short: "Report whether a milestone's required epics are all complete",
	Args:  cobra.ExactArgs(1),
	RunE:  runMilestoneCheck,
}

var milestoneAchieveCmd = &cobra.Command{
	Use:   "achieve <id>",
	Short: "Mark a milestone achieved if every required epic has completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runMilestoneAchieve,
}

func init() {
	milestoneCreateCmd.Flags().StringVar(&milestoneProjectID, "project", "", "owning project id (required)")
	milestoneCreateCmd.Flags().StringVar(&milestoneEpics, "epics", "", "comma-separated epic task ids required for this milestone (required)")
	milestoneCreateCmd.MarkFlagRequired("project")
	milestoneCreateCmd.MarkFlagRequired("epics")

	milestoneCmd.AddCommand(milestoneCreateCmd)
	milestoneCmd.AddCommand(milestoneCheckCmd)
	milestoneCmd.AddCommand(milestoneAchieveCmd)
}

func runMilestoneCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	epics := parseDependsOn(milestoneEpics)
	if len(epics) == 0 {
		return fmt.Errorf("--epics must list at least one epic id")
	}

	db, err := openProjectStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := requireProject(db, milestoneProjectID); err != nil {
		return err
	}
	for _, epicID := range epics {
		epic, err := db.GetTask(epicID)
		if err != nil {
			return fmt.Errorf("load epic %s: %w", epicID, err)
		}
		if epic.TaskType != models.TaskTypeEpic {
			return fmt.Errorf("%s is a %s, not an epic", epicID, epic.TaskType)
		}
	}

	m := &models.Milestone{
		ID:            uuid.New().String(),
		ProjectID:     milestoneProjectID,
		Name:          name,
		RequiredEpics: epics,
		CreatedAt:     time.Now(),
	}
	if err := db.CreateMilestone(m); err != nil {
		return fmt.Errorf("create milestone: %w", err)
	}

	fmt.Println(m.ID)
	return nil
}

func runMilestoneCheck(cmd *cobra.Command, args []string) error {
	id := args[0]

	db, err := openProjectStore()
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := db.GetMilestone(id)
	if err != nil {
		return fmt.Errorf("load milestone %s: %w", id, err)
	}

	status := map[string]models.TaskStatus{}
	for _, epicID := range m.RequiredEpics {
		epic, err := db.GetTask(epicID)
		if err != nil {
			return fmt.Errorf("load epic %s: %w", epicID, err)
		}
		status[epicID] = epic.Status
	}

	if m.Check(status) {
		fmt.Println("achievable: every required epic has completed")
	} else {
		fmt.Println("not yet: one or more required epics are incomplete")
		for _, epicID := range m.RequiredEpics {
			if status[epicID] != models.TaskStatusCompleted {
				fmt.Printf("  %s: %s\n", epicID, status[epicID])
			}
		}
	}
	return nil
}

func runMilestoneAchieve(cmd *cobra.Command, args []string) error {
	id := args[0]

	db, err := openProjectStore()
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := db.GetMilestone(id)
	if err != nil {
		return fmt.Errorf("load milestone %s: %w", id, err)
	}

	status := map[string]models.TaskStatus{}
	for _, epicID := range m.RequiredEpics {
		epic, err := db.GetTask(epicID)
		if err != nil {
			return fmt.Errorf("load epic %s: %w", epicID, err)
		}
		status[epicID] = epic.Status
	}

	if !m.Check(status) {
		return fmt.Errorf("milestone %s not achievable yet: one or more required epics are incomplete", id)
	}

	if err := db.AchieveMilestone(id, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("achieve milestone: %w", err)
	}

	fmt.Println("achieved")
	return nil
}
