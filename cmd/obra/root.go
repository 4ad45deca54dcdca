package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flags, recognized by every subcommand via the root command's
// persistent flag set.
var (
	flagProfile string
	flagVerbose bool
	flagConfig  string
	flagSet     []string
)

var rootCmd = &cobra.Command{
	Use:   "obra",
	Short: "Local orchestrator for multi-iteration engineering tasks",
	Long: `Obra drives an external code-generation agent through a task's
engineering work one iteration at a time, validating each response with a
cheaper orchestrator model before deciding whether to proceed, ask for
clarification, retry, escalate, or pause for operator input.

Work is organized as projects containing epics, stories, and tasks. Run
"obra task execute <id>" to drive a single task's iteration loop, or
"obra epic execute <id>" to run every story under an epic in dependency
order.

Use "obra [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version()

	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "named configuration profile to layer over the base config")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "print debug-level progress to stderr")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "load configuration from this file only, bypassing profile/env layering")
	rootCmd.PersistentFlags().StringArrayVar(&flagSet, "set", nil, "override a configuration key, e.g. --set retry.max_retries=5 (repeatable)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(epicCmd)
	rootCmd.AddCommand(storyCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(milestoneCmd)
}

func verbosef(format string, args ...interface{}) {
	if flagVerbose {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}
