package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:   "muster",
	Short: "Multi-agent task orchestrator",
	Long: `Muster executes a task plan with LLM agents: it resolves the plan's
dependency graph, schedules task groups sequentially or in parallel
phases, audits each finished group against its todo list, and stops
spending the moment the session budget runs out.

A plan is a YAML file of task groups, their dependencies, and the todo
items each group must resolve. Run one with:

  muster run plan.yaml`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if rootVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
