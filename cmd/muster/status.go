package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/perrindunn/muster/internal/state"
	"github.com/perrindunn/muster/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent session results",
	Long: `Display recent sessions from the state database.

Shows each session's task, outcome, cost, and per-group disposition.
The project database (.muster/state.db) is preferred; the global
database is used when no project database exists.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 5, "Number of sessions to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		dbPath = state.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No sessions recorded. Run 'muster run <plan.yaml>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	sessions, err := db.RecentSessions(statusLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	for _, s := range sessions {
		mark := color.RedString("✗")
		if s.OverallSuccess {
			mark = color.GreenString("✓")
		}
		fmt.Printf("%s %s  task=%s  cost=$%.2f  iterations=%d  %s\n",
			mark, s.SessionID, s.TaskName, s.TotalCost, s.TotalIterations,
			s.EndedAt.Sub(s.StartedAt).Round(time.Second))
		for _, entry := range s.Groups {
			switch entry.Status {
			case models.GroupStatusCompleted:
				fmt.Printf("    %s %s\n", color.GreenString("✓"), entry.GroupID)
			case models.GroupStatusFailed:
				fmt.Printf("    %s %s: %s\n", color.RedString("✗"), entry.GroupID, entry.Reason)
			default:
				fmt.Printf("    %s %s (%s)\n", color.YellowString("•"), entry.GroupID, entry.Status)
			}
		}
	}
	return nil
}
