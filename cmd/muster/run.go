package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/perrindunn/muster/internal/audit"
	"github.com/perrindunn/muster/internal/budget"
	"github.com/perrindunn/muster/internal/bus"
	"github.com/perrindunn/muster/internal/config"
	"github.com/perrindunn/muster/internal/coordinator"
	"github.com/perrindunn/muster/internal/plan"
	"github.com/perrindunn/muster/internal/reasoner"
	"github.com/perrindunn/muster/internal/state"
	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/internal/worker"
	"github.com/perrindunn/muster/pkg/models"
)

var (
	runConfigPath string
	runMode       string
	runCostLimit  float64
	runIterLimit  int
	runEphemeral  bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Execute a task plan",
	Long: `Execute a task plan with LLM agents.

The plan's groups are scheduled in dependency order. In sequential mode
one group runs at a time; in parallel mode every runnable group runs as
one phase, and the next phase starts only when the whole phase finishes.

Each group is audited when all of its todos resolve. A failed audit
reopens the group with remediation todos; three consecutive failures
escalate the group to a human and fail it permanently.

Budget limits are checked before any new group or phase starts, never
mid-group, so a group that started under budget always runs to its own
conclusion.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a config file (overrides discovery)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Execution mode: sequential or parallel (overrides config)")
	runCmd.Flags().Float64Var(&runCostLimit, "cost-limit", -1, "Session cost limit in dollars (overrides config)")
	runCmd.Flags().IntVar(&runIterLimit, "iteration-limit", -1, "Session iteration limit (overrides config)")
	runCmd.Flags().BoolVar(&runEphemeral, "ephemeral", false, "Keep all state in memory, skip the state database")
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runMode != "" {
		cfg.Execution.Mode = runMode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if runCostLimit >= 0 {
		cfg.Budget.CostLimit = runCostLimit
	}
	if runIterLimit >= 0 {
		cfg.Budget.IterationLimit = runIterLimit
	}

	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}
	graph, err := p.BuildGraph()
	if err != nil {
		return err
	}

	var store todo.Store
	var db *state.DB
	if runEphemeral {
		store = todo.NewMemoryStore(p.Task)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		db, err = state.Open(state.ProjectDBPath(cwd))
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}
		store = state.NewSQLStore(db, p.Task)
	}
	if err := p.SeedStore(store); err != nil {
		return err
	}

	client, err := reasoner.NewClient(reasoner.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return err
	}

	engine := audit.NewEngine(audit.Config{
		EscalationThreshold: cfg.Audit.EscalationThreshold,
		MaxVerdictRetries:   uint64(cfg.Audit.MaxVerdictRetries),
	}, store, client)

	tracker := budget.NewTracker(cfg.Budget.CostLimit, cfg.Budget.IterationLimit)
	tracker.SetWarningThreshold(cfg.Budget.WarningThreshold)

	session := coordinator.NewSession(p.Task, graph, store, bus.New(), tracker, engine)

	var scheduler coordinator.Scheduler = coordinator.SequentialScheduler{}
	if cfg.Execution.Mode == "parallel" {
		scheduler = coordinator.ParallelScheduler{MaxAgents: cfg.Execution.MaxAgents}
	}
	coord := coordinator.New(coordinator.Config{
		Scheduler:    scheduler,
		GroupTimeout: cfg.Execution.GroupTimeout,
		ModelName:    cfg.Anthropic.Model,
	}, session, newAgentRunner(store, client))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		printEvents(coord.Events())
	}()

	summary, runErr := coord.Run(ctx)
	<-eventsDone

	if db != nil {
		fingerprint, err := p.Fingerprint()
		if err != nil {
			return err
		}
		if err := db.SaveSummary(summary, fingerprint); err != nil {
			return err
		}
		for _, group := range graph.Groups() {
			for _, record := range engine.Records(group.ID) {
				if err := db.SaveAuditRecord(summary.SessionID, record); err != nil {
					return err
				}
			}
		}
	}

	printSummary(summary)
	if runErr != nil {
		return runErr
	}
	if !summary.OverallSuccess {
		os.Exit(1)
	}
	return nil
}

// newAgentRunner builds the production runner: todos executed through the
// Anthropic client, cost charged from the client's usage tracker.
func newAgentRunner(store todo.Store, client *reasoner.Client) coordinator.Runner {
	return worker.New(store, client, client.Usage().Cost)
}

func loadConfig() (*config.Config, error) {
	if runConfigPath != "" {
		return config.LoadFromPath(runConfigPath)
	}
	return config.Load()
}

// printEvents renders coordinator events as they happen.
func printEvents(events <-chan coordinator.Event) {
	for ev := range events {
		switch ev.Type {
		case coordinator.EventGroupStarted:
			fmt.Printf("%s %s %s\n", color.CyanString("▶"), ev.GroupID, ev.Message)
		case coordinator.EventGroupCompleted:
			fmt.Printf("%s %s completed\n", color.GreenString("✓"), ev.GroupID)
		case coordinator.EventGroupFailed:
			fmt.Printf("%s %s failed: %s\n", color.RedString("✗"), ev.GroupID, ev.Message)
		case coordinator.EventAuditPassed:
			fmt.Printf("%s audit passed for %s: %s\n", color.GreenString("✓"), ev.GroupID, ev.Message)
		case coordinator.EventAuditFailed:
			fmt.Printf("%s audit failed for %s: %s\n", color.YellowString("⚠"), ev.GroupID, ev.Message)
		case coordinator.EventEscalation:
			fmt.Printf("%s %s escalated to human review: %s\n", color.RedString("‼"), ev.GroupID, ev.Message)
			if ev.Record != nil {
				for _, issue := range ev.Record.Issues {
					fmt.Printf("    - %s\n", issue)
				}
			}
		case coordinator.EventBudgetWarning:
			fmt.Printf("%s budget warning: $%.2f spent, %d iterations\n", color.YellowString("⚠"), ev.Cost, ev.Iterations)
		case coordinator.EventBudgetExhausted:
			fmt.Printf("%s budget exhausted: $%.2f spent, %d iterations\n", color.RedString("✗"), ev.Cost, ev.Iterations)
		}
	}
}

// printSummary renders the final session report.
func printSummary(summary models.SessionSummary) {
	fmt.Println()
	if summary.OverallSuccess {
		fmt.Printf("%s session %s succeeded\n", color.GreenString("✓"), summary.SessionID)
	} else {
		fmt.Printf("%s session %s failed\n", color.RedString("✗"), summary.SessionID)
	}
	fmt.Printf("  task:       %s\n", summary.TaskName)
	fmt.Printf("  cost:       $%.2f\n", summary.TotalCost)
	fmt.Printf("  iterations: %d\n", summary.TotalIterations)
	fmt.Printf("  duration:   %s\n", summary.EndedAt.Sub(summary.StartedAt).Round(time.Second))
	for _, entry := range summary.Groups {
		switch entry.Status {
		case models.GroupStatusCompleted:
			fmt.Printf("  %s %s\n", color.GreenString("✓"), entry.GroupID)
		case models.GroupStatusFailed:
			fmt.Printf("  %s %s: %s\n", color.RedString("✗"), entry.GroupID, entry.Reason)
		default:
			fmt.Printf("  %s %s (%s)\n", color.YellowString("•"), entry.GroupID, entry.Status)
		}
	}
}
