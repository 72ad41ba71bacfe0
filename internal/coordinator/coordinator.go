package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perrindunn/muster/internal/audit"
	"github.com/perrindunn/muster/internal/budget"
	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/pkg/models"
)

// Runner executes one group's todos through an agent. The coordinator owns
// scheduling, auditing and bookkeeping; the runner owns the actual work.
type Runner interface {
	// Execute works the given todos until done or the context ends. The
	// result carries the cost and iterations consumed, charged by the
	// coordinator after the call returns.
	Execute(ctx context.Context, group *models.TaskGroup, todos []*models.TodoItem, remaining budget.Remaining) (*models.GroupResult, error)
}

// Config tunes the coordinator.
type Config struct {
	// Scheduler picks the next batch. Defaults to SequentialScheduler.
	Scheduler Scheduler
	// GroupTimeout bounds one group's execution including audit rounds.
	// Zero means no timeout.
	GroupTimeout time.Duration
	// ModelName is recorded on spawned agents.
	ModelName string
	// EventBuffer sizes the event channel. Defaults to 256.
	EventBuffer int
}

// Coordinator drives a session to completion: it asks the scheduler for
// batches, runs each batch to its barrier, audits finished groups, and
// stops starting work the moment the budget is exhausted.
type Coordinator struct {
	cfg     Config
	session *Session
	runner  Runner
	log     *slog.Logger

	events        chan Event
	droppedEvents atomic.Uint64
	warned        atomic.Bool
}

// New creates a coordinator for the given session and runner.
func New(cfg Config, session *Session, runner Runner) *Coordinator {
	if cfg.Scheduler == nil {
		cfg.Scheduler = SequentialScheduler{}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &Coordinator{
		cfg:     cfg,
		session: session,
		runner:  runner,
		log:     slog.Default(),
		events:  make(chan Event, cfg.EventBuffer),
	}
}

// SetLogger replaces the coordinator logger.
func (c *Coordinator) SetLogger(l *slog.Logger) {
	if l != nil {
		c.log = l
	}
}

// Events returns the channel of coordinator events. Events are dropped,
// not blocked on, when the consumer falls behind.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// DroppedEventCount returns the number of events dropped so far.
func (c *Coordinator) DroppedEventCount() uint64 {
	return c.droppedEvents.Load()
}

// Run executes the session until every group resolves, the budget runs
// out, or the run wedges on failed dependencies. It always tears the
// session down and returns the summary.
func (c *Coordinator) Run(ctx context.Context) (models.SessionSummary, error) {
	var runErr error

	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if c.session.Graph.Resolved() {
			break
		}

		// Budget holds only at phase boundaries. A group that started
		// under budget always runs to its own conclusion.
		status := c.session.Budget.Check()
		if status == budget.StatusExhausted {
			cost, iters := c.session.Budget.Totals()
			c.emit(Event{
				Type:       EventBudgetExhausted,
				Message:    "budget exhausted, no new groups will start",
				Cost:       cost,
				Iterations: iters,
				Timestamp:  time.Now(),
			})
			c.log.Warn("budget exhausted", "cost", cost, "iterations", iters)
			break
		}
		if status == budget.StatusWarning && !c.warned.Swap(true) {
			cost, iters := c.session.Budget.Totals()
			c.emit(Event{
				Type:       EventBudgetWarning,
				Message:    "budget warning threshold crossed",
				Cost:       cost,
				Iterations: iters,
				Timestamp:  time.Now(),
			})
		}

		batch := c.cfg.Scheduler.NextBatch(c.session.Graph)
		if len(batch) == 0 {
			// Pending groups remain but none are runnable: their
			// dependencies failed. The run cannot make progress.
			c.log.Warn("no runnable groups remain", "pending", c.pendingIDs())
			break
		}

		eg, batchCtx := errgroup.WithContext(ctx)
		for _, group := range batch {
			group := group
			eg.Go(func() error {
				c.runGroup(batchCtx, group)
				return batchCtx.Err()
			})
		}
		if err := eg.Wait(); err != nil {
			runErr = err
			break
		}
	}

	summary := c.session.Teardown()
	c.emit(Event{
		Type:       EventSessionDone,
		Message:    fmt.Sprintf("session %s done, success=%v", summary.SessionID, summary.OverallSuccess),
		Cost:       summary.TotalCost,
		Iterations: summary.TotalIterations,
		Timestamp:  time.Now(),
	})
	close(c.events)
	return summary, runErr
}

// runGroup takes one group from start to terminal state: spawn an agent,
// execute the todos, then loop audits until pass, escalation, or fault.
func (c *Coordinator) runGroup(ctx context.Context, group *models.TaskGroup) {
	agent := c.session.Registry.Spawn(group.ID, models.RoleWorker, c.cfg.ModelName)
	c.session.Bus.Register(agent.ID)
	defer func() {
		c.session.Store.ReleaseGroup(group.ID)
		c.session.Bus.Deregister(agent.ID)
		c.session.Registry.Release(agent.ID)
	}()

	if err := c.session.Graph.MarkRunning(group.ID, agent.ID); err != nil {
		c.log.Error("cannot start group", "group_id", group.ID, "error", err)
		return
	}
	if err := c.session.Store.ClaimGroup(group.ID, agent.ID); err != nil {
		c.failGroup(group, agent.ID, fmt.Sprintf("claim group: %v", err))
		return
	}

	c.emit(Event{
		Type:      EventGroupStarted,
		GroupID:   group.ID,
		AgentID:   agent.ID,
		Message:   fmt.Sprintf("group started: %s", group.Description),
		Timestamp: time.Now(),
	})
	c.log.Info("group started", "group_id", group.ID, "agent_id", agent.ID, "specialization", group.Specialization)

	groupCtx := ctx
	if c.cfg.GroupTimeout > 0 {
		var cancel context.CancelFunc
		groupCtx, cancel = context.WithTimeout(ctx, c.cfg.GroupTimeout)
		defer cancel()
	}

	if !c.executePending(groupCtx, group, agent.ID) {
		return
	}

	// Audit rounds: a failed audit below the threshold reopens the group
	// with remediation todos, which the same agent then works. The loop
	// is bounded by the escalation threshold.
	for {
		outcome, err := c.session.Audit.Evaluate(groupCtx, group)
		if err != nil {
			var infra *audit.InfraError
			switch {
			case errors.As(err, &infra):
				c.failGroup(group, agent.ID, fmt.Sprintf("audit infrastructure fault after %d attempts", infra.Attempts))
			case errors.Is(err, audit.ErrNotDue):
				c.failGroup(group, agent.ID, "agent reported success with unresolved todos")
			case groupCtx.Err() != nil:
				c.failGroup(group, agent.ID, contextFailure(groupCtx, err))
			default:
				c.failGroup(group, agent.ID, fmt.Sprintf("audit: %v", err))
			}
			return
		}

		record := outcome.Record
		switch outcome.Kind {
		case audit.OutcomePassed:
			c.session.Graph.MarkCompleted(group.ID)
			c.emit(Event{
				Type:      EventAuditPassed,
				GroupID:   group.ID,
				AgentID:   agent.ID,
				Message:   record.Reason,
				Record:    &record,
				Timestamp: time.Now(),
			})
			c.emit(Event{
				Type:      EventGroupCompleted,
				GroupID:   group.ID,
				AgentID:   agent.ID,
				Timestamp: time.Now(),
			})
			c.log.Info("group completed", "group_id", group.ID, "agent_id", agent.ID)
			return

		case audit.OutcomeEscalated:
			// The agent is bound to the group for its whole lifetime,
			// remediation rounds included, so its usage is the group's.
			usage := c.session.Budget.Usage(agent.ID)
			c.emit(Event{
				Type:       EventEscalation,
				GroupID:    group.ID,
				AgentID:    agent.ID,
				Message:    record.Reason,
				Record:     &record,
				Cost:       usage.Cost,
				Iterations: usage.Iterations,
				Timestamp:  time.Now(),
			})
			c.failGroup(group, agent.ID, fmt.Sprintf("escalated after %d consecutive audit failures: %s", record.FailureStreak, record.Reason))
			return

		case audit.OutcomeReopened:
			if err := c.session.Graph.Reopen(group.ID); err != nil {
				c.failGroup(group, agent.ID, fmt.Sprintf("reopen group: %v", err))
				return
			}
			c.emit(Event{
				Type:      EventAuditFailed,
				GroupID:   group.ID,
				AgentID:   agent.ID,
				Message:   record.Reason,
				Record:    &record,
				Timestamp: time.Now(),
			})
			c.log.Info("audit failed, group reopened",
				"group_id", group.ID, "streak", record.FailureStreak, "remediation", len(outcome.Remediation))
			if !c.executePending(groupCtx, group, agent.ID) {
				return
			}
		}
	}
}

// executePending runs the group's unresolved todos through the runner and
// charges the result. Returns false if the group reached a terminal
// failure and the caller should stop.
func (c *Coordinator) executePending(ctx context.Context, group *models.TaskGroup, agentID string) bool {
	pending := c.pendingTodos(group.ID)
	result, err := c.runner.Execute(ctx, group, pending, c.session.Budget.Remaining())
	if result != nil {
		c.session.Budget.Charge(agentID, result.Cost, result.Iterations)
		c.session.Registry.Charge(agentID, result.Cost, result.Iterations)
	}
	if err != nil {
		if reason := contextFailure(ctx, err); reason != "" {
			c.failGroup(group, agentID, reason)
		} else {
			c.failGroup(group, agentID, fmt.Sprintf("runner: %v", err))
		}
		return false
	}
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "runner reported failure"
		}
		c.failGroup(group, agentID, reason)
		return false
	}
	return true
}

// pendingTodos lists the group's unresolved items, oldest first.
func (c *Coordinator) pendingTodos(groupID string) []*models.TodoItem {
	items := c.session.Store.List(todo.Filter{GroupID: groupID})
	var pending []*models.TodoItem
	for _, item := range items {
		if !item.Status.Resolved() {
			pending = append(pending, item)
		}
	}
	return pending
}

// contextFailure names the failure reason when the group's context ended,
// distinguishing the per-group timeout from a session-wide cancellation.
// Returns "" when neither the error nor the context is context-related.
func contextFailure(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "group timed out"
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return "run canceled"
	default:
		return ""
	}
}

// failGroup marks the group failed and emits the failure event.
func (c *Coordinator) failGroup(group *models.TaskGroup, agentID, reason string) {
	c.session.Graph.MarkFailed(group.ID, reason)
	c.emit(Event{
		Type:      EventGroupFailed,
		GroupID:   group.ID,
		AgentID:   agentID,
		Message:   reason,
		Timestamp: time.Now(),
	})
	c.log.Warn("group failed", "group_id", group.ID, "reason", reason)
}

// pendingIDs lists groups still pending, for wedge diagnostics.
func (c *Coordinator) pendingIDs() []string {
	var ids []string
	for _, group := range c.session.Graph.Groups() {
		if group.Status == models.GroupStatusPending {
			ids = append(ids, group.ID)
		}
	}
	return ids
}

// emit delivers an event without blocking. A slow consumer loses events
// rather than stalling the run.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.droppedEvents.Add(1)
	}
}
