// Package worker executes a task group's todos through an LLM agent. It
// is the default coordinator.Runner used by the CLI.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/perrindunn/muster/internal/budget"
	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/pkg/models"
)

// Completer is the model call the runner needs: one prompt in, text out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CostFunc reports the cumulative dollar cost of the completer so far.
// The runner charges the delta across each group.
type CostFunc func() float64

// Runner works through a group's todos one at a time, transitioning each
// item as it goes. One completer call per todo is one iteration.
type Runner struct {
	store     todo.Store
	completer Completer
	costOf    CostFunc
	log       *slog.Logger
}

// New creates a runner over the given store and completer.
func New(store todo.Store, completer Completer, costOf CostFunc) *Runner {
	return &Runner{
		store:     store,
		completer: completer,
		costOf:    costOf,
		log:       slog.Default(),
	}
}

// SetLogger replaces the runner logger.
func (r *Runner) SetLogger(l *slog.Logger) {
	if l != nil {
		r.log = l
	}
}

// Execute works each todo in order. It stops early when the context ends
// or the iteration budget runs dry; the group then reports failure and
// unresolved items stay pending.
func (r *Runner) Execute(ctx context.Context, group *models.TaskGroup, todos []*models.TodoItem, remaining budget.Remaining) (*models.GroupResult, error) {
	result := &models.GroupResult{GroupID: group.ID}
	startCost := r.costOf()

	for _, item := range todos {
		if err := ctx.Err(); err != nil {
			result.Cost = r.costOf() - startCost
			return result, err
		}
		if remaining.Iterations >= 0 && result.Iterations >= remaining.Iterations {
			result.Cost = r.costOf() - startCost
			result.Error = "iteration budget exhausted mid-group"
			return result, nil
		}

		if err := r.store.Transition(item.ID, models.TodoStatusInProgress, group.AssignedAgentID); err != nil {
			result.Cost = r.costOf() - startCost
			return result, fmt.Errorf("start todo %s: %w", item.ID, err)
		}

		r.log.Debug("working todo", "group_id", group.ID, "todo_id", item.ID, "title", item.Title)
		_, err := r.completer.Complete(ctx, workPrompt(group, item))
		result.Iterations++
		if err != nil {
			result.Cost = r.costOf() - startCost
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Error = fmt.Sprintf("todo %s: %v", item.ID, err)
			return result, nil
		}

		if err := r.store.Transition(item.ID, models.TodoStatusCompleted, group.AssignedAgentID); err != nil {
			result.Cost = r.costOf() - startCost
			return result, fmt.Errorf("complete todo %s: %w", item.ID, err)
		}
	}

	result.Cost = r.costOf() - startCost
	result.Success = true
	return result, nil
}

// workPrompt renders the instruction for one todo.
func workPrompt(group *models.TaskGroup, item *models.TodoItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s agent working on the task group %q.\n", group.Specialization, group.ID)
	fmt.Fprintf(&b, "Group responsibility: %s\n\n", group.Description)
	fmt.Fprintf(&b, "Complete this work item:\n")
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	if item.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", item.Description)
	}
	b.WriteString("\nDescribe the work performed and its outcome.")
	return b.String()
}
