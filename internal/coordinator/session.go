package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/perrindunn/muster/internal/audit"
	"github.com/perrindunn/muster/internal/budget"
	"github.com/perrindunn/muster/internal/bus"
	"github.com/perrindunn/muster/internal/graph"
	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/pkg/models"
)

// Session binds the shared state of one run: the graph, the todo store,
// the message bus, the budget tracker and the audit engine. It is created
// before the coordinator starts and torn down exactly once at the end.
type Session struct {
	ID        string
	TaskName  string
	Graph     *graph.DependencyGraph
	Store     todo.Store
	Bus       *bus.MessageBus
	Budget    *budget.Tracker
	Audit     *audit.Engine
	Registry  *AgentRegistry
	StartedAt time.Time
}

// NewSession assembles a session around pre-built components.
func NewSession(taskName string, g *graph.DependencyGraph, store todo.Store, b *bus.MessageBus, tracker *budget.Tracker, engine *audit.Engine) *Session {
	return &Session{
		ID:        "session-" + uuid.NewString()[:8],
		TaskName:  taskName,
		Graph:     g,
		Store:     store,
		Bus:       b,
		Budget:    tracker,
		Audit:     engine,
		Registry:  NewAgentRegistry(),
		StartedAt: time.Now(),
	}
}

// Teardown closes the bus, releases any remaining agents, and produces
// the final summary. The bus history stays readable after close.
func (s *Session) Teardown() models.SessionSummary {
	for _, agentID := range s.Registry.Active() {
		s.Bus.Deregister(agentID)
		s.Registry.Release(agentID)
	}
	s.Bus.Close()

	cost, iterations := s.Budget.Totals()
	summary := models.SessionSummary{
		SessionID:       s.ID,
		TaskName:        s.TaskName,
		TotalCost:       cost,
		TotalIterations: iterations,
		StartedAt:       s.StartedAt,
		EndedAt:         time.Now(),
	}

	overall := true
	for _, group := range s.Graph.Groups() {
		entry := models.GroupStatusEntry{
			GroupID: group.ID,
			Status:  group.Status,
			Reason:  group.FailureReason,
		}
		if group.Status != models.GroupStatusCompleted {
			overall = false
		}
		summary.Groups = append(summary.Groups, entry)
	}
	summary.OverallSuccess = overall
	return summary
}
