package coordinator

import (
	"github.com/perrindunn/muster/internal/graph"
	"github.com/perrindunn/muster/pkg/models"
)

// Scheduler selects the next batch of groups to execute. Sequential and
// parallel execution differ only in batch size, so mode is a strategy,
// not a flag threaded through the run loop.
type Scheduler interface {
	// NextBatch returns the groups to start now. An empty batch with
	// pending groups remaining means the run is wedged on failures.
	NextBatch(g *graph.DependencyGraph) []*models.TaskGroup
}

// SequentialScheduler runs one group at a time, in deterministic order.
type SequentialScheduler struct{}

// NextBatch returns at most one runnable group.
func (SequentialScheduler) NextBatch(g *graph.DependencyGraph) []*models.TaskGroup {
	runnable := g.Runnable()
	if len(runnable) == 0 {
		return nil
	}
	return runnable[:1]
}

// ParallelScheduler runs every runnable group as one phase. The phase is
// a barrier: the coordinator waits for the whole batch before asking for
// the next one.
type ParallelScheduler struct {
	// MaxAgents caps the batch size. Zero means unbounded.
	MaxAgents int
}

// NextBatch returns all runnable groups, truncated to MaxAgents.
func (s ParallelScheduler) NextBatch(g *graph.DependencyGraph) []*models.TaskGroup {
	runnable := g.Runnable()
	if s.MaxAgents > 0 && len(runnable) > s.MaxAgents {
		runnable = runnable[:s.MaxAgents]
	}
	return runnable
}
