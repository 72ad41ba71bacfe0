// Package graph provides the task-group dependency graph for scheduling.
package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"

	"github.com/perrindunn/muster/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// GraphError is a fatal ingestion error: cycles or unknown dependency ids.
// It always aborts the session before any agent is spawned.
type GraphError struct {
	GroupID string
	Err     error
}

func (e *GraphError) Error() string {
	if e.GroupID != "" {
		return fmt.Sprintf("graph error in group %s: %v", e.GroupID, e.Err)
	}
	return fmt.Sprintf("graph error: %v", e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

// DependencyGraph holds TaskGroup nodes and their dependency edges.
// Edges represent "blocked by" relationships. The graph is mutated only by
// the execution coordinator; agents never touch it directly.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps group ID to the group itself.
	nodes map[string]*models.TaskGroup
	// edges maps group ID to IDs of groups it depends on.
	edges map[string][]string
	log   *slog.Logger
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*models.TaskGroup),
		edges: make(map[string][]string),
		log:   slog.Default(),
	}
}

// SetLogger replaces the graph's logger.
func (g *DependencyGraph) SetLogger(l *slog.Logger) {
	if l != nil {
		g.log = l
	}
}

// AddGroup registers a single group without validating its edges.
// Build must be called before the graph is used for scheduling.
func (g *DependencyGraph) AddGroup(group *models.TaskGroup) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[group.ID]; exists {
		return &GraphError{GroupID: group.ID, Err: errors.New("duplicate group id")}
	}
	if group.Status == "" {
		group.Status = models.GroupStatusPending
	}
	g.nodes[group.ID] = group
	g.edges[group.ID] = append([]string(nil), group.DependsOn...)
	return nil
}

// Build constructs and validates the graph from a slice of groups.
// It fails fast with a GraphError on duplicate ids, unknown dependencies,
// or cycles, so a broken plan never spawns an agent.
func (g *DependencyGraph) Build(groups []*models.TaskGroup) error {
	for _, group := range groups {
		if err := g.AddGroup(group); err != nil {
			return err
		}
	}
	return g.Validate()
}

// Validate checks every edge target exists and runs a topological sort to
// reject cycles.
func (g *DependencyGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, deps := range g.edges {
		for _, depID := range deps {
			if _, exists := g.nodes[depID]; !exists {
				return &GraphError{GroupID: id, Err: fmt.Errorf("depends on unknown group %s", depID)}
			}
		}
	}

	var edges []toposort.Edge
	for id, deps := range g.edges {
		if len(deps) == 0 {
			// Root groups get a nil source so they survive the sort.
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return &GraphError{Err: fmt.Errorf("%w: %v", ErrCycleDetected, err)}
	}
	return nil
}

// Runnable returns every pending group whose dependencies are all completed,
// sorted by group id so scheduling order is deterministic for a fixed input.
func (g *DependencyGraph) Runnable() []*models.TaskGroup {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var runnable []*models.TaskGroup
	for id, group := range g.nodes {
		if group.Status != models.GroupStatusPending {
			continue
		}

		blocked := false
		for _, depID := range g.edges[id] {
			if g.nodes[depID].Status != models.GroupStatusCompleted {
				blocked = true
				break
			}
		}
		if !blocked {
			runnable = append(runnable, group)
		}
	}

	sort.Slice(runnable, func(i, j int) bool {
		return runnable[i].ID < runnable[j].ID
	})
	return runnable
}

// MarkRunning transitions a pending group to running and records the owning
// agent. It enforces the invariant that a group runs only when every
// dependency is completed.
func (g *DependencyGraph) MarkRunning(groupID, agentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, exists := g.nodes[groupID]
	if !exists {
		return fmt.Errorf("group %s not found", groupID)
	}
	if group.Status != models.GroupStatusPending {
		return fmt.Errorf("group %s is %s, not pending", groupID, group.Status)
	}
	for _, depID := range g.edges[groupID] {
		if g.nodes[depID].Status != models.GroupStatusCompleted {
			return fmt.Errorf("group %s has incomplete dependency %s", groupID, depID)
		}
	}

	group.Status = models.GroupStatusRunning
	group.AssignedAgentID = agentID
	return nil
}

// MarkCompleted transitions a group to completed. Marking an already
// terminal group is a no-op: audits may race with completion signals, so
// this logs a warning rather than erroring.
func (g *DependencyGraph) MarkCompleted(groupID string) {
	g.markTerminal(groupID, models.GroupStatusCompleted, "")
}

// MarkFailed transitions a group to failed with a reason. Idempotent the
// same way MarkCompleted is.
func (g *DependencyGraph) MarkFailed(groupID, reason string) {
	g.markTerminal(groupID, models.GroupStatusFailed, reason)
}

func (g *DependencyGraph) markTerminal(groupID string, status models.GroupStatus, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, exists := g.nodes[groupID]
	if !exists {
		g.log.Warn("mark on unknown group", "group_id", groupID, "status", status)
		return
	}
	if group.Status.Terminal() {
		g.log.Warn("mark on already-terminal group ignored",
			"group_id", groupID, "current", group.Status, "requested", status)
		return
	}

	group.Status = status
	group.FailureReason = reason
	now := time.Now()
	group.CompletedAt = &now
}

// Reopen returns a completed or running group to running so its owning agent
// can address audit remediation todos. Failed groups stay failed.
func (g *DependencyGraph) Reopen(groupID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, exists := g.nodes[groupID]
	if !exists {
		return fmt.Errorf("group %s not found", groupID)
	}
	if group.Status == models.GroupStatusFailed {
		return fmt.Errorf("group %s failed permanently and cannot be reopened", groupID)
	}

	group.Status = models.GroupStatusRunning
	group.CompletedAt = nil
	return nil
}

// Group returns the group for a given ID, or nil if not found.
func (g *DependencyGraph) Group(groupID string) *models.TaskGroup {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[groupID]
}

// Groups returns all groups sorted by id.
func (g *DependencyGraph) Groups() []*models.TaskGroup {
	g.mu.RLock()
	defer g.mu.RUnlock()

	groups := make([]*models.TaskGroup, 0, len(g.nodes))
	for _, group := range g.nodes {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// Size returns the number of groups in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependents returns the IDs of groups that depend on the given group.
func (g *DependencyGraph) Dependents(groupID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == groupID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// Running returns the number of groups currently running.
func (g *DependencyGraph) Running() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, group := range g.nodes {
		if group.Status == models.GroupStatusRunning {
			count++
		}
	}
	return count
}

// Resolved returns true when no group is pending or running: the session is
// finished, successfully or not.
func (g *DependencyGraph) Resolved() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, group := range g.nodes {
		if !group.Status.Terminal() {
			return false
		}
	}
	return true
}
