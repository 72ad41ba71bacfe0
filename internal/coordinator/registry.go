package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perrindunn/muster/pkg/models"
)

// AgentRegistry tracks the agents the coordinator has spawned. Agents are
// bound to exactly one group and are released when the group resolves.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]*models.Agent)}
}

// Spawn creates an agent for a group and records it.
func (r *AgentRegistry) Spawn(groupID string, role models.AgentRole, modelName string) *models.Agent {
	agent := &models.Agent{
		ID:              "agent-" + uuid.NewString()[:8],
		Role:            role,
		ModelName:       modelName,
		AssignedGroupID: groupID,
		StartedAt:       time.Now(),
	}
	r.mu.Lock()
	r.agents[agent.ID] = agent
	r.mu.Unlock()
	return agent
}

// Get returns the agent with the given id, or nil.
func (r *AgentRegistry) Get(agentID string) *models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agentID]
}

// Charge accumulates usage onto an agent.
func (r *AgentRegistry) Charge(agentID string, cost float64, iterations int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agent, ok := r.agents[agentID]; ok {
		agent.CostAccumulated += cost
		agent.IterationCount += iterations
	}
}

// Release removes an agent from the registry.
func (r *AgentRegistry) Release(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Active returns the IDs of all registered agents, sorted.
func (r *AgentRegistry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered agents.
func (r *AgentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
