package models

import "time"

// AgentRole distinguishes worker agents from supervisors. Role-specific
// behavior is a capability of the coordinator, not a subtype of Agent.
type AgentRole string

const (
	// RoleWorker executes a group's todos.
	RoleWorker AgentRole = "worker"
	// RoleSupervisor plans, consults, or coordinates other agents.
	RoleSupervisor AgentRole = "supervisor"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	return r == RoleWorker || r == RoleSupervisor
}

// Agent represents a runtime actor bound to one task group at a time.
// Agents are owned exclusively by the execution coordinator and are
// destroyed when their group resolves.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Role is worker or supervisor.
	Role AgentRole `json:"role"`
	// ModelName is the LLM model backing this agent.
	ModelName string `json:"model_name"`
	// AssignedGroupID is the group this agent currently owns.
	AssignedGroupID string `json:"assigned_group_id,omitempty"`
	// CostAccumulated is the dollar cost this agent has consumed.
	CostAccumulated float64 `json:"cost_accumulated"`
	// IterationCount is the number of iterations this agent has run.
	IterationCount int `json:"iteration_count"`
	// StartedAt is when the agent was spawned.
	StartedAt time.Time `json:"started_at"`
}
