// Package models defines the shared domain types for muster.
package models

import "time"

// GroupStatus represents the current state of a task group.
type GroupStatus string

const (
	// GroupStatusPending indicates the group has not started.
	GroupStatusPending GroupStatus = "pending"
	// GroupStatusRunning indicates an agent is working on the group.
	GroupStatusRunning GroupStatus = "running"
	// GroupStatusCompleted indicates the group finished and passed audit.
	GroupStatusCompleted GroupStatus = "completed"
	// GroupStatusFailed indicates the group failed permanently.
	GroupStatusFailed GroupStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s GroupStatus) Valid() bool {
	switch s {
	case GroupStatusPending, GroupStatusRunning, GroupStatusCompleted, GroupStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is completed or failed.
func (s GroupStatus) Terminal() bool {
	return s == GroupStatusCompleted || s == GroupStatusFailed
}

// TaskGroup represents one coherent chunk of work in the dependency graph.
type TaskGroup struct {
	// ID is the unique identifier for this group.
	ID string `json:"id"`
	// Specialization tags the kind of agent the group needs (backend, frontend, testing).
	Specialization string `json:"specialization"`
	// Description explains what the group is responsible for.
	Description string `json:"description"`
	// DependsOn lists group IDs that must complete before this group starts.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the group.
	Status GroupStatus `json:"status"`
	// AssignedAgentID is the ID of the agent currently owning this group.
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	// FailureReason explains why the group failed, if it did.
	FailureReason string `json:"failure_reason,omitempty"`
	// CreatedAt is when the group was ingested.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the group reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GroupResult is what an agent runner returns after executing one group.
type GroupResult struct {
	// GroupID is the group this result belongs to.
	GroupID string `json:"group_id"`
	// Success indicates whether the runner finished the group's todos.
	Success bool `json:"success"`
	// Cost is the dollar cost accumulated while executing the group.
	Cost float64 `json:"cost"`
	// Iterations is the number of agent iterations consumed.
	Iterations int `json:"iterations"`
	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`
}
