package models

import "time"

// TodoStatus represents the lifecycle state of a todo item.
type TodoStatus string

const (
	// TodoStatusPending indicates the item has not started.
	TodoStatusPending TodoStatus = "pending"
	// TodoStatusInProgress indicates the owning agent is working on the item.
	TodoStatusInProgress TodoStatus = "in_progress"
	// TodoStatusCompleted indicates the item is done.
	TodoStatusCompleted TodoStatus = "completed"
	// TodoStatusCancelled indicates the item was abandoned intentionally.
	TodoStatusCancelled TodoStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoStatusPending, TodoStatusInProgress, TodoStatusCompleted, TodoStatusCancelled:
		return true
	default:
		return false
	}
}

// Resolved returns true if the item needs no further work.
func (s TodoStatus) Resolved() bool {
	return s == TodoStatusCompleted || s == TodoStatusCancelled
}

// Priority orders todo items within a group.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// TodoItem represents one actionable item inside exactly one task group.
// Items are append-only: they are status-transitioned, never deleted, so the
// full audit trail of a task run is preserved.
type TodoItem struct {
	// ID is the unique identifier for this item.
	ID string `json:"id"`
	// GroupID is the owning task group. It never changes after creation.
	GroupID string `json:"group_id"`
	// Title is the short description of the item.
	Title string `json:"title"`
	// Description provides detailed information about the item.
	Description string `json:"description,omitempty"`
	// Status is the current lifecycle state.
	Status TodoStatus `json:"status"`
	// Priority orders the item within its group.
	Priority Priority `json:"priority"`
	// Tags always include the task-scoped tag (task-<name>); remediation
	// items additionally carry audit-fix and audit-failure-<n>.
	Tags []string `json:"tags,omitempty"`
	// CreatedAt is when the item was created.
	CreatedAt time.Time `json:"created_at"`
}

// HasTag returns true if the item carries the given tag.
func (t *TodoItem) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}
