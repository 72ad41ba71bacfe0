// Package todo provides the durable, queryable todo collection backing a
// task run. Items are grouped by task group and keyed by task name so runs
// for different tasks never compound.
package todo

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/perrindunn/muster/pkg/models"
)

// ErrNotFound indicates the requested todo item does not exist.
var ErrNotFound = errors.New("todo item not found")

// Filter selects a subset of items. Zero fields match everything.
type Filter struct {
	GroupID  string
	Status   models.TodoStatus
	Tag      string
	Priority models.Priority
}

// Matches reports whether an item satisfies the filter.
func (f Filter) Matches(item *models.TodoItem) bool {
	if f.GroupID != "" && item.GroupID != f.GroupID {
		return false
	}
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	if f.Priority != "" && item.Priority != f.Priority {
		return false
	}
	if f.Tag != "" && !item.HasTag(f.Tag) {
		return false
	}
	return true
}

// Store is the todo collection for one task run. Implementations must
// support concurrent reads across groups and serialize writes per group;
// items are never deleted, only status-transitioned.
type Store interface {
	// TaskName returns the task this store is keyed by.
	TaskName() string
	// Create adds a new item, assigning its id, task tag and creation time.
	Create(item *models.TodoItem) (*models.TodoItem, error)
	// Get returns the item with the given id.
	Get(id string) (*models.TodoItem, error)
	// Transition moves an item to a new status on behalf of an agent.
	// Only the agent owning the item's group may transition it.
	Transition(id string, status models.TodoStatus, agentID string) error
	// List returns every item matching the filter, oldest first.
	List(f Filter) []*models.TodoItem
	// GroupResolved reports whether every item in the group is completed
	// or cancelled. Groups with no items are not resolved.
	GroupResolved(groupID string) bool
	// ClaimGroup records the agent owning a group's items. Transitions by
	// any other agent are rejected while the claim holds.
	ClaimGroup(groupID, agentID string) error
	// ReleaseGroup clears a group's ownership claim.
	ReleaseGroup(groupID string)
}

// TaskTag returns the task-scoped tag every item of a run carries.
func TaskTag(taskName string) string {
	return "task-" + taskName
}

// NewID returns a fresh todo item id.
func NewID() string {
	return "todo-" + uuid.NewString()[:8]
}

// ValidateTransition rejects status moves that would corrupt the audit
// trail: resolved items never become unresolved again.
func ValidateTransition(from, to models.TodoStatus) error {
	if !to.Valid() {
		return fmt.Errorf("invalid todo status %q", to)
	}
	if from.Resolved() && !to.Resolved() {
		return fmt.Errorf("todo already %s, cannot move to %s", from, to)
	}
	return nil
}

// Stamp fills generated fields on a new item. Store implementations call
// it from Create.
func Stamp(item *models.TodoItem, taskName string) {
	if item.ID == "" {
		item.ID = NewID()
	}
	if item.Status == "" {
		item.Status = models.TodoStatusPending
	}
	if item.Priority == "" {
		item.Priority = models.PriorityMedium
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	tag := TaskTag(taskName)
	if !item.HasTag(tag) {
		item.Tags = append(item.Tags, tag)
	}
}
