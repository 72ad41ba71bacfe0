package todo

import (
	"fmt"
	"sort"
	"sync"

	"github.com/perrindunn/muster/pkg/models"
)

// MemoryStore is the in-process Store implementation. Reads take a shared
// lock; writes serialize per group through ownership claims rather than a
// global mutex, so concurrent agents in one phase do not contend.
type MemoryStore struct {
	taskName string

	mu    sync.RWMutex
	items map[string]*models.TodoItem
	// byGroup indexes item ids per group in insertion order.
	byGroup map[string][]string
	// owners maps group id to the agent holding its write claim.
	owners map[string]string
}

// NewMemoryStore creates an empty store for the given task name.
func NewMemoryStore(taskName string) *MemoryStore {
	return &MemoryStore{
		taskName: taskName,
		items:    make(map[string]*models.TodoItem),
		byGroup:  make(map[string][]string),
		owners:   make(map[string]string),
	}
}

// TaskName returns the task this store is keyed by.
func (s *MemoryStore) TaskName() string { return s.taskName }

// Create adds a new item to its group, stamping generated fields.
func (s *MemoryStore) Create(item *models.TodoItem) (*models.TodoItem, error) {
	if item.GroupID == "" {
		return nil, fmt.Errorf("todo item requires a group id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	Stamp(item, s.taskName)
	if _, exists := s.items[item.ID]; exists {
		return nil, fmt.Errorf("duplicate todo id %s", item.ID)
	}

	cp := *item
	s.items[cp.ID] = &cp
	s.byGroup[cp.GroupID] = append(s.byGroup[cp.GroupID], cp.ID)
	return cloneItem(&cp), nil
}

// Get returns a copy of the item with the given id.
func (s *MemoryStore) Get(id string) (*models.TodoItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneItem(item), nil
}

// Transition moves an item to a new status. The caller must hold the
// group's claim; resolved items never become unresolved again.
func (s *MemoryStore) Transition(id string, status models.TodoStatus, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if owner, claimed := s.owners[item.GroupID]; claimed && owner != agentID {
		return fmt.Errorf("group %s is owned by agent %s, not %s", item.GroupID, owner, agentID)
	}

	if err := ValidateTransition(item.Status, status); err != nil {
		return err
	}

	item.Status = status
	return nil
}

// List returns every item matching the filter, oldest first.
func (s *MemoryStore) List(f Filter) []*models.TodoItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.TodoItem
	for _, item := range s.items {
		if f.Matches(item) {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GroupResolved reports whether every item in the group is completed or
// cancelled. A group with no items is never resolved: there is nothing to
// audit yet.
func (s *MemoryStore) GroupResolved(groupID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byGroup[groupID]
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if !s.items[id].Status.Resolved() {
			return false
		}
	}
	return true
}

// ClaimGroup records the agent owning a group's items.
func (s *MemoryStore) ClaimGroup(groupID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, claimed := s.owners[groupID]; claimed && owner != agentID {
		return fmt.Errorf("group %s already claimed by agent %s", groupID, owner)
	}
	s.owners[groupID] = agentID
	return nil
}

// ReleaseGroup clears a group's ownership claim.
func (s *MemoryStore) ReleaseGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, groupID)
}

func cloneItem(item *models.TodoItem) *models.TodoItem {
	cp := *item
	if item.Tags != nil {
		cp.Tags = append([]string(nil), item.Tags...)
	}
	return &cp
}
