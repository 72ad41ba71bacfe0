package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/pkg/models"
)

// SQLStore is the durable todo.Store implementation. Items survive process
// restarts; ownership claims are runtime state and live in memory.
type SQLStore struct {
	db       *DB
	taskName string

	mu     sync.Mutex
	owners map[string]string
}

var _ todo.Store = (*SQLStore)(nil)

// NewSQLStore creates a store for the given task over an opened, migrated
// database.
func NewSQLStore(db *DB, taskName string) *SQLStore {
	return &SQLStore{
		db:       db,
		taskName: taskName,
		owners:   make(map[string]string),
	}
}

// TaskName returns the task this store is keyed by.
func (s *SQLStore) TaskName() string { return s.taskName }

// Create adds a new item to its group, stamping generated fields.
func (s *SQLStore) Create(item *models.TodoItem) (*models.TodoItem, error) {
	if item.GroupID == "" {
		return nil, fmt.Errorf("todo item requires a group id")
	}

	cp := *item
	todo.Stamp(&cp, s.taskName)

	tags, err := json.Marshal(cp.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO todos (id, task_name, group_id, title, description, status, priority, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cp.ID, s.taskName, cp.GroupID, cp.Title, cp.Description, string(cp.Status), string(cp.Priority), string(tags), formatTime(cp.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert todo: %w", err)
	}
	out := cp
	return &out, nil
}

// Get returns the item with the given id.
func (s *SQLStore) Get(id string) (*models.TodoItem, error) {
	row := s.db.QueryRow(`
		SELECT id, group_id, title, description, status, priority, tags, created_at
		FROM todos WHERE id = ? AND task_name = ?
	`, id, s.taskName)

	item, err := scanTodo(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", todo.ErrNotFound, id)
	}
	return item, err
}

// Transition moves an item to a new status. The caller must hold the
// group's claim; resolved items never become unresolved again.
func (s *SQLStore) Transition(id string, status models.TodoStatus, agentID string) error {
	item, err := s.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	owner, claimed := s.owners[item.GroupID]
	s.mu.Unlock()
	if claimed && owner != agentID {
		return fmt.Errorf("group %s is owned by agent %s, not %s", item.GroupID, owner, agentID)
	}

	if err := todo.ValidateTransition(item.Status, status); err != nil {
		return err
	}

	_, err = s.db.Exec(`UPDATE todos SET status = ? WHERE id = ? AND task_name = ?`,
		string(status), id, s.taskName)
	if err != nil {
		return fmt.Errorf("update todo status: %w", err)
	}
	return nil
}

// List returns every item matching the filter, oldest first.
func (s *SQLStore) List(f todo.Filter) []*models.TodoItem {
	rows, err := s.db.Query(`
		SELECT id, group_id, title, description, status, priority, tags, created_at
		FROM todos WHERE task_name = ?
		ORDER BY created_at, rowid
	`, s.taskName)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []*models.TodoItem
	for rows.Next() {
		item, err := scanTodo(rows.Scan)
		if err != nil {
			continue
		}
		if f.Matches(item) {
			out = append(out, item)
		}
	}
	return out
}

// GroupResolved reports whether every item in the group is completed or
// cancelled. A group with no items is never resolved.
func (s *SQLStore) GroupResolved(groupID string) bool {
	var total, unresolved int
	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status NOT IN ('completed', 'cancelled') THEN 1 ELSE 0 END), 0)
		FROM todos WHERE group_id = ? AND task_name = ?
	`, groupID, s.taskName)
	if err := row.Scan(&total, &unresolved); err != nil {
		return false
	}
	return total > 0 && unresolved == 0
}

// ClaimGroup records the agent owning a group's items.
func (s *SQLStore) ClaimGroup(groupID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, claimed := s.owners[groupID]; claimed && owner != agentID {
		return fmt.Errorf("group %s already claimed by agent %s", groupID, owner)
	}
	s.owners[groupID] = agentID
	return nil
}

// ReleaseGroup clears a group's ownership claim.
func (s *SQLStore) ReleaseGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, groupID)
}

// scanTodo reads one todo row through the given scan function.
func scanTodo(scan func(dest ...any) error) (*models.TodoItem, error) {
	var item models.TodoItem
	var description, tags sql.NullString
	var status, priority, createdAt string

	if err := scan(&item.ID, &item.GroupID, &item.Title, &description, &status, &priority, &tags, &createdAt); err != nil {
		return nil, err
	}

	item.Description = description.String
	item.Status = models.TodoStatus(status)
	item.Priority = models.Priority(priority)
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &item.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	item.CreatedAt = created
	return &item, nil
}
