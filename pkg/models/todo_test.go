package models

import "testing"

func TestTodoStatusValid(t *testing.T) {
	valid := []TodoStatus{TodoStatusPending, TodoStatusInProgress, TodoStatusCompleted, TodoStatusCancelled}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if TodoStatus("deleted").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestTodoStatusResolved(t *testing.T) {
	if !TodoStatusCompleted.Resolved() {
		t.Error("completed should be resolved")
	}
	if !TodoStatusCancelled.Resolved() {
		t.Error("cancelled should be resolved")
	}
	if TodoStatusPending.Resolved() {
		t.Error("pending should not be resolved")
	}
	if TodoStatusInProgress.Resolved() {
		t.Error("in_progress should not be resolved")
	}
}

func TestPriorityValid(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh} {
		if !p.Valid() {
			t.Errorf("expected %q to be valid", p)
		}
	}
	if Priority("urgent").Valid() {
		t.Error("unknown priority should be invalid")
	}
}

func TestTodoItemHasTag(t *testing.T) {
	item := &TodoItem{
		ID:     "todo-1",
		Tags:   []string{"task-auth", "audit-fix"},
		Status: TodoStatusPending,
	}

	if !item.HasTag("task-auth") {
		t.Error("expected task-auth tag")
	}
	if !item.HasTag("audit-fix") {
		t.Error("expected audit-fix tag")
	}
	if item.HasTag("audit-failure-1") {
		t.Error("did not expect audit-failure-1 tag")
	}
}
