package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
}

func TestSQLStoreCreateAndGet(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLStore(db, "demo")

	created, err := store.Create(&models.TodoItem{
		GroupID:     "api",
		Title:       "implement endpoint",
		Description: "POST /charge",
		Priority:    models.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create() did not assign an id")
	}
	if !created.HasTag(todo.TaskTag("demo")) {
		t.Error("created item missing task tag")
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Title != "implement endpoint" || got.Priority != models.PriorityHigh {
		t.Errorf("Get() = %+v", got)
	}
	if got.Status != models.TodoStatusPending {
		t.Errorf("new item status = %s, want pending", got.Status)
	}
}

func TestSQLStoreGetUnknown(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLStore(db, "demo")

	if _, err := store.Get("todo-missing"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestSQLStoreTransitionLifecycle(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLStore(db, "demo")

	item, _ := store.Create(&models.TodoItem{GroupID: "api", Title: "x"})
	if err := store.ClaimGroup("api", "agent-1"); err != nil {
		t.Fatalf("ClaimGroup() error: %v", err)
	}

	if err := store.Transition(item.ID, models.TodoStatusInProgress, "agent-1"); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if err := store.Transition(item.ID, models.TodoStatusCompleted, "agent-1"); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}

	// Resolved items never unresolve.
	if err := store.Transition(item.ID, models.TodoStatusPending, "agent-1"); err == nil {
		t.Error("completed item transitioned back to pending")
	}

	// Another agent cannot write while the claim holds.
	other, _ := store.Create(&models.TodoItem{GroupID: "api", Title: "y"})
	if err := store.Transition(other.ID, models.TodoStatusInProgress, "agent-2"); err == nil {
		t.Error("non-owner transitioned a claimed group's item")
	}

	store.ReleaseGroup("api")
	if err := store.Transition(other.ID, models.TodoStatusInProgress, "agent-2"); err != nil {
		t.Errorf("Transition() after release error: %v", err)
	}
}

func TestSQLStoreListAndFilters(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLStore(db, "demo")

	a, _ := store.Create(&models.TodoItem{GroupID: "api", Title: "a"})
	store.Create(&models.TodoItem{GroupID: "ui", Title: "b", Priority: models.PriorityHigh})
	store.ClaimGroup("api", "agent-1")
	store.Transition(a.ID, models.TodoStatusCompleted, "agent-1")

	if got := len(store.List(todo.Filter{})); got != 2 {
		t.Errorf("List(all) = %d items, want 2", got)
	}
	if got := len(store.List(todo.Filter{GroupID: "api"})); got != 1 {
		t.Errorf("List(api) = %d items, want 1", got)
	}
	if got := len(store.List(todo.Filter{Status: models.TodoStatusCompleted})); got != 1 {
		t.Errorf("List(completed) = %d items, want 1", got)
	}
	if got := len(store.List(todo.Filter{Priority: models.PriorityHigh})); got != 1 {
		t.Errorf("List(high) = %d items, want 1", got)
	}
	if got := len(store.List(todo.Filter{Tag: todo.TaskTag("demo")})); got != 2 {
		t.Errorf("List(task tag) = %d items, want 2", got)
	}
}

func TestSQLStoreGroupResolved(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLStore(db, "demo")

	if store.GroupResolved("empty") {
		t.Error("empty group reported resolved")
	}

	a, _ := store.Create(&models.TodoItem{GroupID: "api", Title: "a"})
	b, _ := store.Create(&models.TodoItem{GroupID: "api", Title: "b"})
	store.ClaimGroup("api", "agent-1")

	store.Transition(a.ID, models.TodoStatusCompleted, "agent-1")
	if store.GroupResolved("api") {
		t.Error("group with pending item reported resolved")
	}
	store.Transition(b.ID, models.TodoStatusCancelled, "agent-1")
	if !store.GroupResolved("api") {
		t.Error("fully resolved group reported unresolved")
	}
}

func TestSQLStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	store := NewSQLStore(db, "demo")
	item, _ := store.Create(&models.TodoItem{GroupID: "api", Title: "survives restart"})
	db.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate() after reopen error: %v", err)
	}
	store2 := NewSQLStore(db2, "demo")

	got, err := store2.Get(item.ID)
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if got.Title != "survives restart" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestSaveAndLoadSummary(t *testing.T) {
	db := openTestDB(t)

	summary := models.SessionSummary{
		SessionID:       "session-abc",
		TaskName:        "demo",
		OverallSuccess:  true,
		TotalCost:       3.25,
		TotalIterations: 12,
		Groups: []models.GroupStatusEntry{
			{GroupID: "api", Status: models.GroupStatusCompleted},
			{GroupID: "ui", Status: models.GroupStatusFailed, Reason: "escalated"},
		},
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
	}
	if err := db.SaveSummary(summary, 0xdeadbeef); err != nil {
		t.Fatalf("SaveSummary() error: %v", err)
	}

	sessions, err := db.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions() error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	got := sessions[0]
	if got.SessionID != "session-abc" || !got.OverallSuccess || got.TotalCost != 3.25 {
		t.Errorf("loaded summary = %+v", got)
	}
	if len(got.Groups) != 2 || got.Groups[1].Reason != "escalated" {
		t.Errorf("loaded groups = %+v", got.Groups)
	}
}

func TestAuditTrailRoundTrip(t *testing.T) {
	db := openTestDB(t)

	records := []models.AuditRecord{
		{GroupID: "api", Passed: false, Reason: "missing tests", Issues: []string{"handler untested"}, FailureStreak: 1, Timestamp: time.Now()},
		{GroupID: "api", Passed: true, Reason: "verified", FailureStreak: 0, Timestamp: time.Now()},
	}
	for _, r := range records {
		if err := db.SaveAuditRecord("session-abc", r); err != nil {
			t.Fatalf("SaveAuditRecord() error: %v", err)
		}
	}

	trail, err := db.AuditTrail("session-abc")
	if err != nil {
		t.Fatalf("AuditTrail() error: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("trail has %d records, want 2", len(trail))
	}
	if trail[0].Passed || trail[0].Issues[0] != "handler untested" {
		t.Errorf("first record = %+v", trail[0])
	}
	if !trail[1].Passed {
		t.Errorf("second record = %+v", trail[1])
	}
}
