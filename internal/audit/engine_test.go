package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/pkg/models"
)

// fakeReasoner returns scripted responses in order, then repeats the last.
type fakeReasoner struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeReasoner) Evaluate(_ context.Context, _ Request) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

const passJSON = `{"verdict": "pass", "reason": "work verified", "issues": []}`
const failJSON = `{"verdict": "fail", "reason": "gaps found", "issues": ["missing test file"]}`

func testConfig() Config {
	return Config{EscalationThreshold: 3, MaxVerdictRetries: 2, RetryInitialInterval: time.Millisecond}
}

func newGroup(id string) *models.TaskGroup {
	return &models.TaskGroup{ID: id, Specialization: "backend", Description: "build the API"}
}

// seedResolved creates n todos in the group and resolves them all.
func seedResolved(t *testing.T, s todo.Store, groupID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		item, err := s.Create(&models.TodoItem{GroupID: groupID, Title: "item"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.Transition(item.ID, models.TodoStatusCompleted, "agent-1"); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
}

func TestIsDueRequiresAllTodosResolved(t *testing.T) {
	store := todo.NewMemoryStore("demo")
	e := NewEngine(testConfig(), store, &fakeReasoner{responses: []string{passJSON}})

	a, _ := store.Create(&models.TodoItem{GroupID: "x", Title: "one"})
	b, _ := store.Create(&models.TodoItem{GroupID: "x", Title: "two"})
	c, _ := store.Create(&models.TodoItem{GroupID: "x", Title: "three"})

	store.Transition(a.ID, models.TodoStatusCompleted, "agent-1")
	store.Transition(b.ID, models.TodoStatusCompleted, "agent-1")
	if e.IsDue("x") {
		t.Error("audit due with a pending todo")
	}

	store.Transition(c.ID, models.TodoStatusCompleted, "agent-1")
	if !e.IsDue("x") {
		t.Error("audit not due with all todos resolved")
	}
}

func TestEvaluatePrematureReturnsErrNotDue(t *testing.T) {
	store := todo.NewMemoryStore("demo")
	r := &fakeReasoner{responses: []string{passJSON}}
	e := NewEngine(testConfig(), store, r)

	store.Create(&models.TodoItem{GroupID: "x", Title: "pending"})

	_, err := e.Evaluate(context.Background(), newGroup("x"))
	if !errors.Is(err, ErrNotDue) {
		t.Fatalf("expected ErrNotDue, got %v", err)
	}
	if r.calls != 0 {
		t.Errorf("reasoner invoked on a premature audit: %d calls", r.calls)
	}
}

func TestEvaluatePass(t *testing.T) {
	store := todo.NewMemoryStore("demo")
	e := NewEngine(testConfig(), store, &fakeReasoner{responses: []string{passJSON}})
	seedResolved(t, store, "x", 2)

	outcome, err := e.Evaluate(context.Background(), newGroup("x"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if outcome.Kind != OutcomePassed {
		t.Fatalf("expected pass outcome, got %v", outcome.Kind)
	}
	if outcome.Record.Reason == "" {
		t.Error("pass record missing reason")
	}
	if e.State("x") != StatePassed {
		t.Errorf("expected passed state, got %s", e.State("x"))
	}
	if e.Streak("x") != 0 {
		t.Errorf("expected streak 0, got %d", e.Streak("x"))
	}
}

func TestEvaluateFailCreatesRemediation(t *testing.T) {
	store := todo.NewMemoryStore("demo")
	e := NewEngine(testConfig(), store, &fakeReasoner{responses: []string{failJSON}})
	seedResolved(t, store, "x", 1)

	outcome, err := e.Evaluate(context.Background(), newGroup("x"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if outcome.Kind != OutcomeReopened {
		t.Fatalf("expected reopened outcome, got %v", outcome.Kind)
	}
	if len(outcome.Remediation) != 1 {
		t.Fatalf("expected exactly one remediation todo, got %d", len(outcome.Remediation))
	}

	item := outcome.Remediation[0]
	if item.GroupID != "x" {
		t.Errorf("remediation in wrong group: %s", item.GroupID)
	}
	if !item.HasTag("audit-fix") || !item.HasTag("audit-failure-1") {
		t.Errorf("missing remediation tags: %v", item.Tags)
	}
	if e.Streak("x") != 1 {
		t.Errorf("expected streak 1, got %d", e.Streak("x"))
	}

	// The new todo makes the group unresolved again until it is addressed.
	if e.IsDue("x") {
		t.Error("group should not be due with an open remediation todo")
	}
}

func TestEscalationAtThreshold(t *testing.T) {
	store := todo.NewMemoryStore("demo")
	r := &fakeReasoner{responses: []string{failJSON}}
	e := NewEngine(testConfig(), store, r)
	seedResolved(t, store, "y", 1)

	ctx := context.Background()
	group := newGroup("y")

	for i := 1; i <= 3; i++ {
		outcome, err := e.Evaluate(ctx, group)
		if err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
		if i < 3 {
			if outcome.Kind != OutcomeReopened {
				t.Fatalf("failure %d: expected reopened, got %v", i, outcome.Kind)
			}
			// Resolve the remediation todos so the next audit is due.
			for _, item := range outcome.Remediation {
				if err := store.Transition(item.ID, models.TodoStatusCompleted, "agent-1"); err != nil {
					t.Fatalf("resolve remediation: %v", err)
				}
			}
			continue
		}
		if outcome.Kind != OutcomeEscalated {
			t.Fatalf("failure 3: expected escalation, got %v", outcome.Kind)
		}
		if len(outcome.Remediation) != 0 {
			t.Error("escalated group should get no remediation todos")
		}
	}

	if e.Streak("y") != 3 {
		t.Errorf("expected streak 3, got %d", e.Streak("y"))
	}
	if e.State("y") != StateFailed {
		t.Errorf("expected failed state, got %s", e.State("y"))
	}

	// A fourth evaluation is never issued.
	callsBefore := r.calls
	if _, err := e.Evaluate(ctx, group); err == nil {
		t.Error("expected error evaluating a permanently failed group")
	}
	if r.calls != callsBefore {
		t.Error("reasoner invoked after escalation")
	}
}

func TestMalformedResponseRetriedThenAccepted(t *testing.T) {
	store := todo.NewMemoryStore("demo")
	r := &fakeReasoner{responses: []string{"not json at all", passJSON}}
	e := NewEngine(testConfig(), store, r)
	seedResolved(t, store, "x", 1)

	outcome, err := e.Evaluate(context.Background(), newGroup("x"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if outcome.Kind != OutcomePassed {
		t.Errorf("expected pass after retry, got %v", outcome.Kind)
	}
	if r.calls != 2 {
		t.Errorf("expected 2 reasoner calls, got %d", r.calls)
	}
}

func TestRetriesExhaustedIsInfraError(t *testing.T) {
	store := todo.NewMemoryStore("demo")
	r := &fakeReasoner{responses: []string{`{"verdict": "pass"}`}} // reason always missing
	e := NewEngine(testConfig(), store, r)
	seedResolved(t, store, "x", 1)

	_, err := e.Evaluate(context.Background(), newGroup("x"))
	var infra *InfraError
	if !errors.As(err, &infra) {
		t.Fatalf("expected InfraError, got %v", err)
	}
	if infra.GroupID != "x" {
		t.Errorf("infra error names wrong group: %s", infra.GroupID)
	}
	// MaxVerdictRetries=2 means 3 attempts total.
	if r.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", r.calls)
	}
	if e.State("x") != StateFailed {
		t.Errorf("expected failed state after infra fault, got %s", e.State("x"))
	}
}

func TestReasonerTransportErrorsRetried(t *testing.T) {
	store := todo.NewMemoryStore("demo")
	r := &fakeReasoner{
		errs:      []error{errors.New("connection reset"), nil},
		responses: []string{"", passJSON},
	}
	e := NewEngine(testConfig(), store, r)
	seedResolved(t, store, "x", 1)

	outcome, err := e.Evaluate(context.Background(), newGroup("x"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if outcome.Kind != OutcomePassed {
		t.Errorf("expected pass after transport retry, got %v", outcome.Kind)
	}
}

func TestPassResetsStreak(t *testing.T) {
	store := todo.NewMemoryStore("demo")
	r := &fakeReasoner{responses: []string{failJSON, passJSON}}
	e := NewEngine(testConfig(), store, r)
	seedResolved(t, store, "x", 1)

	outcome, err := e.Evaluate(context.Background(), newGroup("x"))
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	for _, item := range outcome.Remediation {
		store.Transition(item.ID, models.TodoStatusCompleted, "agent-1")
	}

	outcome, err = e.Evaluate(context.Background(), newGroup("x"))
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if outcome.Kind != OutcomePassed {
		t.Fatalf("expected pass, got %v", outcome.Kind)
	}
	if e.Streak("x") != 0 {
		t.Errorf("expected streak reset to 0, got %d", e.Streak("x"))
	}

	records := e.Records("x")
	if len(records) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(records))
	}
	if records[0].Passed || !records[1].Passed {
		t.Error("audit trail out of order")
	}
}
