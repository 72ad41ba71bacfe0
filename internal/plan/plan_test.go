package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/pkg/models"
)

const validPlan = `
task: checkout-service
groups:
  - id: schema
    specialization: backend
    description: database schema and migrations
    todos:
      - title: design orders table
        priority: high
      - title: write migration
  - id: api
    specialization: backend
    description: payment API endpoints
    depends_on: [schema]
    todos:
      - title: implement charge endpoint
        description: POST /charge with idempotency key
  - id: ui
    specialization: frontend
    description: checkout page
    depends_on: [schema]
    todos:
      - title: build payment form
`

func TestParseValidPlan(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if p.Task != "checkout-service" {
		t.Errorf("Task = %q, want checkout-service", p.Task)
	}
	if len(p.Groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(p.Groups))
	}
	if p.Groups[1].DependsOn[0] != "schema" {
		t.Errorf("api depends_on = %v, want [schema]", p.Groups[1].DependsOn)
	}
}

func TestValidateNamesOffendingGroup(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing todos",
			yaml: "task: t\ngroups:\n  - id: empty\n    description: d\n",
			want: `"empty"`,
		},
		{
			name: "duplicate id",
			yaml: "task: t\ngroups:\n  - id: a\n    description: d\n    todos: [{title: x}]\n  - id: a\n    description: d\n    todos: [{title: y}]\n",
			want: `"a"`,
		},
		{
			name: "bad priority",
			yaml: "task: t\ngroups:\n  - id: a\n    description: d\n    todos: [{title: x, priority: urgent}]\n",
			want: `"a"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not name group %s", err, tc.want)
			}
		})
	}
}

func TestParseRejectsEmptyPlan(t *testing.T) {
	if _, err := Parse([]byte("task: t\n")); err == nil {
		t.Fatal("expected error for plan with no groups")
	}
	if _, err := Parse([]byte("groups: [{id: a, description: d, todos: [{title: x}]}]\n")); err == nil {
		t.Fatal("expected error for plan with no task name")
	}
}

func TestBuildGraphFromPlan(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	g, err := p.BuildGraph()
	if err != nil {
		t.Fatalf("BuildGraph() error: %v", err)
	}
	if g.Size() != 3 {
		t.Errorf("graph size = %d, want 3", g.Size())
	}
	runnable := g.Runnable()
	if len(runnable) != 1 || runnable[0].ID != "schema" {
		t.Errorf("initial runnable = %v, want [schema]", runnable)
	}
}

func TestBuildGraphRejectsCycle(t *testing.T) {
	cyclic := "task: t\ngroups:\n" +
		"  - {id: a, description: d, depends_on: [b], todos: [{title: x}]}\n" +
		"  - {id: b, description: d, depends_on: [a], todos: [{title: y}]}\n"
	p, err := Parse([]byte(cyclic))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if _, err := p.BuildGraph(); err == nil {
		t.Fatal("expected cycle error from BuildGraph()")
	}
}

func TestSeedStore(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	store := todo.NewMemoryStore(p.Task)
	if err := p.SeedStore(store); err != nil {
		t.Fatalf("SeedStore() error: %v", err)
	}

	schemaItems := store.List(todo.Filter{GroupID: "schema"})
	if len(schemaItems) != 2 {
		t.Fatalf("schema has %d items, want 2", len(schemaItems))
	}
	if schemaItems[0].Priority != models.PriorityHigh {
		t.Errorf("first schema item priority = %s, want high", schemaItems[0].Priority)
	}
	// Unset priority defaults to medium at creation.
	if schemaItems[1].Priority != models.PriorityMedium {
		t.Errorf("second schema item priority = %s, want medium", schemaItems[1].Priority)
	}
	for _, item := range store.List(todo.Filter{}) {
		if !item.HasTag(todo.TaskTag("checkout-service")) {
			t.Errorf("item %q missing task tag", item.Title)
		}
	}
}

func TestFingerprintStable(t *testing.T) {
	p1, _ := Parse([]byte(validPlan))
	p2, _ := Parse([]byte(validPlan))

	h1, err := p1.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint() error: %v", err)
	}
	h2, _ := p2.Fingerprint()
	if h1 != h2 {
		t.Error("same plan produced different fingerprints")
	}

	p3, _ := Parse([]byte(strings.Replace(validPlan, "checkout page", "payment page", 1)))
	h3, _ := p3.Fingerprint()
	if h1 == h3 {
		t.Error("different plans produced the same fingerprint")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(validPlan), 0644); err != nil {
		t.Fatalf("writing plan: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if p.Task != "checkout-service" {
		t.Errorf("Task = %q", p.Task)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
