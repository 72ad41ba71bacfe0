// Package plan loads and validates a task plan from YAML and seeds the
// dependency graph and todo store from it.
package plan

import (
	"fmt"
	"os"

	"github.com/mitchellh/hashstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/perrindunn/muster/internal/graph"
	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/pkg/models"
)

// Plan is the declarative description of a task run.
type Plan struct {
	// Task names the run. Todo items are tagged with it so runs for
	// different tasks never mix.
	Task string `yaml:"task"`
	// Groups lists the task groups with their dependencies and todos.
	Groups []Group `yaml:"groups"`
}

// Group is one task group in the plan.
type Group struct {
	ID             string   `yaml:"id"`
	Specialization string   `yaml:"specialization"`
	Description    string   `yaml:"description"`
	DependsOn      []string `yaml:"depends_on,omitempty"`
	Todos          []Todo   `yaml:"todos"`
}

// Todo is one work item in a group.
type Todo struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Priority    string `yaml:"priority,omitempty"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates plan YAML.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the plan's internal consistency. Graph-level checks
// (cycles, unknown dependencies) are left to the graph build.
func (p *Plan) Validate() error {
	if p.Task == "" {
		return fmt.Errorf("plan has no task name")
	}
	if len(p.Groups) == 0 {
		return fmt.Errorf("plan has no groups")
	}
	seen := make(map[string]bool)
	for _, g := range p.Groups {
		if g.ID == "" {
			return fmt.Errorf("group with empty id")
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate group id %q", g.ID)
		}
		seen[g.ID] = true
		if g.Description == "" {
			return fmt.Errorf("group %q has no description", g.ID)
		}
		if len(g.Todos) == 0 {
			return fmt.Errorf("group %q has no todos", g.ID)
		}
		for i, item := range g.Todos {
			if item.Title == "" {
				return fmt.Errorf("group %q todo %d has no title", g.ID, i)
			}
			if item.Priority != "" && !models.Priority(item.Priority).Valid() {
				return fmt.Errorf("group %q todo %q has invalid priority %q", g.ID, item.Title, item.Priority)
			}
		}
	}
	return nil
}

// Fingerprint returns a stable hash of the plan, used to detect whether a
// persisted session belongs to the same plan.
func (p *Plan) Fingerprint() (uint64, error) {
	hash, err := hashstructure.Hash(p, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("hashing plan: %w", err)
	}
	return hash, nil
}

// BuildGraph constructs and validates the dependency graph from the plan.
func (p *Plan) BuildGraph() (*graph.DependencyGraph, error) {
	groups := make([]*models.TaskGroup, 0, len(p.Groups))
	for _, g := range p.Groups {
		groups = append(groups, &models.TaskGroup{
			ID:             g.ID,
			Specialization: g.Specialization,
			Description:    g.Description,
			DependsOn:      g.DependsOn,
		})
	}
	dg := graph.New()
	if err := dg.Build(groups); err != nil {
		return nil, err
	}
	return dg, nil
}

// SeedStore creates the plan's todo items in the store.
func (p *Plan) SeedStore(store todo.Store) error {
	for _, g := range p.Groups {
		for _, item := range g.Todos {
			_, err := store.Create(&models.TodoItem{
				GroupID:     g.ID,
				Title:       item.Title,
				Description: item.Description,
				Priority:    models.Priority(item.Priority),
			})
			if err != nil {
				return fmt.Errorf("seeding group %q: %w", g.ID, err)
			}
		}
	}
	return nil
}
