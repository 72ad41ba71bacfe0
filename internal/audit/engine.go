package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/perrindunn/muster/internal/todo"
	"github.com/perrindunn/muster/pkg/models"
)

// State is the audit state machine position for one group.
type State string

const (
	// StateNotDue means the group still has unresolved todos.
	StateNotDue State = "not_due"
	// StateDue means every todo is resolved and an audit is owed.
	StateDue State = "due"
	// StateEvaluating means a verdict is being obtained.
	StateEvaluating State = "evaluating"
	// StatePassed means the last audit passed.
	StatePassed State = "passed"
	// StateFailed means the group escalated or hit an infrastructure fault.
	StateFailed State = "failed"
)

// ErrNotDue indicates an audit was requested before every todo in the
// group resolved. Partial completion never triggers an audit.
var ErrNotDue = errors.New("audit not due: group has unresolved todos")

// InfraError indicates the reasoner could not produce a schema-valid
// verdict within the retry limit. It is distinct from a fail verdict: the
// group failed by infrastructure, not by audit.
type InfraError struct {
	GroupID  string
	Attempts int
	Err      error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("audit infrastructure fault for group %s after %d attempts: %v", e.GroupID, e.Attempts, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// OutcomeKind classifies what an audit decided.
type OutcomeKind int

const (
	// OutcomePassed means the group's work was verified; the group completes.
	OutcomePassed OutcomeKind = iota
	// OutcomeReopened means the audit failed below the escalation threshold;
	// remediation todos were created and the group should return to running.
	OutcomeReopened
	// OutcomeEscalated means the failure streak hit the threshold; the group
	// fails permanently and an escalation event must be surfaced.
	OutcomeEscalated
)

// Outcome is the result of one audit evaluation.
type Outcome struct {
	Kind   OutcomeKind
	Record models.AuditRecord
	// Remediation lists the todos created for a reopened group.
	Remediation []*models.TodoItem
}

// Config tunes the engine.
type Config struct {
	// EscalationThreshold is the failure streak at which a group fails
	// permanently. Defaults to 3.
	EscalationThreshold int
	// MaxVerdictRetries bounds re-requests after malformed responses or
	// reasoner errors. Defaults to 2 retries (3 attempts).
	MaxVerdictRetries uint64
	// RetryInitialInterval seeds the exponential backoff between retries.
	RetryInitialInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = 3
	}
	if c.MaxVerdictRetries == 0 {
		c.MaxVerdictRetries = 2
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	return c
}

// Engine runs the per-group audit state machine. It owns failure streaks
// and the audit record trail; graph transitions are applied by the caller
// from the returned Outcome.
type Engine struct {
	cfg      Config
	store    todo.Store
	reasoner Reasoner
	log      *slog.Logger

	mu      sync.Mutex
	states  map[string]State
	streaks map[string]int
	records []models.AuditRecord
}

// NewEngine creates an audit engine over the given store and reasoner.
func NewEngine(cfg Config, store todo.Store, reasoner Reasoner) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		store:    store,
		reasoner: reasoner,
		log:      slog.Default(),
		states:   make(map[string]State),
		streaks:  make(map[string]int),
	}
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.log = l
	}
}

// IsDue reports whether the group owes an audit: every todo resolved and
// the group not already past its last audit.
func (e *Engine) IsDue(groupID string) bool {
	e.mu.Lock()
	state := e.states[groupID]
	e.mu.Unlock()

	if state == StatePassed || state == StateFailed || state == StateEvaluating {
		return false
	}
	return e.store.GroupResolved(groupID)
}

// State returns the group's current audit state.
func (e *Engine) State(groupID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state, ok := e.states[groupID]; ok {
		return state
	}
	return StateNotDue
}

// Streak returns the group's consecutive audit failure count.
func (e *Engine) Streak(groupID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaks[groupID]
}

// Records returns the audit trail for a group, oldest first.
func (e *Engine) Records(groupID string) []models.AuditRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.AuditRecord
	for _, r := range e.records {
		if r.GroupID == groupID {
			out = append(out, r)
		}
	}
	return out
}

// LastRecord returns the most recent audit record for a group, if any.
func (e *Engine) LastRecord(groupID string) *models.AuditRecord {
	records := e.Records(groupID)
	if len(records) == 0 {
		return nil
	}
	return &records[len(records)-1]
}

// Evaluate runs one audit for the group. It must only be called when
// IsDue reports true; a premature call returns ErrNotDue without touching
// the reasoner. An InfraError means no verdict was obtained.
func (e *Engine) Evaluate(ctx context.Context, group *models.TaskGroup) (*Outcome, error) {
	e.mu.Lock()
	if state := e.states[group.ID]; state == StatePassed || state == StateFailed {
		e.mu.Unlock()
		return nil, fmt.Errorf("group %s audit already %s", group.ID, state)
	}
	e.mu.Unlock()

	if !e.store.GroupResolved(group.ID) {
		return nil, ErrNotDue
	}

	e.setState(group.ID, StateEvaluating)
	req := e.buildRequest(group)

	resp, attempts, err := e.evaluateWithRetry(ctx, req)
	if err != nil {
		e.setState(group.ID, StateFailed)
		return nil, &InfraError{GroupID: group.ID, Attempts: attempts, Err: err}
	}

	if resp.Verdict == "pass" {
		return e.recordPass(group, resp), nil
	}
	return e.recordFail(group, resp)
}

// evaluateWithRetry obtains a schema-valid response, retrying transient
// reasoner errors and malformed verdicts with exponential backoff.
func (e *Engine) evaluateWithRetry(ctx context.Context, req Request) (*Response, int, error) {
	var resp *Response
	attempts := 0

	operation := func() error {
		attempts++
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		raw, err := e.reasoner.Evaluate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			e.log.Warn("audit reasoner call failed", "group_id", req.GroupID, "attempt", attempts, "err", err)
			return err
		}

		parsed, err := parseVerdict(raw)
		if err != nil {
			e.log.Warn("audit verdict rejected", "group_id", req.GroupID, "attempt", attempts, "err", err)
			return err
		}

		resp = parsed
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.RetryInitialInterval
	limited := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), e.cfg.MaxVerdictRetries)

	if err := backoff.Retry(operation, limited); err != nil {
		return nil, attempts, err
	}
	return resp, attempts, nil
}

// buildRequest assembles the audit context from the group and its resolved
// todos.
func (e *Engine) buildRequest(group *models.TaskGroup) Request {
	req := Request{
		GroupID:        group.ID,
		Specialization: group.Specialization,
		Description:    group.Description,
		FailureStreak:  e.Streak(group.ID),
	}
	for _, item := range e.store.List(todo.Filter{GroupID: group.ID}) {
		if !item.Status.Resolved() {
			continue
		}
		req.CompletedTodos = append(req.CompletedTodos, TodoSummary{
			Title:       item.Title,
			Description: item.Description,
			Status:      string(item.Status),
		})
	}
	return req
}

func (e *Engine) recordPass(group *models.TaskGroup, resp *Response) *Outcome {
	e.mu.Lock()
	e.streaks[group.ID] = 0
	e.states[group.ID] = StatePassed
	record := models.AuditRecord{
		GroupID:   group.ID,
		Passed:    true,
		Reason:    resp.Reason,
		Timestamp: time.Now(),
	}
	e.records = append(e.records, record)
	e.mu.Unlock()

	e.log.Info("audit passed", "group_id", group.ID, "reason", resp.Reason)
	return &Outcome{Kind: OutcomePassed, Record: record}
}

func (e *Engine) recordFail(group *models.TaskGroup, resp *Response) (*Outcome, error) {
	e.mu.Lock()
	e.streaks[group.ID]++
	streak := e.streaks[group.ID]
	record := models.AuditRecord{
		GroupID:       group.ID,
		Passed:        false,
		Reason:        resp.Reason,
		Issues:        resp.Issues,
		FailureStreak: streak,
		Timestamp:     time.Now(),
	}
	e.records = append(e.records, record)
	escalate := streak >= e.cfg.EscalationThreshold
	if escalate {
		e.states[group.ID] = StateFailed
	} else {
		e.states[group.ID] = StateDue
	}
	e.mu.Unlock()

	if escalate {
		// No further automatic remediation for this group.
		e.log.Warn("audit failure streak hit escalation threshold",
			"group_id", group.ID, "streak", streak, "reason", resp.Reason)
		return &Outcome{Kind: OutcomeEscalated, Record: record}, nil
	}

	remediation, err := e.createRemediation(group.ID, streak, resp.Issues)
	if err != nil {
		return nil, fmt.Errorf("create remediation todos for group %s: %w", group.ID, err)
	}

	e.log.Info("audit failed, group reopened",
		"group_id", group.ID, "streak", streak, "issues", len(resp.Issues))
	return &Outcome{Kind: OutcomeReopened, Record: record, Remediation: remediation}, nil
}

// createRemediation adds one high-priority todo per issue, tagged so the
// audit trail shows which failure produced it.
func (e *Engine) createRemediation(groupID string, streak int, issues []string) ([]*models.TodoItem, error) {
	created := make([]*models.TodoItem, 0, len(issues))
	for _, issue := range issues {
		item, err := e.store.Create(&models.TodoItem{
			GroupID:     groupID,
			Title:       issue,
			Description: fmt.Sprintf("Remediation for audit failure #%d: %s", streak, issue),
			Priority:    models.PriorityHigh,
			Tags:        []string{"audit-fix", fmt.Sprintf("audit-failure-%d", streak)},
		})
		if err != nil {
			return nil, err
		}
		created = append(created, item)
	}
	return created, nil
}

func (e *Engine) setState(groupID string, state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[groupID] = state
}

// Prompt renders the audit request the way the reasoner expects it: the
// group's responsibility, the completed work, and the strict response
// schema.
func Prompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are auditing completed work for a task group.\n\n")
	sb.WriteString(fmt.Sprintf("## Group %s (%s)\n%s\n\n", req.GroupID, req.Specialization, req.Description))

	sb.WriteString("## Completed work\n")
	for _, td := range req.CompletedTodos {
		sb.WriteString(fmt.Sprintf("- [%s] %s", td.Status, td.Title))
		if td.Description != "" {
			sb.WriteString(": " + td.Description)
		}
		sb.WriteString("\n")
	}

	if req.FailureStreak > 0 {
		sb.WriteString(fmt.Sprintf("\nThis group has failed %d previous audit(s).\n", req.FailureStreak))
	}

	sb.WriteString("\n## Instructions\n")
	sb.WriteString("Decide whether the completed work actually satisfies the group's responsibility.\n")
	sb.WriteString("Respond with valid JSON in this exact format:\n")
	sb.WriteString("```json\n")
	sb.WriteString(`{"verdict": "pass|fail", "reason": "string", "issues": ["string"]}` + "\n")
	sb.WriteString("```\n")
	sb.WriteString("The reason is mandatory. Issues are required when the verdict is fail.\n")
	return sb.String()
}
