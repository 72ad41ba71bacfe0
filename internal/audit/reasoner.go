// Package audit decides when a task group is due for verification, obtains
// a pass/fail verdict from a reasoning collaborator, and drives the
// retry/escalation state machine for repeated failures.
package audit

import "context"

// Request is the context assembled for one audit evaluation.
type Request struct {
	// GroupID is the group under audit.
	GroupID string
	// Specialization is the group's specialization tag.
	Specialization string
	// Description is the group's stated responsibility.
	Description string
	// CompletedTodos summarizes the work claimed as done.
	CompletedTodos []TodoSummary
	// FailureStreak is the number of consecutive failed audits so far.
	FailureStreak int
}

// TodoSummary is one completed or cancelled todo in the audit request.
type TodoSummary struct {
	Title       string
	Description string
	Status      string
}

// Response is the raw reasoner output before schema validation.
type Response struct {
	// Verdict must be "pass" or "fail".
	Verdict string `json:"verdict"`
	// Reason is mandatory for both verdicts.
	Reason string `json:"reason"`
	// Issues lists concrete problems; required when the verdict is fail.
	Issues []string `json:"issues"`
}

// Reasoner is the external collaborator that evaluates completed work.
// Its output is untrusted free-form model text; the engine validates it
// strictly and retries on schema violations.
type Reasoner interface {
	Evaluate(ctx context.Context, req Request) (string, error)
}
