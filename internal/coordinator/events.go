// Package coordinator drives the execution of a task run: it schedules
// runnable groups, assigns agents, applies audit outcomes to the graph,
// and enforces the session budget at phase boundaries.
package coordinator

import (
	"time"

	"github.com/perrindunn/muster/pkg/models"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventGroupStarted indicates a group has started execution.
	EventGroupStarted EventType = "group_started"
	// EventGroupCompleted indicates a group completed and passed audit.
	EventGroupCompleted EventType = "group_completed"
	// EventGroupFailed indicates a group failed permanently.
	EventGroupFailed EventType = "group_failed"
	// EventAuditPassed indicates an audit verdict of pass.
	EventAuditPassed EventType = "audit_passed"
	// EventAuditFailed indicates an audit verdict of fail below the
	// escalation threshold; remediation todos were created.
	EventAuditFailed EventType = "audit_failed"
	// EventEscalation indicates a group's failure streak hit the threshold.
	EventEscalation EventType = "escalation"
	// EventBudgetWarning indicates usage crossed the warning threshold.
	EventBudgetWarning EventType = "budget_warning"
	// EventBudgetExhausted indicates a limit was reached; no new groups start.
	EventBudgetExhausted EventType = "budget_exhausted"
	// EventSessionDone indicates the session has torn down.
	EventSessionDone EventType = "session_done"
)

// Event is emitted by the coordinator as the run progresses. Escalation
// events carry the final audit record and cumulative usage so a human
// reviewer has the full picture without querying anything else.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// GroupID is the ID of the related group, if applicable.
	GroupID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err error
	// Record is the audit record behind audit and escalation events.
	Record *models.AuditRecord
	// Cost is the cumulative session cost at emission time.
	Cost float64
	// Iterations is the cumulative iteration count at emission time.
	Iterations int
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
