package models

import "time"

// AuditRecord is the outcome of one audit evaluation for one task group.
type AuditRecord struct {
	// GroupID is the group that was audited.
	GroupID string `json:"group_id"`
	// Passed indicates the audit verdict.
	Passed bool `json:"passed"`
	// Reason is the mandatory rationale for the verdict. A verdict without
	// a reason is rejected as a retryable engine fault, never recorded.
	Reason string `json:"reason"`
	// Issues lists the concrete problems found when the audit failed.
	Issues []string `json:"issues,omitempty"`
	// FailureStreak is the group's consecutive-failure count after this audit.
	FailureStreak int `json:"failure_streak"`
	// Timestamp is when the verdict was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// GroupStatusEntry reports one group's final disposition in a session summary.
type GroupStatusEntry struct {
	// GroupID is the group being reported.
	GroupID string `json:"group_id"`
	// Status is the group's final status.
	Status GroupStatus `json:"status"`
	// Reason explains a failure: audit reason, infrastructure fault, or timeout.
	Reason string `json:"reason,omitempty"`
}

// SessionSummary is emitted when a session tears down.
type SessionSummary struct {
	// SessionID identifies the run.
	SessionID string `json:"session_id"`
	// TaskName is the task this session executed.
	TaskName string `json:"task_name"`
	// OverallSuccess is true when every group completed.
	OverallSuccess bool `json:"overall_success"`
	// TotalCost is the dollar cost across all agents.
	TotalCost float64 `json:"total_cost"`
	// TotalIterations is the iteration count across all agents.
	TotalIterations int `json:"total_iterations"`
	// Groups lists the final disposition of every group.
	Groups []GroupStatusEntry `json:"per_group_status"`
	// StartedAt is when the session began.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the session tore down.
	EndedAt time.Time `json:"ended_at"`
}
