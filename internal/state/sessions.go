package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/perrindunn/muster/pkg/models"
)

// SaveSummary persists a session summary. The plan fingerprint lets a
// later run detect whether stored state belongs to the same plan.
func (db *DB) SaveSummary(summary models.SessionSummary, planFingerprint uint64) error {
	groups, err := json.Marshal(summary.Groups)
	if err != nil {
		return fmt.Errorf("encode group statuses: %w", err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO sessions
			(id, task_name, overall_success, total_cost, total_iterations, per_group_status, plan_fingerprint, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, summary.SessionID, summary.TaskName, boolToInt(summary.OverallSuccess),
		summary.TotalCost, summary.TotalIterations, string(groups),
		strconv.FormatUint(planFingerprint, 16),
		formatTime(summary.StartedAt), formatTime(summary.EndedAt))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (db *DB) RecentSessions(limit int) ([]models.SessionSummary, error) {
	rows, err := db.Query(`
		SELECT id, task_name, overall_success, total_cost, total_iterations, per_group_status, started_at, ended_at
		FROM sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		var success int
		var groups sql.NullString
		var startedAt, endedAt string
		if err := rows.Scan(&s.SessionID, &s.TaskName, &success, &s.TotalCost, &s.TotalIterations, &groups, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.OverallSuccess = success != 0
		if groups.Valid && groups.String != "" {
			if err := json.Unmarshal([]byte(groups.String), &s.Groups); err != nil {
				return nil, fmt.Errorf("decode group statuses: %w", err)
			}
		}
		if s.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if s.EndedAt, err = parseTime(endedAt); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveAuditRecord appends one audit record to a session's trail.
func (db *DB) SaveAuditRecord(sessionID string, record models.AuditRecord) error {
	issues, err := json.Marshal(record.Issues)
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO audit_records (session_id, group_id, passed, reason, issues, failure_streak, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, record.GroupID, boolToInt(record.Passed), record.Reason,
		string(issues), record.FailureStreak, formatTime(record.Timestamp))
	if err != nil {
		return fmt.Errorf("save audit record: %w", err)
	}
	return nil
}

// AuditTrail returns a session's audit records in recording order.
func (db *DB) AuditTrail(sessionID string) ([]models.AuditRecord, error) {
	rows, err := db.Query(`
		SELECT group_id, passed, reason, issues, failure_streak, recorded_at
		FROM audit_records WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var passed int
		var issues sql.NullString
		var recordedAt string
		if err := rows.Scan(&r.GroupID, &passed, &r.Reason, &issues, &r.FailureStreak, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Passed = passed != 0
		if issues.Valid && issues.String != "" && issues.String != "null" {
			if err := json.Unmarshal([]byte(issues.String), &r.Issues); err != nil {
				return nil, fmt.Errorf("decode issues: %w", err)
			}
		}
		if r.Timestamp, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
