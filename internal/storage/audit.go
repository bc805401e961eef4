package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// RecordAudit appends one AuditLog row. Every action's completion is
// recorded here (§6 "Every action's completion is recorded in AuditLog").
func (s *Store) RecordAudit(ctx context.Context, a *AuditEntry) error {
	targetsJSON, err := json.Marshal(a.Targets)
	if err != nil {
		return fmt.Errorf("storage: marshal audit targets: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (action_type, actor_device, targets, status, started_at, finished_at, error_message, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ActionType, a.ActorDevice, string(targetsJSON), a.Status, a.StartedAt, a.FinishedAt, a.ErrorMessage, a.Result)
	if err != nil {
		return fmt.Errorf("storage: record audit entry: %w", err)
	}

	return nil
}

// ListAudit returns the most recent audit entries, newest first, capped at limit.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_type, actor_device, targets, status, started_at, finished_at, error_message, result
		FROM audit_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry

	for rows.Next() {
		var a AuditEntry

		var targetsJSON string

		if err := rows.Scan(&a.ID, &a.ActionType, &a.ActorDevice, &targetsJSON, &a.Status,
			&a.StartedAt, &a.FinishedAt, &a.ErrorMessage, &a.Result); err != nil {
			return nil, fmt.Errorf("storage: scan audit entry: %w", err)
		}

		_ = json.Unmarshal([]byte(targetsJSON), &a.Targets)

		out = append(out, &a)
	}

	return out, rows.Err()
}
