package database

import (
	"context"
	"fmt"
	"time"

	"hotelpms/internal/models"
)

func (db *DB) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = models.AuditStatusRunning
	}
	query := `INSERT INTO sync_audit_log (id, processed, succeeded, failed, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, entry.ID, entry.Processed, entry.Succeeded, entry.Failed, entry.Status, entry.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (db *DB) FinishAuditLog(ctx context.Context, entry *models.AuditLog) error {
	now := time.Now().UTC()
	entry.FinishedAt = &now
	query := `UPDATE sync_audit_log SET succeeded = ?, failed = ?, status = ?, finished_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, entry.Succeeded, entry.Failed, entry.Status, entry.FinishedAt, entry.ID); err != nil {
		return fmt.Errorf("failed to finish audit log: %w", err)
	}
	return nil
}

func (db *DB) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, processed, succeeded, failed, status, started_at, finished_at
              FROM sync_audit_log ORDER BY started_at DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Processed, &l.Succeeded, &l.Failed, &l.Status, &l.StartedAt, &l.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
