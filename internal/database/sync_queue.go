package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hotelpms/internal/models"
)

const queueColumns = `id, hotel_id, service_name, xml_body, current_request_id, status, retries, last_error, created_at, processed_at`

// InsertQueueEntries stores entries as pending rows in one transaction and fills in their IDs.
func (db *DB) InsertQueueEntries(ctx context.Context, entries []*models.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO ota_sync_queue (hotel_id, service_name, xml_body, current_request_id, status, retries, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	for _, e := range entries {
		e.Status = models.QueueStatusPending
		e.Retries = 0
		e.CreatedAt = now
		result, err := tx.ExecContext(ctx, query,
			e.HotelID,
			e.ServiceName,
			e.XMLBody,
			e.CurrentRequestID,
			e.Status,
			e.Retries,
			e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert queue entry: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		e.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue entries: %w", err)
	}
	return nil
}

// ClaimQueueEntries marks up to limit eligible rows as processing and returns them oldest first.
// The UPDATE selects and marks rows in one statement, so concurrent claimers never share a row.
func (db *DB) ClaimQueueEntries(ctx context.Context, limit, maxRetries int) ([]models.QueueEntry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	claimQuery := `UPDATE ota_sync_queue SET status = ?, processed_at = ?
              WHERE id IN (
                  SELECT id FROM ota_sync_queue
                  WHERE status = ? OR (status = ? AND retries < ?)
                  ORDER BY created_at ASC, id ASC LIMIT ?
              )
              RETURNING id`
	rows, err := tx.QueryContext(ctx, claimQuery,
		models.QueueStatusProcessing, time.Now().UTC(),
		models.QueueStatusPending, models.QueueStatusFailed, maxRetries, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entries: %w", err)
	}
	var ids []any
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan claimed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to claim queue entries: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	selectQuery := `SELECT ` + queueColumns + ` FROM ota_sync_queue WHERE id IN (` + placeholders + `) ORDER BY created_at ASC, id ASC`
	entries, err := queryQueueEntries(ctx, tx, selectQuery, ids...)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return entries, nil
}

// MarkQueueEntryCompleted resolves a claimed row as delivered.
func (db *DB) MarkQueueEntryCompleted(ctx context.Context, id int64) error {
	query := `UPDATE ota_sync_queue SET status = ?, processed_at = ? WHERE id = ? AND status = ?`
	return db.resolve(ctx, query, models.QueueStatusCompleted, time.Now().UTC(), id, models.QueueStatusProcessing)
}

// MarkQueueEntryRetry returns a claimed row to the pending pool and counts the failed attempt.
func (db *DB) MarkQueueEntryRetry(ctx context.Context, id int64, errMsg string) error {
	query := `UPDATE ota_sync_queue SET status = ?, retries = retries + 1, last_error = ?, processed_at = ? WHERE id = ? AND status = ?`
	return db.resolve(ctx, query, models.QueueStatusPending, errMsg, time.Now().UTC(), id, models.QueueStatusProcessing)
}

// MarkQueueEntryFailed parks a claimed row in the failed state and counts the failed attempt.
func (db *DB) MarkQueueEntryFailed(ctx context.Context, id int64, errMsg string) error {
	query := `UPDATE ota_sync_queue SET status = ?, retries = retries + 1, last_error = ?, processed_at = ? WHERE id = ? AND status = ?`
	return db.resolve(ctx, query, models.QueueStatusFailed, errMsg, time.Now().UTC(), id, models.QueueStatusProcessing)
}

func (db *DB) resolve(ctx context.Context, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

// ReclaimStaleQueueEntries returns rows claimed before claimedBefore and never
// resolved to the pending pool. The lost attempt counts as a retry.
func (db *DB) ReclaimStaleQueueEntries(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `UPDATE ota_sync_queue SET status = ?, retries = retries + 1, last_error = ?, processed_at = ?
              WHERE status = ? AND processed_at < ?`
	res, err := db.ExecContext(ctx, query,
		models.QueueStatusPending, StaleClaimError, time.Now().UTC(),
		models.QueueStatusProcessing, claimedBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale queue entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// RequeueQueueEntry moves a failed row back to pending for one more attempt.
// Retries are kept, so a further failure parks the row again.
func (db *DB) RequeueQueueEntry(ctx context.Context, id int64) error {
	query := `UPDATE ota_sync_queue SET status = ? WHERE id = ? AND status = ?`
	res, err := db.ExecContext(ctx, query, models.QueueStatusPending, id, models.QueueStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to requeue queue entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) GetQueueEntry(ctx context.Context, id int64) (*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM ota_sync_queue WHERE id = ?`
	e, err := scanQueueEntry(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

// ListQueueEntries returns rows with the given status (any status when empty), newest first.
func (db *DB) ListQueueEntries(ctx context.Context, status string, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if status == "" {
		query := `SELECT ` + queueColumns + ` FROM ota_sync_queue ORDER BY created_at DESC, id DESC LIMIT ?`
		return queryQueueEntries(ctx, db, query, limit)
	}
	query := `SELECT ` + queueColumns + ` FROM ota_sync_queue WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return queryQueueEntries(ctx, db, query, status, limit)
}

func (db *DB) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM ota_sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats.Add(status, count)
	}
	return stats, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryQueueEntries(ctx context.Context, q queryer, query string, args ...any) ([]models.QueueEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := row.Scan(
		&e.ID, &e.HotelID, &e.ServiceName, &e.XMLBody, &e.CurrentRequestID, &e.Status, &e.Retries, &e.LastError, &e.CreatedAt, &e.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
