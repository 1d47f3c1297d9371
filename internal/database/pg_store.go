package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"hotelpms/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL backend used when several sync processes share one queue.
// Claims rely on FOR UPDATE SKIP LOCKED, so competing dispatchers never see the same row.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// ConnectPG opens a pool and makes sure the schema exists.
func ConnectPG(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPGStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) PingContext(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ota_sync_queue (
            id BIGSERIAL PRIMARY KEY,
            hotel_id BIGINT NOT NULL,
            service_name TEXT NOT NULL,
            xml_body TEXT NOT NULL,
            current_request_id VARCHAR(8) NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retries INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            processed_at TIMESTAMPTZ
        )`,
		`CREATE TABLE IF NOT EXISTS change_log (
            id TEXT PRIMARY KEY,
            table_name TEXT NOT NULL,
            action TEXT NOT NULL,
            hotel_id BIGINT NOT NULL,
            before_data JSONB,
            after_data JSONB,
            logged_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE TABLE IF NOT EXISTS sync_audit_log (
            id TEXT PRIMARY KEY,
            processed INTEGER NOT NULL,
            succeeded INTEGER NOT NULL DEFAULT 0,
            failed INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ
        )`,
		`CREATE TABLE IF NOT EXISTS rooms (
            id BIGSERIAL PRIMARY KEY,
            hotel_id BIGINT NOT NULL,
            room_number TEXT NOT NULL,
            room_type_group_code TEXT NOT NULL,
            for_sale BOOLEAN NOT NULL DEFAULT true
        )`,
		`CREATE TABLE IF NOT EXISTS reservation_details (
            id BIGSERIAL PRIMARY KEY,
            hotel_id BIGINT NOT NULL,
            reservation_id BIGINT NOT NULL,
            room_id BIGINT NOT NULL,
            date DATE NOT NULL,
            status TEXT NOT NULL DEFAULT 'confirmed'
        )`,
		`CREATE INDEX IF NOT EXISTS idx_ota_sync_queue_status ON ota_sync_queue(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservation_details_hotel_date ON reservation_details(hotel_id, date)`,
	}
	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PGStore) InsertQueueEntries(ctx context.Context, entries []*models.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, e := range entries {
		e.Status = models.QueueStatusPending
		e.Retries = 0
		err := tx.QueryRow(ctx, `
			INSERT INTO ota_sync_queue (hotel_id, service_name, xml_body, current_request_id, status, retries)
			VALUES ($1, $2, $3, $4, $5, 0)
			RETURNING id, created_at
		`, e.HotelID, e.ServiceName, e.XMLBody, e.CurrentRequestID, e.Status).Scan(&e.ID, &e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert queue entry: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) ClaimQueueEntries(ctx context.Context, limit, maxRetries int) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE ota_sync_queue q
		SET status = $1, processed_at = now()
		FROM (
			SELECT id FROM ota_sync_queue
			WHERE status = $2 OR (status = $3 AND retries < $4)
			ORDER BY created_at ASC, id ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		) c
		WHERE q.id = c.id
		RETURNING q.id, q.hotel_id, q.service_name, q.xml_body, q.current_request_id,
		          q.status, q.retries, q.last_error, q.created_at, q.processed_at
	`, models.QueueStatusProcessing, models.QueueStatusPending, models.QueueStatusFailed, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("claim queue entries: %w", err)
	}
	entries, err := collectQueueEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("claim queue entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *PGStore) MarkQueueEntryCompleted(ctx context.Context, id int64) error {
	return s.resolve(ctx, `UPDATE ota_sync_queue SET status = $1, processed_at = now() WHERE id = $2 AND status = $3`,
		models.QueueStatusCompleted, id, models.QueueStatusProcessing)
}

func (s *PGStore) MarkQueueEntryRetry(ctx context.Context, id int64, errMsg string) error {
	return s.resolve(ctx, `UPDATE ota_sync_queue SET status = $1, retries = retries + 1, last_error = $2, processed_at = now() WHERE id = $3 AND status = $4`,
		models.QueueStatusPending, errMsg, id, models.QueueStatusProcessing)
}

func (s *PGStore) MarkQueueEntryFailed(ctx context.Context, id int64, errMsg string) error {
	return s.resolve(ctx, `UPDATE ota_sync_queue SET status = $1, retries = retries + 1, last_error = $2, processed_at = now() WHERE id = $3 AND status = $4`,
		models.QueueStatusFailed, errMsg, id, models.QueueStatusProcessing)
}

func (s *PGStore) resolve(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (s *PGStore) ReclaimStaleQueueEntries(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE ota_sync_queue SET status = $1, retries = retries + 1, last_error = $2, processed_at = now()
		WHERE status = $3 AND processed_at < $4`,
		models.QueueStatusPending, StaleClaimError, models.QueueStatusProcessing, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale queue entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) RequeueQueueEntry(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE ota_sync_queue SET status = $1 WHERE id = $2 AND status = $3`,
		models.QueueStatusPending, id, models.QueueStatusFailed)
	if err != nil {
		return fmt.Errorf("requeue queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) GetQueueEntry(ctx context.Context, id int64) (*models.QueueEntry, error) {
	e, err := scanQueueEntry(s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM ota_sync_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

func (s *PGStore) ListQueueEntries(ctx context.Context, status string, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + queueColumns + ` FROM ota_sync_queue`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		q += ` ORDER BY created_at DESC, id DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	return collectQueueEntries(rows)
}

func (s *PGStore) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM ota_sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		stats.Add(status, count)
	}
	return stats, rows.Err()
}

func collectQueueEntries(rows pgx.Rows) ([]models.QueueEntry, error) {
	defer rows.Close()
	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PGStore) AppendChangeLog(ctx context.Context, entry *models.ChangeLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO change_log (id, table_name, action, hotel_id, before_data, after_data, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.TableName, entry.Action, entry.HotelID, nullableJSON(entry.Before), nullableJSON(entry.After), entry.LoggedAt)
	if err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

func (s *PGStore) GetChangeLogEntry(ctx context.Context, id string) (*models.ChangeLogEntry, error) {
	var e models.ChangeLogEntry
	var before, after []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, table_name, action, hotel_id, before_data, after_data, logged_at
		FROM change_log WHERE id = $1
	`, id).Scan(&e.ID, &e.TableName, &e.Action, &e.HotelID, &before, &after, &e.LoggedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get change log entry: %w", err)
	}
	e.Before, e.After = before, after
	return &e, nil
}

func (s *PGStore) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = models.AuditStatusRunning
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_audit_log (id, processed, succeeded, failed, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.Processed, entry.Succeeded, entry.Failed, entry.Status, entry.StartedAt)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func (s *PGStore) FinishAuditLog(ctx context.Context, entry *models.AuditLog) error {
	now := time.Now().UTC()
	entry.FinishedAt = &now
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_audit_log SET succeeded = $1, failed = $2, status = $3, finished_at = $4 WHERE id = $5
	`, entry.Succeeded, entry.Failed, entry.Status, entry.FinishedAt, entry.ID)
	if err != nil {
		return fmt.Errorf("finish audit log: %w", err)
	}
	return nil
}

func (s *PGStore) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, processed, succeeded, failed, status, started_at, finished_at
		FROM sync_audit_log ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Processed, &l.Succeeded, &l.Failed, &l.Status, &l.StartedAt, &l.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PGStore) InventoryByRange(ctx context.Context, hotelID int64, r models.DateRange) ([]models.InventoryDelta, error) {
	totals := make(map[string]int)
	rows, err := s.pool.Query(ctx, `
		SELECT room_type_group_code, COUNT(*)
		FROM rooms WHERE hotel_id = $1 AND for_sale
		GROUP BY room_type_group_code
	`, hotelID)
	if err != nil {
		return nil, fmt.Errorf("count rooms: %w", err)
	}
	for rows.Next() {
		var group string
		var count int
		if err := rows.Scan(&group, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan room count: %w", err)
		}
		totals[group] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	occupied := make(map[models.StockKey]int)
	rows, err = s.pool.Query(ctx, `
		SELECT r.room_type_group_code, to_char(d.date, 'YYYY-MM-DD'), COUNT(DISTINCT d.room_id)
		FROM reservation_details d
		JOIN rooms r ON r.id = d.room_id
		WHERE d.hotel_id = $1 AND d.date BETWEEN $2 AND $3 AND d.status <> $4
		GROUP BY r.room_type_group_code, d.date
	`, hotelID, r.Start, r.End, DetailStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("count occupied rooms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var group, date string
		var count int
		if err := rows.Scan(&group, &date, &count); err != nil {
			return nil, fmt.Errorf("scan occupancy: %w", err)
		}
		if _, ok := totals[group]; !ok {
			totals[group] = 0
		}
		occupied[models.StockKey{Group: group, Date: date}] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return buildDeltas(totals, occupied, r), nil
}
