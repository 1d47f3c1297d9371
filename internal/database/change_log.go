package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hotelpms/internal/models"

	"github.com/google/uuid"
)

// AppendChangeLog records a row-level reservation change. An empty ID is assigned a UUID.
func (db *DB) AppendChangeLog(ctx context.Context, entry *models.ChangeLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}

	query := `INSERT INTO change_log (id, table_name, action, hotel_id, before_data, after_data, logged_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		entry.ID,
		entry.TableName,
		entry.Action,
		entry.HotelID,
		nullableJSON(entry.Before),
		nullableJSON(entry.After),
		entry.LoggedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append change log: %w", err)
	}
	return nil
}

func (db *DB) GetChangeLogEntry(ctx context.Context, id string) (*models.ChangeLogEntry, error) {
	query := `SELECT id, table_name, action, hotel_id, before_data, after_data, logged_at FROM change_log WHERE id = ?`

	var e models.ChangeLogEntry
	var before, after sql.NullString
	err := db.QueryRowContext(ctx, query, id).Scan(&e.ID, &e.TableName, &e.Action, &e.HotelID, &before, &after, &e.LoggedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change log entry: %w", err)
	}
	if before.Valid {
		e.Before = []byte(before.String)
	}
	if after.Valid {
		e.After = []byte(after.String)
	}
	return &e, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
