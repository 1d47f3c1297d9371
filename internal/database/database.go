package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrNotClaimed = errors.New("queue entry is not in processing state")
)

// StaleClaimError is recorded on rows whose claim expired without an outcome.
const StaleClaimError = "claim expired before the outcome was recorded"

// DB is the SQLite-backed store holding the sync queue, change log, audit log and room inventory.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer connection keeps claims serialised and lets ":memory:" share a single database.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ota_sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            hotel_id INTEGER NOT NULL,
            service_name TEXT NOT NULL,
            xml_body TEXT NOT NULL,
            current_request_id TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retries INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS change_log (
            id TEXT PRIMARY KEY,
            table_name TEXT NOT NULL,
            action TEXT NOT NULL,
            hotel_id INTEGER NOT NULL,
            before_data TEXT,
            after_data TEXT,
            logged_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_audit_log (
            id TEXT PRIMARY KEY,
            processed INTEGER NOT NULL,
            succeeded INTEGER NOT NULL DEFAULT 0,
            failed INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            started_at DATETIME NOT NULL,
            finished_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS rooms (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            hotel_id INTEGER NOT NULL,
            room_number TEXT NOT NULL,
            room_type_group_code TEXT NOT NULL,
            for_sale BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS reservation_details (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            hotel_id INTEGER NOT NULL,
            reservation_id INTEGER NOT NULL,
            room_id INTEGER NOT NULL,
            date TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'confirmed'
        )`,

		`CREATE INDEX IF NOT EXISTS idx_ota_sync_queue_status ON ota_sync_queue(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_change_log_logged_at ON change_log(logged_at)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_hotel ON rooms(hotel_id, room_type_group_code)`,
		`CREATE INDEX IF NOT EXISTS idx_reservation_details_hotel_date ON reservation_details(hotel_id, date)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
