package models

import (
	"encoding/json"
	"time"
)

const (
	ChangeActionInsert = "INSERT"
	ChangeActionUpdate = "UPDATE"
	ChangeActionDelete = "DELETE"
)

const (
	TableReservations       = "reservations"
	TableReservationDetails = "reservation_details"
)

// ChangeLogEntry is a row-level change captured on reservation tables.
type ChangeLogEntry struct {
	ID        string          `json:"id"`
	TableName string          `json:"table_name"`
	Action    string          `json:"action"`
	HotelID   int64           `json:"hotel_id"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	LoggedAt  time.Time       `json:"logged_at"`
}

// ChangeTask asks the translator to process one change log entry.
type ChangeTask struct {
	LogEntryID string    `json:"log_entry_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
