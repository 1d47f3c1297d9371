package models

import "time"

const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

// QueueEntry is one persisted OTA submission in ota_sync_queue.
type QueueEntry struct {
	ID               int64      `json:"id"`
	HotelID          int64      `json:"hotel_id"`
	ServiceName      string     `json:"service_name"`
	XMLBody          string     `json:"xml_body"`
	CurrentRequestID string     `json:"current_request_id"`
	Status           string     `json:"status"`
	Retries          int        `json:"retries"`
	LastError        *string    `json:"last_error"`
	CreatedAt        time.Time  `json:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at"`
}

// Eligible reports whether the dispatcher may claim the entry.
func (e *QueueEntry) Eligible(maxRetries int) bool {
	switch e.Status {
	case QueueStatusPending:
		return true
	case QueueStatusFailed:
		return e.Retries < maxRetries
	default:
		return false
	}
}

// QueueStats holds per-status row counts.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func (s *QueueStats) Add(status string, n int64) {
	switch status {
	case QueueStatusPending:
		s.Pending += n
	case QueueStatusProcessing:
		s.Processing += n
	case QueueStatusCompleted:
		s.Completed += n
	case QueueStatusFailed:
		s.Failed += n
	}
}

// SubmitResult is the outcome of one call to the remote stock writer.
type SubmitResult struct {
	Success bool
	Error   string
}

// AuditLog summarises one dispatcher cycle that claimed at least one row.
type AuditLog struct {
	ID         string     `json:"id"`
	Processed  int        `json:"processed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

const (
	AuditStatusRunning   = "running"
	AuditStatusSucceeded = "succeeded"
	AuditStatusPartial   = "partial"
	AuditStatusFailed    = "failed"
)
