package domain

import (
	"context"
	"time"

	"hotelpms/internal/models"
)

// QueueStore persists OTA submissions and moves them through their lifecycle.
type QueueStore interface {
	InsertQueueEntries(ctx context.Context, entries []*models.QueueEntry) error
	ClaimQueueEntries(ctx context.Context, limit, maxRetries int) ([]models.QueueEntry, error)
	MarkQueueEntryCompleted(ctx context.Context, id int64) error
	MarkQueueEntryRetry(ctx context.Context, id int64, errMsg string) error
	MarkQueueEntryFailed(ctx context.Context, id int64, errMsg string) error
	RequeueQueueEntry(ctx context.Context, id int64) error
	ReclaimStaleQueueEntries(ctx context.Context, claimedBefore time.Time) (int64, error)
	GetQueueEntry(ctx context.Context, id int64) (*models.QueueEntry, error)
	ListQueueEntries(ctx context.Context, status string, limit int) ([]models.QueueEntry, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	FinishAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error)
}

type ChangeLogReader interface {
	GetChangeLogEntry(ctx context.Context, id string) (*models.ChangeLogEntry, error)
}

type ChangeLogWriter interface {
	AppendChangeLog(ctx context.Context, entry *models.ChangeLogEntry) error
}

// InventoryAggregator reports local sellable and occupied counts per room-type group and date.
type InventoryAggregator interface {
	InventoryByRange(ctx context.Context, hotelID int64, r models.DateRange) ([]models.InventoryDelta, error)
}

// StockReader returns the remaining counts the OTA currently publishes.
type StockReader interface {
	QueryStock(ctx context.Context, hotelID int64, r models.DateRange) ([]models.StockObservation, error)
}

// StockWriter submits a rendered payload. Transport and remote errors are reported in the result.
type StockWriter interface {
	Submit(ctx context.Context, hotelID int64, serviceName string, payload []byte) models.SubmitResult
}

// TemplateStore renders a named payload template with the hotel's credentials injected.
type TemplateStore interface {
	Render(hotelID int64, name string, data any) ([]byte, error)
}

// StockDiffer reports whether the OTA's stock disagrees with local inventory for a range.
type StockDiffer interface {
	NeedsSync(ctx context.Context, hotelID int64, r models.DateRange) (bool, error)
}

// EntryBuilder renders inventory deltas into pending queue entries.
type EntryBuilder interface {
	BuildEntries(hotelID int64, serviceName string, deltas []models.InventoryDelta, seed string) ([]*models.QueueEntry, error)
}

// ChangeQueue carries change tasks from the write path to the translator.
type ChangeQueue interface {
	Enqueue(ctx context.Context, task models.ChangeTask) error
	// Dequeue blocks up to timeout; it returns nil without error when nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*models.ChangeTask, error)
	Len(ctx context.Context) (int64, error)
}

// DeadLetterSink keeps queue entries that exhausted their retries.
type DeadLetterSink interface {
	Push(ctx context.Context, entry models.QueueEntry) error
	List(ctx context.Context, limit int64) ([]models.QueueEntry, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
