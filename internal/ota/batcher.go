package ota

import (
	"fmt"
	"time"

	"hotelpms/internal/config"
	"hotelpms/internal/domain"
	"hotelpms/internal/models"

	"github.com/rs/zerolog"
)

// SalesStatusNoChange leaves the OTA's sale/stop-sale flag untouched.
const SalesStatusNoChange = "0"

const saleDateLayout = "20060102"

// AdjustmentTarget is one <adjustmentTarget> block of a stock adjustment payload.
type AdjustmentTarget struct {
	RoomTypeGroupCode string
	SaleDate          string
	RemainingCount    int
	SalesStatus       string
}

// AdjustmentRequest is the template data for one chunk.
type AdjustmentRequest struct {
	RequestID string
	Targets   []AdjustmentTarget
}

// Batcher turns inventory deltas into rendered, persisted-ready queue entries.
type Batcher struct {
	templates  domain.TemplateStore
	chunkSize  int
	maxEntries int
	maxSpan    time.Duration
	location   *time.Location
	now        func() time.Time
	logger     *zerolog.Logger
}

func NewBatcher(templates domain.TemplateStore, cfg config.SyncConfig, logger *zerolog.Logger) *Batcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 30
	}
	maxEntries := cfg.ChunkMaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	maxSpanDays := cfg.ChunkMaxSpanDays
	if maxSpanDays <= 0 {
		maxSpanDays = 30
	}
	return &Batcher{
		templates:  templates,
		chunkSize:  chunkSize,
		maxEntries: maxEntries,
		maxSpan:    time.Duration(maxSpanDays) * 24 * time.Hour,
		location:   cfg.Location(),
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock replaces the clock used to decide what "today" is.
func (b *Batcher) WithClock(now func() time.Time) *Batcher {
	b.now = now
	return b
}

// BuildEntries drops past-dated deltas and renders the rest into one entry per chunk.
// Deltas are chunked only when there are more than maxEntries of them or they span more than maxSpan.
func (b *Batcher) BuildEntries(hotelID int64, serviceName string, deltas []models.InventoryDelta, seed string) ([]*models.QueueEntry, error) {
	today := models.Day(b.now().In(b.location))

	current := make([]models.InventoryDelta, 0, len(deltas))
	for _, d := range deltas {
		if d.Date.Before(today) {
			continue
		}
		current = append(current, d)
	}
	if len(current) == 0 {
		return nil, nil
	}

	minDate, maxDate := current[0].Date, current[0].Date
	for _, d := range current[1:] {
		if d.Date.Before(minDate) {
			minDate = d.Date
		}
		if d.Date.After(maxDate) {
			maxDate = d.Date
		}
	}

	chunks := [][]models.InventoryDelta{current}
	if len(current) > b.maxEntries || maxDate.Sub(minDate) > b.maxSpan {
		chunks = chunk(current, b.chunkSize)
	}

	entries := make([]*models.QueueEntry, 0, len(chunks))
	for i, c := range chunks {
		req := AdjustmentRequest{RequestID: RequestID(seed, i), Targets: make([]AdjustmentTarget, len(c))}
		for j, d := range c {
			req.Targets[j] = AdjustmentTarget{
				RoomTypeGroupCode: d.RoomTypeGroupCode,
				SaleDate:          d.Date.Format(saleDateLayout),
				RemainingCount:    d.Remaining(),
				SalesStatus:       SalesStatusNoChange,
			}
		}

		body, err := b.templates.Render(hotelID, serviceName, req)
		if err != nil {
			return nil, fmt.Errorf("render chunk %d: %w", i, err)
		}
		entries = append(entries, &models.QueueEntry{
			HotelID:          hotelID,
			ServiceName:      serviceName,
			XMLBody:          string(body),
			CurrentRequestID: req.RequestID,
			Status:           models.QueueStatusPending,
		})
	}

	b.logger.Debug().
		Int64("hotel_id", hotelID).
		Int("deltas", len(current)).
		Int("dropped_past", len(deltas)-len(current)).
		Int("chunks", len(entries)).
		Msg("built queue entries")
	return entries, nil
}

func chunk(deltas []models.InventoryDelta, size int) [][]models.InventoryDelta {
	var out [][]models.InventoryDelta
	for start := 0; start < len(deltas); start += size {
		end := start + size
		if end > len(deltas) {
			end = len(deltas)
		}
		out = append(out, deltas[start:end])
	}
	return out
}
