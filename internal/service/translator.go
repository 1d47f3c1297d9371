package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hotelpms/internal/database"
	"hotelpms/internal/domain"
	"hotelpms/internal/metrics"
	"hotelpms/internal/models"

	"github.com/rs/zerolog"
)

var ErrChangeNotFound = errors.New("change log entry not found")

// reservationRow holds the reservation columns that move inventory.
type reservationRow struct {
	HotelID       int64           `json:"hotel_id"`
	CheckIn       string          `json:"check_in"`
	CheckOut      string          `json:"check_out"`
	Status        string          `json:"status"`
	RoomID        json.RawMessage `json:"room_id"`
	NumberOfRooms json.RawMessage `json:"number_of_rooms"`
}

// detailRow holds the reservation detail columns that move inventory.
type detailRow struct {
	HotelID int64           `json:"hotel_id"`
	Date    string          `json:"date"`
	Status  string          `json:"status"`
	RoomID  json.RawMessage `json:"room_id"`
}

// SyncTranslator turns a logged reservation change into queued OTA stock adjustments.
type SyncTranslator struct {
	changes     domain.ChangeLogReader
	aggregator  domain.InventoryAggregator
	diff        domain.StockDiffer
	batcher     domain.EntryBuilder
	queue       domain.QueueStore
	serviceName string
	logger      *zerolog.Logger
}

func NewSyncTranslator(
	changes domain.ChangeLogReader,
	aggregator domain.InventoryAggregator,
	diff domain.StockDiffer,
	batcher domain.EntryBuilder,
	queue domain.QueueStore,
	serviceName string,
	logger *zerolog.Logger,
) *SyncTranslator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SyncTranslator{
		changes:     changes,
		aggregator:  aggregator,
		diff:        diff,
		batcher:     batcher,
		queue:       queue,
		serviceName: serviceName,
		logger:      logger,
	}
}

// OnChangeLogged enqueues stock adjustments for the change when the OTA disagrees with local inventory.
// Changes that do not touch inventory dates are ignored.
func (t *SyncTranslator) OnChangeLogged(ctx context.Context, logEntryID string) error {
	entry, err := t.changes.GetChangeLogEntry(ctx, logEntryID)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrChangeNotFound, logEntryID)
	}
	if err != nil {
		return fmt.Errorf("load change %s: %w", logEntryID, err)
	}

	hotelID, r, ok := ResolveScope(entry)
	if !ok {
		t.logger.Debug().Str("change_id", logEntryID).Str("table", entry.TableName).Msg("change does not affect inventory")
		return nil
	}

	log := t.logger.With().Str("change_id", logEntryID).Int64("hotel_id", hotelID).Str("range", r.String()).Logger()

	needed, err := t.diff.NeedsSync(ctx, hotelID, r)
	if err != nil {
		return fmt.Errorf("diff change %s: %w", logEntryID, err)
	}
	if !needed {
		log.Debug().Msg("ota stock already matches")
		return nil
	}

	deltas, err := t.aggregator.InventoryByRange(ctx, hotelID, r)
	if err != nil {
		return fmt.Errorf("aggregate change %s: %w", logEntryID, err)
	}

	entries, err := t.batcher.BuildEntries(hotelID, t.serviceName, deltas, logEntryID)
	if err != nil {
		return fmt.Errorf("build entries for change %s: %w", logEntryID, err)
	}
	if len(entries) == 0 {
		log.Debug().Msg("nothing current to sync")
		return nil
	}

	if err := t.queue.InsertQueueEntries(ctx, entries); err != nil {
		return fmt.Errorf("enqueue change %s: %w", logEntryID, err)
	}
	metrics.AddEnqueued(len(entries))
	log.Info().Int("entries", len(entries)).Msg("queued ota stock adjustment")
	return nil
}

// ResolveScope derives the hotel and the affected nights from a change log entry.
// It reports false when the change cannot move inventory.
func ResolveScope(entry *models.ChangeLogEntry) (int64, models.DateRange, bool) {
	switch entry.TableName {
	case models.TableReservations:
		return resolveReservation(entry)
	case models.TableReservationDetails:
		return resolveDetail(entry)
	default:
		return 0, models.DateRange{}, false
	}
}

func resolveReservation(entry *models.ChangeLogEntry) (int64, models.DateRange, bool) {
	before, hasBefore := decode[reservationRow](entry.Before)
	after, hasAfter := decode[reservationRow](entry.After)

	if entry.Action == models.ChangeActionUpdate && hasBefore && hasAfter {
		if before.CheckIn == after.CheckIn &&
			before.CheckOut == after.CheckOut &&
			before.Status == after.Status &&
			sameJSON(before.RoomID, after.RoomID) &&
			sameJSON(before.NumberOfRooms, after.NumberOfRooms) {
			return 0, models.DateRange{}, false
		}
	}

	var ranges []models.DateRange
	hotelID := entry.HotelID
	for _, row := range rowsFor(entry.Action, before, hasBefore, after, hasAfter) {
		if hotelID == 0 {
			hotelID = row.HotelID
		}
		if r, ok := stayRange(row.CheckIn, row.CheckOut); ok {
			ranges = append(ranges, r)
		}
	}
	return scope(hotelID, ranges)
}

func resolveDetail(entry *models.ChangeLogEntry) (int64, models.DateRange, bool) {
	before, hasBefore := decode[detailRow](entry.Before)
	after, hasAfter := decode[detailRow](entry.After)

	if entry.Action == models.ChangeActionUpdate && hasBefore && hasAfter {
		if before.Date == after.Date && before.Status == after.Status && sameJSON(before.RoomID, after.RoomID) {
			return 0, models.DateRange{}, false
		}
	}

	var ranges []models.DateRange
	hotelID := entry.HotelID
	for _, row := range rowsFor(entry.Action, before, hasBefore, after, hasAfter) {
		if hotelID == 0 {
			hotelID = row.HotelID
		}
		if d, err := models.ParseDay(row.Date); err == nil {
			ranges = append(ranges, models.NewDateRange(d, d))
		}
	}
	return scope(hotelID, ranges)
}

// rowsFor picks the images that describe affected inventory: the new row for inserts,
// the old row for deletes and both for updates.
func rowsFor[T any](action string, before T, hasBefore bool, after T, hasAfter bool) []T {
	var rows []T
	if hasBefore && action != models.ChangeActionInsert {
		rows = append(rows, before)
	}
	if hasAfter && action != models.ChangeActionDelete {
		rows = append(rows, after)
	}
	return rows
}

// stayRange covers the occupied nights: check-in through the night before check-out.
func stayRange(checkIn, checkOut string) (models.DateRange, bool) {
	in, err := models.ParseDay(checkIn)
	if err != nil {
		return models.DateRange{}, false
	}
	last := in
	if out, err := models.ParseDay(checkOut); err == nil && out.After(in) {
		last = out.Add(-24 * time.Hour)
	}
	return models.NewDateRange(in, last), true
}

func scope(hotelID int64, ranges []models.DateRange) (int64, models.DateRange, bool) {
	if hotelID == 0 || len(ranges) == 0 {
		return 0, models.DateRange{}, false
	}
	r := ranges[0]
	for _, o := range ranges[1:] {
		r = r.Union(o)
	}
	return hotelID, r, true
}

func decode[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

func sameJSON(a, b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
}
