package models

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Day truncates t to its calendar date in t's location and returns it at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses YYYY-MM-DD (or an RFC3339 timestamp) into a calendar date.
func ParseDay(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	if len(s) >= len(dateLayout) {
		if t, err := time.Parse(dateLayout, s[:len(dateLayout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange normalises both ends to calendar dates and orders them.
func NewDateRange(start, end time.Time) DateRange {
	s, e := Day(start), Day(end)
	if e.Before(s) {
		s, e = e, s
	}
	return DateRange{Start: s, End: e}
}

// Days returns every date in the range.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Union returns the smallest range covering r and o.
func (r DateRange) Union(o DateRange) DateRange {
	out := r
	if o.Start.Before(out.Start) {
		out.Start = o.Start
	}
	if o.End.After(out.End) {
		out.End = o.End
	}
	return out
}

func (r DateRange) String() string {
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

// InventoryDelta is the local sellable/occupied count for a room-type group on a date.
type InventoryDelta struct {
	Date              time.Time `json:"date"`
	RoomTypeGroupCode string    `json:"room_type_group_code"`
	TotalRooms        int       `json:"total_rooms"`
	OccupiedRooms     int       `json:"occupied_rooms"`
}

// Remaining is the count to publish; never negative.
func (d InventoryDelta) Remaining() int {
	if r := d.TotalRooms - d.OccupiedRooms; r > 0 {
		return r
	}
	return 0
}

// StockObservation is the remaining count currently published by the OTA.
type StockObservation struct {
	RoomTypeGroupCode string    `json:"room_type_group_code"`
	SaleDate          time.Time `json:"sale_date"`
	RemainingCount    int       `json:"remaining_count"`
}

// StockKey identifies a room-type group on a date.
type StockKey struct {
	Group string
	Date  string
}

func KeyOf(group string, date time.Time) StockKey {
	return StockKey{Group: group, Date: date.Format(dateLayout)}
}
