package database

import (
	"context"
	"fmt"
	"sort"

	"hotelpms/internal/models"
)

const (
	DetailStatusConfirmed = "confirmed"
	DetailStatusCancelled = "cancelled"
)

// Room is a physical room mapped to the OTA room-type group it is sold under.
type Room struct {
	ID                int64
	HotelID           int64
	RoomNumber        string
	RoomTypeGroupCode string
	ForSale           bool
}

// ReservationDetail is one occupied room-night.
type ReservationDetail struct {
	ID            int64
	HotelID       int64
	ReservationID int64
	RoomID        int64
	Date          string
	Status        string
}

func (db *DB) CreateRoom(ctx context.Context, room *Room) error {
	query := `INSERT INTO rooms (hotel_id, room_number, room_type_group_code, for_sale) VALUES (?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query, room.HotelID, room.RoomNumber, room.RoomTypeGroupCode, room.ForSale)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	room.ID = id
	return nil
}

func (db *DB) CreateReservationDetail(ctx context.Context, d *ReservationDetail) error {
	if d.Status == "" {
		d.Status = DetailStatusConfirmed
	}
	query := `INSERT INTO reservation_details (hotel_id, reservation_id, room_id, date, status) VALUES (?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query, d.HotelID, d.ReservationID, d.RoomID, d.Date, d.Status)
	if err != nil {
		return fmt.Errorf("failed to create reservation detail: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	d.ID = id
	return nil
}

func (db *DB) UpdateReservationDetailStatus(ctx context.Context, id int64, status string) error {
	_, err := db.ExecContext(ctx, `UPDATE reservation_details SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update reservation detail: %w", err)
	}
	return nil
}

// InventoryByRange returns one delta per room-type group and date in r:
// sellable rooms in the group and distinct rooms occupied that night.
func (db *DB) InventoryByRange(ctx context.Context, hotelID int64, r models.DateRange) ([]models.InventoryDelta, error) {
	totals := make(map[string]int)
	rows, err := db.QueryContext(ctx, `
        SELECT room_type_group_code, COUNT(*)
        FROM rooms
        WHERE hotel_id = ? AND for_sale = 1
        GROUP BY room_type_group_code`, hotelID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rooms: %w", err)
	}
	for rows.Next() {
		var group string
		var count int
		if err := rows.Scan(&group, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan room count: %w", err)
		}
		totals[group] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	occupied := make(map[models.StockKey]int)
	rows, err = db.QueryContext(ctx, `
        SELECT r.room_type_group_code, d.date, COUNT(DISTINCT d.room_id)
        FROM reservation_details d
        JOIN rooms r ON r.id = d.room_id
        WHERE d.hotel_id = ? AND d.date BETWEEN ? AND ? AND d.status != ?
        GROUP BY r.room_type_group_code, d.date`,
		hotelID, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), DetailStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to count occupied rooms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var group, date string
		var count int
		if err := rows.Scan(&group, &date, &count); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy: %w", err)
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

func buildDeltas(totals map[string]int, occupied map[models.StockKey]int, r models.DateRange) []models.InventoryDelta {
	groups := make([]string, 0, len(totals))
	for g := range totals {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var deltas []models.InventoryDelta
	for _, day := range r.Days() {
		for _, g := range groups {
			deltas = append(deltas, models.InventoryDelta{
				Date:              day,
				RoomTypeGroupCode: g,
				TotalRooms:        totals[g],
				OccupiedRooms:     occupied[models.KeyOf(g, day)],
			})
		}
	}
	return deltas
}
