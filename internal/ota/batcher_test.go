package ota

import (
	"strings"
	"testing"
	"time"

	"hotelpms/internal/config"
	"hotelpms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatcher(t *testing.T, now time.Time) *Batcher {
	t.Helper()
	store, err := NewFileTemplateStore("", testCreds)
	require.NoError(t, err)
	b := NewBatcher(store, config.SyncConfig{
		ChunkSize:        30,
		ChunkMaxEntries:  1000,
		ChunkMaxSpanDays: 30,
		Timezone:         "Asia/Tokyo",
	}, nil)
	b.WithClock(func() time.Time { return now })
	return b
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func deltasOver(start time.Time, days, perDay int) []models.InventoryDelta {
	var out []models.InventoryDelta
	for i := 0; i < days*perDay; i++ {
		out = append(out, models.InventoryDelta{
			Date:              start.AddDate(0, 0, i%days),
			RoomTypeGroupCode: "G" + string(rune('A'+i%26)),
			TotalRooms:        10,
			OccupiedRooms:     i % 12,
		})
	}
	return out
}

func targets(body string) int {
	return strings.Count(body, "<adjustmentTarget>")
}

var morning = time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

func TestBuildEntries_SingleChunkScenario(t *testing.T) {
	b := newTestBatcher(t, morning)

	entries, err := b.BuildEntries(25, "stock_adjustment", []models.InventoryDelta{
		{Date: date(2026, 2, 3), RoomTypeGroupCode: "TWN", TotalRooms: 9, OccupiedRooms: 9},
	}, "chg-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, int64(25), e.HotelID)
	assert.Equal(t, "stock_adjustment", e.ServiceName)
	assert.Equal(t, models.QueueStatusPending, e.Status)
	assert.Equal(t, 0, e.Retries)
	assert.Equal(t, RequestID("chg-1", 0), e.CurrentRequestID)
	assert.LessOrEqual(t, len(e.CurrentRequestID), RequestIDLength)
	assert.Equal(t, 1, targets(e.XMLBody))
	assert.Contains(t, e.XMLBody, "<roomTypeGroupCode>TWN</roomTypeGroupCode>")
	assert.Contains(t, e.XMLBody, "<saleDate>20260203</saleDate>")
	assert.Contains(t, e.XMLBody, "<remainingCount>0</remainingCount>")
	assert.Contains(t, e.XMLBody, "<salesStatus>"+SalesStatusNoChange+"</salesStatus>")
}

func TestBuildEntries_ZeroConfigUsesDefaults(t *testing.T) {
	store, err := NewFileTemplateStore("", testCreds)
	require.NoError(t, err)
	b := NewBatcher(store, config.SyncConfig{}, nil)
	b.WithClock(func() time.Time { return morning })

	entries, err := b.BuildEntries(25, "stock_adjustment", deltasOver(date(2026, 2, 3), 2, 1), "chg-zero")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, targets(entries[0].XMLBody))
}

func TestBuildEntries_ClampsNegative(t *testing.T) {
	b := newTestBatcher(t, morning)

	entries, err := b.BuildEntries(25, "stock_adjustment", []models.InventoryDelta{
		{Date: date(2026, 2, 4), RoomTypeGroupCode: "SGL", TotalRooms: 2, OccupiedRooms: 5},
	}, "chg-2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].XMLBody, "<remainingCount>0</remainingCount>")
	assert.NotContains(t, entries[0].XMLBody, "<remainingCount>-")
}

func TestBuildEntries_ChunkByCount(t *testing.T) {
	b := newTestBatcher(t, morning)

	deltas := deltasOver(date(2026, 2, 3), 5, 200)
	deltas = append(deltas, models.InventoryDelta{Date: date(2026, 2, 5), RoomTypeGroupCode: "X", TotalRooms: 1})
	require.Len(t, deltas, 1001)

	entries, err := b.BuildEntries(25, "stock_adjustment", deltas, "chg-3")
	require.NoError(t, err)
	require.Len(t, entries, 34)

	total := 0
	ids := make(map[string]bool)
	for _, e := range entries {
		n := targets(e.XMLBody)
		assert.LessOrEqual(t, n, 30)
		total += n
		ids[e.CurrentRequestID] = true
	}
	assert.Equal(t, 1001, total)
	assert.Len(t, ids, 34)
	assert.Equal(t, 11, targets(entries[33].XMLBody))
}

func TestBuildEntries_ChunkBySpan(t *testing.T) {
	b := newTestBatcher(t, morning)

	var deltas []models.InventoryDelta
	for i := 0; i < 10; i++ {
		deltas = append(deltas, models.InventoryDelta{Date: date(2026, 2, 3).AddDate(0, 0, i*5), RoomTypeGroupCode: "TWN", TotalRooms: 3})
	}

	b.chunkSize = 4
	entries, err := b.BuildEntries(25, "stock_adjustment", deltas, "chg-4")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 4, targets(entries[0].XMLBody))
	assert.Equal(t, 2, targets(entries[2].XMLBody))
	// Chunks keep the original order.
	assert.Contains(t, entries[0].XMLBody, "<saleDate>20260203</saleDate>")
	assert.Contains(t, entries[2].XMLBody, "<saleDate>20260320</saleDate>")
}

func TestBuildEntries_ExactlyThirtyDaysStaysSingle(t *testing.T) {
	b := newTestBatcher(t, morning)

	deltas := []models.InventoryDelta{
		{Date: date(2026, 2, 3), RoomTypeGroupCode: "TWN", TotalRooms: 3},
		{Date: date(2026, 3, 5), RoomTypeGroupCode: "TWN", TotalRooms: 3},
	}
	entries, err := b.BuildEntries(25, "stock_adjustment", deltas, "chg-5")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuildEntries_DropsPastDates(t *testing.T) {
	// 2026-02-03 00:30 in Tokyo is still 2026-02-02 in UTC.
	now := time.Date(2026, 2, 2, 15, 30, 0, 0, time.UTC)
	b := newTestBatcher(t, now)

	deltas := []models.InventoryDelta{
		{Date: date(2026, 2, 2), RoomTypeGroupCode: "TWN", TotalRooms: 3},
		{Date: date(2026, 2, 3), RoomTypeGroupCode: "TWN", TotalRooms: 3},
	}
	entries, err := b.BuildEntries(25, "stock_adjustment", deltas, "chg-6")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].XMLBody, "20260202")
	assert.Equal(t, 1, targets(entries[0].XMLBody))

	entries, err = b.BuildEntries(25, "stock_adjustment", deltas[:1], "chg-7")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildEntries_RenderError(t *testing.T) {
	b := newTestBatcher(t, morning)
	_, err := b.BuildEntries(404, "stock_adjustment", []models.InventoryDelta{
		{Date: date(2026, 2, 3), RoomTypeGroupCode: "TWN", TotalRooms: 3},
	}, "chg-8")
	assert.ErrorIs(t, err, ErrUnknownHotel)
}
