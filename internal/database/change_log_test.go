package database

import (
	"context"
	"encoding/json"
	"testing"

	"hotelpms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeLogRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entry := &models.ChangeLogEntry{
		TableName: models.TableReservations,
		Action:    models.ChangeActionUpdate,
		HotelID:   25,
		Before:    json.RawMessage(`{"check_in":"2026-02-03","check_out":"2026-02-05"}`),
		After:     json.RawMessage(`{"check_in":"2026-02-03","check_out":"2026-02-06"}`),
	}
	require.NoError(t, db.AppendChangeLog(ctx, entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.LoggedAt.IsZero())

	got, err := db.GetChangeLogEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableReservations, got.TableName)
	assert.Equal(t, int64(25), got.HotelID)
	assert.JSONEq(t, string(entry.Before), string(got.Before))
	assert.JSONEq(t, string(entry.After), string(got.After))
}

func TestChangeLogInsertWithoutBefore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entry := &models.ChangeLogEntry{
		ID:        "chg-1",
		TableName: models.TableReservationDetails,
		Action:    models.ChangeActionInsert,
		HotelID:   3,
		After:     json.RawMessage(`{"date":"2026-02-03"}`),
	}
	require.NoError(t, db.AppendChangeLog(ctx, entry))

	got, err := db.GetChangeLogEntry(ctx, "chg-1")
	require.NoError(t, err)
	assert.Nil(t, got.Before)
	assert.NotNil(t, got.After)
}

func TestGetChangeLogEntry_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.GetChangeLogEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
