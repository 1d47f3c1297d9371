package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"hotelpms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntries(hotelID int64, n int) []*models.QueueEntry {
	entries := make([]*models.QueueEntry, n)
	for i := range entries {
		entries[i] = &models.QueueEntry{
			HotelID:          hotelID,
			ServiceName:      "stock_adjustment",
			XMLBody:          fmt.Sprintf("<request n=\"%d\"/>", i),
			CurrentRequestID: fmt.Sprintf("req%05d", i),
		}
	}
	return entries
}

func TestInsertQueueEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entries := newEntries(25, 2)
	entries[0].Status = models.QueueStatusFailed
	entries[0].Retries = 4
	require.NoError(t, db.InsertQueueEntries(ctx, entries))

	for _, e := range entries {
		assert.NotZero(t, e.ID)
		assert.Equal(t, models.QueueStatusPending, e.Status)
		assert.Equal(t, 0, e.Retries)

		stored, err := db.GetQueueEntry(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(25), stored.HotelID)
		assert.Equal(t, e.XMLBody, stored.XMLBody)
		assert.Equal(t, models.QueueStatusPending, stored.Status)
		assert.Nil(t, stored.LastError)
		assert.Nil(t, stored.ProcessedAt)
	}

	require.NoError(t, db.InsertQueueEntries(ctx, nil))
}

func TestGetQueueEntry_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.GetQueueEntry(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimQueueEntries_OrderAndLimit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.InsertQueueEntries(ctx, newEntries(int64(i+1), 1)))
	}

	claimed, err := db.ClaimQueueEntries(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, e := range claimed {
		assert.Equal(t, int64(i+1), e.HotelID)
		assert.Equal(t, models.QueueStatusProcessing, e.Status)
		assert.NotNil(t, e.ProcessedAt)
	}

	rest, err := db.ClaimQueueEntries(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, int64(4), rest[0].HotelID)

	none, err := db.ClaimQueueEntries(ctx, 3, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResolveQueueEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertQueueEntries(ctx, newEntries(1, 3)))
	claimed, err := db.ClaimQueueEntries(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	require.NoError(t, db.MarkQueueEntryCompleted(ctx, claimed[0].ID))
	require.NoError(t, db.MarkQueueEntryRetry(ctx, claimed[1].ID, "timeout"))
	require.NoError(t, db.MarkQueueEntryFailed(ctx, claimed[2].ID, "rejected"))

	done, err := db.GetQueueEntry(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCompleted, done.Status)
	assert.Equal(t, 0, done.Retries)

	retry, err := db.GetQueueEntry(ctx, claimed[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, retry.Status)
	assert.Equal(t, 1, retry.Retries)
	require.NotNil(t, retry.LastError)
	assert.Equal(t, "timeout", *retry.LastError)

	failed, err := db.GetQueueEntry(ctx, claimed[2].ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Retries)

	// Only rows in processing can be resolved.
	assert.ErrorIs(t, db.MarkQueueEntryCompleted(ctx, claimed[0].ID), ErrNotClaimed)
	assert.ErrorIs(t, db.MarkQueueEntryRetry(ctx, claimed[1].ID, "again"), ErrNotClaimed)
	assert.ErrorIs(t, db.MarkQueueEntryFailed(ctx, 999, "missing"), ErrNotClaimed)
}

func TestClaimQueueEntries_Eligibility(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	const maxRetries = 2

	require.NoError(t, db.InsertQueueEntries(ctx, newEntries(7, 1)))
	id := func() int64 {
		claimed, err := db.ClaimQueueEntries(ctx, 1, maxRetries)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		return claimed[0].ID
	}

	// A failed row with retries below the ceiling is claimable again.
	first := id()
	require.NoError(t, db.MarkQueueEntryFailed(ctx, first, "boom"))
	second := id()
	assert.Equal(t, first, second)
	require.NoError(t, db.MarkQueueEntryFailed(ctx, second, "boom"))

	// retries == maxRetries: terminal.
	claimed, err := db.ClaimQueueEntries(ctx, 1, maxRetries)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	e, err := db.GetQueueEntry(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Retries)
	assert.False(t, e.Eligible(maxRetries))
}

func TestClaimQueueEntries_SkipsCompletedAndProcessing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertQueueEntries(ctx, newEntries(1, 2)))
	claimed, err := db.ClaimQueueEntries(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, db.MarkQueueEntryCompleted(ctx, claimed[0].ID))

	claimed, err = db.ClaimQueueEntries(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// The remaining row is processing and the other is completed.
	claimed, err = db.ClaimQueueEntries(ctx, 5, 5)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestReclaimStaleQueueEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertQueueEntries(ctx, newEntries(1, 3)))
	claimed, err := db.ClaimQueueEntries(ctx, 2, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.NoError(t, db.MarkQueueEntryCompleted(ctx, claimed[1].ID))

	n, err := db.ReclaimStaleQueueEntries(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "fresh claims are left alone")

	n, err = db.ReclaimStaleQueueEntries(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the unresolved processing row is reclaimed")

	e, err := db.GetQueueEntry(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, e.Status)
	assert.Equal(t, 1, e.Retries)
	require.NotNil(t, e.LastError)
	assert.Equal(t, StaleClaimError, *e.LastError)

	done, err := db.GetQueueEntry(ctx, claimed[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCompleted, done.Status)

	// The late outcome of the expired claim is rejected.
	assert.ErrorIs(t, db.MarkQueueEntryCompleted(ctx, claimed[0].ID), ErrNotClaimed)

	again, err := db.ClaimQueueEntries(ctx, 5, 5)
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestRequeueQueueEntry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertQueueEntries(ctx, newEntries(1, 1)))
	claimed, err := db.ClaimQueueEntries(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	id := claimed[0].ID

	// Still processing: nothing to requeue.
	assert.ErrorIs(t, db.RequeueQueueEntry(ctx, id), ErrNotFound)

	require.NoError(t, db.MarkQueueEntryFailed(ctx, id, "rejected"))
	require.NoError(t, db.RequeueQueueEntry(ctx, id))

	e, err := db.GetQueueEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, e.Status)
	assert.Equal(t, 1, e.Retries, "retries are kept on requeue")

	claimed, err = db.ClaimQueueEntries(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestListQueueEntriesAndStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertQueueEntries(ctx, newEntries(1, 4)))
	claimed, err := db.ClaimQueueEntries(ctx, 2, 5)
	require.NoError(t, err)
	require.NoError(t, db.MarkQueueEntryCompleted(ctx, claimed[0].ID))

	all, err := db.ListQueueEntries(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Greater(t, all[0].ID, all[3].ID, "newest first")

	pending, err := db.ListQueueEntries(ctx, models.QueueStatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := db.ListQueueEntries(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err := db.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{Pending: 2, Processing: 1, Completed: 1}, *stats)
}
