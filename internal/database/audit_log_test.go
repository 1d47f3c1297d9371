package database

import (
	"context"
	"testing"
	"time"

	"hotelpms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	older := &models.AuditLog{ID: "a-1", Processed: 3, StartedAt: time.Now().Add(-time.Minute).UTC()}
	require.NoError(t, db.CreateAuditLog(ctx, older))
	assert.Equal(t, models.AuditStatusRunning, older.Status)

	older.Succeeded, older.Failed, older.Status = 2, 1, models.AuditStatusPartial
	require.NoError(t, db.FinishAuditLog(ctx, older))
	assert.NotNil(t, older.FinishedAt)

	newer := &models.AuditLog{ID: "a-2", Processed: 1}
	require.NoError(t, db.CreateAuditLog(ctx, newer))

	logs, err := db.ListAuditLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "a-2", logs[0].ID)
	assert.Nil(t, logs[0].FinishedAt)

	assert.Equal(t, "a-1", logs[1].ID)
	assert.Equal(t, 3, logs[1].Processed)
	assert.Equal(t, 2, logs[1].Succeeded)
	assert.Equal(t, 1, logs[1].Failed)
	assert.Equal(t, models.AuditStatusPartial, logs[1].Status)
	assert.NotNil(t, logs[1].FinishedAt)
}
