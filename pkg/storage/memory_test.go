package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refreshd/pkg/models"
	"refreshd/pkg/storage"
)

func TestMemoryRunStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryRunStore(10)

	run := &models.Run{Trigger: models.TriggerWebhook, Status: models.RunRunning, StartedAt: time.Now()}
	require.NoError(t, store.CreateRun(ctx, run))
	require.NotEqual(t, uuid.Nil, run.ID)

	assert.ErrorIs(t, store.CreateRun(ctx, run), storage.ErrConflict)

	done := run.StartedAt.Add(3 * time.Second)
	require.NoError(t, store.CompleteRun(ctx, run.ID, models.RunSuccess, "", "", "/logs/a.log", done))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, got.Status)
	assert.Equal(t, "/logs/a.log", got.LogURI)
	assert.Equal(t, 3*time.Second, got.Duration())
}

func TestMemoryRunStore_UnknownRun(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryRunStore(10)

	_, err := store.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.CompleteRun(ctx, uuid.New(), models.RunFailed, "", "", "", time.Now()), storage.ErrNotFound)
}

func TestMemoryRunStore_ListNewestFirstAndBounded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryRunStore(3)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		run := &models.Run{Trigger: models.TriggerSchedule, StartedAt: time.Now()}
		require.NoError(t, store.CreateRun(ctx, run))
		ids = append(ids, run.ID)
	}

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[4], runs[0].ID)
	assert.Equal(t, ids[2], runs[2].ID)

	runs, err = store.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[4], runs[0].ID)

	_, err = store.GetRun(ctx, ids[0])
	assert.ErrorIs(t, err, storage.ErrNotFound, "oldest run should be evicted")
}
