package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

func setupTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	cfg := &common.BadgerConfig{
		Path:           t.TempDir(),
		ResetOnStartup: false,
	}
	db, err := NewBadgerDB(common.GetLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobStorage_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStorage(db, common.GetLogger())
	ctx := context.Background()

	job := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{
		Excel: &models.ExcelInput{FileID: "file_1", FilePath: "/tmp/a.xlsx", SheetCount: 3},
	})

	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 5, got.Priority)
	require.NotNil(t, got.Input.Excel)
	assert.Equal(t, "file_1", got.Input.Excel.FileID)
}

func TestJobStorage_CreateDuplicate(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStorage(db, common.GetLogger())
	ctx := context.Background()

	job := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	require.NoError(t, store.CreateJob(ctx, job))

	err := store.CreateJob(ctx, job)
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)
}

func TestJobStorage_GetNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStorage(db, common.GetLogger())

	_, err := store.GetJob(context.Background(), "job_missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestJobStorage_NextPendingOrder(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStorage(db, common.GetLogger())
	ctx := context.Background()

	// Same priority resolves by creation time, lower priority number wins
	// regardless of age.
	base := time.Now().Add(-time.Minute)

	jobA := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	jobA.Priority = 5
	jobA.CreatedAt = base

	jobB := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	jobB.Priority = 1
	jobB.CreatedAt = base.Add(10 * time.Second)

	jobC := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	jobC.Priority = 5
	jobC.CreatedAt = base.Add(20 * time.Second)

	for _, j := range []*models.BackgroundJob{jobA, jobB, jobC} {
		require.NoError(t, store.CreateJob(ctx, j))
	}

	expect := []string{jobB.JobID, jobA.JobID, jobC.JobID}
	for _, want := range expect {
		next, err := store.NextPending(ctx)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, want, next.JobID)

		next.MarkStarted()
		require.NoError(t, store.UpdateJob(ctx, next))
	}

	next, err := store.NextPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestJobStorage_ListJobsFiltered(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStorage(db, common.GetLogger())
	ctx := context.Background()

	done := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	done.UserID = "user-1"
	done.MarkStarted()
	done.MarkCompleted(&models.JobResult{})
	require.NoError(t, store.CreateJob(ctx, done))

	pending := models.NewBackgroundJob(common.NewJobID(), models.JobTypeETFHoldingsFetch, models.JobInput{})
	pending.UserID = "user-2"
	require.NoError(t, store.CreateJob(ctx, pending))

	jobs, err := store.ListJobs(ctx, &interfaces.JobListOptions{Status: models.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, done.JobID, jobs[0].JobID)

	jobs, err = store.ListJobs(ctx, &interfaces.JobListOptions{UserID: "user-2"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, pending.JobID, jobs[0].JobID)

	count, err := store.CountJobsByStatus(ctx, models.JobStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJobStorage_UpdateRefusesTerminalOverwrite(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStorage(db, common.GetLogger())
	ctx := context.Background()

	job := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	require.NoError(t, store.CreateJob(ctx, job))
	job.MarkStarted()
	require.NoError(t, store.UpdateJob(ctx, job))

	// The routine holds a stale running copy while a cancel is persisted.
	stale := *job

	cancelled, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	cancelled.MarkCancelled()
	require.NoError(t, store.UpdateJob(ctx, cancelled))

	// The stale write must not resurrect the job.
	stale.Progress.CompletedItems = 1
	err = store.UpdateJob(ctx, &stale)
	assert.ErrorIs(t, err, interfaces.ErrTerminalState)

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Zero(t, got.Progress.CompletedItems)

	// Writes that keep the terminal status are still allowed.
	cancelled.ErrorMessage = ""
	require.NoError(t, store.UpdateJob(ctx, cancelled))
}

func TestJobStorage_UpdatePersistsProgress(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStorage(db, common.GetLogger())
	ctx := context.Background()

	job := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	require.NoError(t, store.CreateJob(ctx, job))

	job.MarkStarted()
	job.Progress = models.JobProgress{TotalItems: 3, CompletedItems: 2, FailedItems: 1, CurrentItem: "Sheet3"}
	require.NoError(t, store.UpdateJob(ctx, job))

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 2, got.Progress.CompletedItems)
	assert.Equal(t, "Sheet3", got.Progress.CurrentItem)
	require.NotNil(t, got.StartedAt)
}
