package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/events"
	badgerstore "github.com/ternarybob/folio/internal/storage/badger"
)

func setupRecovery(t *testing.T, action RecoveryAction) (*RecoveryService, interfaces.JobStorage) {
	t.Helper()

	logger := common.GetLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	jobs := badgerstore.NewJobStorage(db, logger)
	eventLogger := events.NewLogger(badgerstore.NewEventStorage(db, logger), nil, logger)
	return NewRecoveryService(jobs, eventLogger, action, logger), jobs
}

// stuckJob creates a running job started before the recovery service's
// process-start cutoff, like a job stranded by a previous run.
func stuckJob(t *testing.T, jobs interfaces.JobStorage, ctx context.Context) *models.BackgroundJob {
	t.Helper()
	job := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	job.MarkStarted()
	started := time.Now().Add(-time.Hour)
	job.StartedAt = &started
	job.Progress = models.JobProgress{TotalItems: 4, CompletedItems: 2}
	require.NoError(t, jobs.CreateJob(ctx, job))
	return job
}

func TestRecoverStuckJobs_Reset(t *testing.T) {
	svc, jobs := setupRecovery(t, RecoveryReset)
	ctx := context.Background()

	stuck := stuckJob(t, jobs, ctx)

	done := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	done.MarkStarted()
	done.MarkCompleted(&models.JobResult{})
	require.NoError(t, jobs.CreateJob(ctx, done))

	count, err := svc.RecoverStuckJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := jobs.GetJob(ctx, stuck.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, models.JobProgress{}, got.Progress)

	// Terminal jobs are untouched.
	got, err = jobs.GetJob(ctx, done.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestRecoverStuckJobs_Fail(t *testing.T) {
	svc, jobs := setupRecovery(t, RecoveryFail)
	ctx := context.Background()

	stuck := stuckJob(t, jobs, ctx)

	count, err := svc.RecoverStuckJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := jobs.GetJob(ctx, stuck.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "interrupted")
}

func TestRecoverStuckJobs_SkipsLiveJobs(t *testing.T) {
	svc, jobs := setupRecovery(t, RecoveryReset)
	ctx := context.Background()

	stranded := stuckJob(t, jobs, ctx)

	// Started after the recovery service came up: a routine in this process
	// is still working on it.
	live := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	live.MarkStarted()
	started := time.Now().Add(time.Hour)
	live.StartedAt = &started
	live.Progress = models.JobProgress{TotalItems: 3, CompletedItems: 1}
	require.NoError(t, jobs.CreateJob(ctx, live))

	count, err := svc.RecoverStuckJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := jobs.GetJob(ctx, stranded.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)

	got, err = jobs.GetJob(ctx, live.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 1, got.Progress.CompletedItems)
}

func TestRecoverStuckJobs_NothingToDo(t *testing.T) {
	svc, _ := setupRecovery(t, RecoveryReset)

	count, err := svc.RecoverStuckJobs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFixStuckJob(t *testing.T) {
	svc, jobs := setupRecovery(t, RecoveryReset)
	ctx := context.Background()

	stuck := stuckJob(t, jobs, ctx)
	require.NoError(t, svc.FixStuckJob(ctx, stuck.JobID, RecoveryFail))

	got, err := jobs.GetJob(ctx, stuck.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)

	// Only running jobs can be fixed.
	err = svc.FixStuckJob(ctx, stuck.JobID, RecoveryReset)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestParseRecoveryAction(t *testing.T) {
	action, err := ParseRecoveryAction("reset")
	require.NoError(t, err)
	assert.Equal(t, RecoveryReset, action)

	action, err = ParseRecoveryAction("FAIL")
	require.NoError(t, err)
	assert.Equal(t, RecoveryFail, action)

	_, err = ParseRecoveryAction("retry")
	assert.Error(t, err)
}
