package queue

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/events"
	"github.com/ternarybob/folio/internal/services/processing"
	"github.com/ternarybob/folio/internal/services/upload"
	badgerstore "github.com/ternarybob/folio/internal/storage/badger"
	"github.com/xuri/excelize/v2"
)

type excelFixture struct {
	routine   *ExcelRoutine
	jobs      interfaces.JobStorage
	uploads   interfaces.UploadStorage
	uploadSvc *upload.Service
	events    interfaces.EventLogger
}

func setupExcelFixture(t *testing.T) (*excelFixture, context.Context) {
	t.Helper()

	logger := common.GetLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	jobs := badgerstore.NewJobStorage(db, logger)
	uploads := badgerstore.NewUploadStorage(db, logger)
	portfolios := badgerstore.NewPortfolioStorage(db, logger)
	eventLogger := events.NewLogger(badgerstore.NewEventStorage(db, logger), nil, logger)

	fsCfg := &common.FilesystemConfig{
		Uploads: filepath.Join(t.TempDir(), "uploads"),
		Sheets:  filepath.Join(t.TempDir(), "sheets"),
	}
	uploadSvc, err := upload.NewService(fsCfg, uploads, eventLogger, logger)
	require.NoError(t, err)

	processor, err := processing.NewSheetProcessor(&common.LLMConfig{DefaultParseMethod: "manual"}, uploads, portfolios, eventLogger, logger)
	require.NoError(t, err)

	routine := NewExcelRoutine(jobs, uploads, uploadSvc, processor, eventLogger, logger)
	return &excelFixture{
		routine:   routine,
		jobs:      jobs,
		uploads:   uploads,
		uploadSvc: uploadSvc,
		events:    eventLogger,
	}, context.Background()
}

// uploadWorkbook builds and uploads a workbook whose sheet order follows
// the given names.
func uploadWorkbook(t *testing.T, fx *excelFixture, ctx context.Context, names []string, sheets map[string][][]string) *models.FileUpload {
	t.Helper()

	wb := excelize.NewFile()
	defer wb.Close()
	for i, name := range names {
		if i == 0 {
			require.NoError(t, wb.SetSheetName("Sheet1", name))
		} else {
			_, err := wb.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, wb.SetSheetRow(name, cell, &row))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))

	record, _, err := fx.uploadSvc.SaveUpload(ctx, "funds.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	return record
}

func goodSheet(name string) [][]string {
	return [][]string{
		{"Security Name", "Market Value", "% of NAV"},
		{name + " Holding A", "100000", "5.0"},
		{name + " Holding B", "200000", "10.0"},
	}
}

func badSheet() [][]string {
	return [][]string{
		{"nothing", "recognizable"},
		{"at", "all"},
	}
}

func startJob(t *testing.T, fx *excelFixture, ctx context.Context, fileID string) *models.BackgroundJob {
	t.Helper()
	job := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{
		Excel: &models.ExcelInput{FileID: fileID, ParseMethod: "manual"},
	})
	require.NoError(t, fx.jobs.CreateJob(ctx, job))
	job.MarkStarted()
	require.NoError(t, fx.jobs.UpdateJob(ctx, job))
	return job
}

func TestExcelRoutine_PartialFailureCompletes(t *testing.T) {
	fx, ctx := setupExcelFixture(t)

	parent := uploadWorkbook(t, fx, ctx, []string{"Fund A", "Junk", "Fund C"}, map[string][][]string{
		"Fund A": goodSheet("A"),
		"Junk":   badSheet(),
		"Fund C": goodSheet("C"),
	})
	job := startJob(t, fx, ctx, parent.FileID)

	require.NoError(t, fx.routine.Process(ctx, job))

	final, err := fx.jobs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.Progress.TotalItems)
	assert.Equal(t, 2, final.Progress.CompletedItems)
	assert.Equal(t, 1, final.Progress.FailedItems)

	require.NotNil(t, final.Result)
	require.NotNil(t, final.Result.Excel)
	res := final.Result.Excel
	assert.Equal(t, 3, res.TotalSheets)
	assert.Equal(t, 2, res.SuccessfulSheets)
	assert.Equal(t, 1, res.FailedSheets)
	require.Len(t, res.Results, 3)
	assert.Equal(t, "failed", res.Results[1].Status)
	assert.NotEmpty(t, res.Results[1].Error)

	// Parent survives on disk because one sheet failed.
	assert.Nil(t, res.ParentDeleted)
	assert.FileExists(t, parent.FilePath)
}

func TestExcelRoutine_CleanRunDeletesParent(t *testing.T) {
	fx, ctx := setupExcelFixture(t)

	parent := uploadWorkbook(t, fx, ctx, []string{"Fund A", "Fund B"}, map[string][][]string{
		"Fund A": goodSheet("A"),
		"Fund B": goodSheet("B"),
	})
	job := startJob(t, fx, ctx, parent.FileID)

	require.NoError(t, fx.routine.Process(ctx, job))

	final, err := fx.jobs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)

	res := final.Result.Excel
	require.NotNil(t, res.ParentDeleted)
	assert.True(t, res.ParentDeleted.Disk)
	assert.NoFileExists(t, parent.FilePath)

	// The upload record outlives the disk file.
	record, err := fx.uploads.GetFileUpload(ctx, parent.FileID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingStatusCompleted, record.Status)
}

func TestExcelRoutine_AllSheetsFailedFailsJob(t *testing.T) {
	fx, ctx := setupExcelFixture(t)

	parent := uploadWorkbook(t, fx, ctx, []string{"Junk1", "Junk2"}, map[string][][]string{
		"Junk1": badSheet(),
		"Junk2": badSheet(),
	})
	job := startJob(t, fx, ctx, parent.FileID)

	require.NoError(t, fx.routine.Process(ctx, job))

	final, err := fx.jobs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "all 2 sheets failed")
	assert.Contains(t, final.ErrorMessage, "Junk1")
	assert.Contains(t, final.ErrorMessage, "Junk2")

	// Result is reserved for completed jobs.
	assert.Nil(t, final.Result)
	assert.Equal(t, 2, final.Progress.FailedItems)
}

func TestExcelRoutine_CancelledJobStopsBeforeNextSheet(t *testing.T) {
	fx, ctx := setupExcelFixture(t)

	parent := uploadWorkbook(t, fx, ctx, []string{"Fund A", "Fund B"}, map[string][][]string{
		"Fund A": goodSheet("A"),
		"Fund B": goodSheet("B"),
	})
	job := startJob(t, fx, ctx, parent.FileID)

	// Cancel lands before the routine reaches its first checkpoint.
	job.MarkCancelled()
	require.NoError(t, fx.jobs.UpdateJob(ctx, job))

	require.NoError(t, fx.routine.Process(ctx, job))

	final, err := fx.jobs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Nil(t, final.Result)
}

// cancellingProcessor cancels the job through storage while its first sheet
// is being processed, like a DELETE arriving mid-sheet.
type cancellingProcessor struct {
	jobs  interfaces.JobStorage
	jobID string
	calls int
}

func (p *cancellingProcessor) Process(ctx context.Context, sheetID string, parseMethod string) (*interfaces.SheetProcessResult, error) {
	p.calls++
	if p.calls == 1 {
		job, err := p.jobs.GetJob(ctx, p.jobID)
		if err != nil {
			return nil, err
		}
		job.MarkCancelled()
		if err := p.jobs.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
	}
	return &interfaces.SheetProcessResult{PortfolioID: "pf_" + sheetID}, nil
}

func TestExcelRoutine_CancelDuringSheetIsNotLost(t *testing.T) {
	fx, ctx := setupExcelFixture(t)

	parent := uploadWorkbook(t, fx, ctx, []string{"Fund A", "Fund B", "Fund C"}, map[string][][]string{
		"Fund A": goodSheet("A"),
		"Fund B": goodSheet("B"),
		"Fund C": goodSheet("C"),
	})
	job := startJob(t, fx, ctx, parent.FileID)

	stub := &cancellingProcessor{jobs: fx.jobs, jobID: job.JobID}
	routine := NewExcelRoutine(fx.jobs, fx.uploads, fx.uploadSvc, stub, fx.events, common.GetLogger())

	require.NoError(t, routine.Process(ctx, job))

	// The routine's stale in-memory copy must not overwrite the cancel, and
	// no further sheet may start.
	assert.Equal(t, 1, stub.calls)

	final, err := fx.jobs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Nil(t, final.Result)
}

func TestExcelRoutine_ReprocessSkipsParsedSheets(t *testing.T) {
	fx, ctx := setupExcelFixture(t)

	parent := uploadWorkbook(t, fx, ctx, []string{"Fund A", "Fund B"}, map[string][][]string{
		"Fund A": goodSheet("A"),
		"Fund B": goodSheet("B"),
	})
	job := startJob(t, fx, ctx, parent.FileID)
	require.NoError(t, fx.routine.Process(ctx, job))

	// Simulate a recovery retry: the sheet files are gone from disk but
	// their records are parsed, so the rerun succeeds without touching disk.
	retry := startJob(t, fx, ctx, parent.FileID)
	require.NoError(t, fx.routine.Process(ctx, retry))

	final, err := fx.jobs.GetJob(ctx, retry.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.Result.Excel.SuccessfulSheets)
}
