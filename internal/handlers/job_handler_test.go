package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/queue"
	"github.com/ternarybob/folio/internal/services/events"
	"github.com/ternarybob/folio/internal/services/upload"
	badgerstore "github.com/ternarybob/folio/internal/storage/badger"
	"github.com/xuri/excelize/v2"
)

type handlerFixture struct {
	handler *JobHandler
	jobs    interfaces.JobStorage
}

func setupHandler(t *testing.T) (*handlerFixture, context.Context) {
	t.Helper()

	logger := common.GetLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	jobs := badgerstore.NewJobStorage(db, logger)
	uploads := badgerstore.NewUploadStorage(db, logger)
	eventLogger := events.NewLogger(badgerstore.NewEventStorage(db, logger), nil, logger)
	notifier := queue.NewNotifier(time.Second, eventLogger, logger)

	cfg := common.DefaultConfig()
	sched, err := queue.NewScheduler(cfg, jobs, eventLogger, notifier, logger)
	require.NoError(t, err)

	recovery := queue.NewRecoveryService(jobs, eventLogger, queue.RecoveryReset, logger)

	fsCfg := &common.FilesystemConfig{
		Uploads: filepath.Join(t.TempDir(), "uploads"),
		Sheets:  filepath.Join(t.TempDir(), "sheets"),
	}
	uploadSvc, err := upload.NewService(fsCfg, uploads, eventLogger, logger)
	require.NoError(t, err)

	return &handlerFixture{
		handler: NewJobHandler(sched, recovery, jobs, uploadSvc, logger),
		jobs:    jobs,
	}, context.Background()
}

func multipartUpload(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	wb := excelize.NewFile()
	defer wb.Close()
	require.NoError(t, wb.SetSheetName("Sheet1", "Fund A"))
	require.NoError(t, wb.SetSheetRow("Fund A", "A1", &[]string{"Name", "Mkt Value"}))
	require.NoError(t, wb.SetSheetRow("Fund A", "A2", &[]string{"Infosys", "100"}))
	var fileBuf bytes.Buffer
	require.NoError(t, wb.Write(&fileBuf))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "fund.xlsx")
	require.NoError(t, err)
	_, err = part.Write(fileBuf.Bytes())
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestUploadExcelAsync(t *testing.T) {
	fx, ctx := setupHandler(t)

	body, contentType := multipartUpload(t, map[string]string{
		"parse_method": "manual",
		"callback_url": "https://example.com/hook",
		"user_id":      "user-1",
		"priority":     "2",
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs/upload-excel-async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	fx.handler.UploadExcelAsyncHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	jobID, _ := resp["job_id"].(string)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, "pending", resp["status"])
	assert.NotEmpty(t, resp["estimated_completion_time"])
	assert.Equal(t, "/jobs/"+jobID+"/status", resp["status_url"])
	assert.Equal(t, "https://example.com/hook", resp["webhook_url"])
	assert.Nil(t, resp["note"])

	job, err := fx.jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeExcelProcessing, job.JobType)
	require.NotNil(t, job.Input.Excel)
	assert.Equal(t, 1, job.Input.Excel.SheetCount)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, 2, job.Priority)
}

func TestUploadExcelAsync_InvalidCallbackNote(t *testing.T) {
	fx, _ := setupHandler(t)

	body, contentType := multipartUpload(t, map[string]string{
		"callback_url": "ftp://example.com/hook",
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs/upload-excel-async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	fx.handler.UploadExcelAsyncHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.NotEmpty(t, resp["note"])
	assert.Nil(t, resp["webhook_url"])
}

func TestUploadExcelAsync_MissingFile(t *testing.T) {
	fx, _ := setupHandler(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("parse_method", "manual"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs/upload-excel-async", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()

	fx.handler.UploadExcelAsyncHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusHandler(t *testing.T) {
	fx, ctx := setupHandler(t)

	job := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	job.MarkStarted()
	job.Progress = models.JobProgress{TotalItems: 4, CompletedItems: 1, FailedItems: 1, CurrentItem: "Fund C"}
	require.NoError(t, fx.jobs.CreateJob(ctx, job))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.JobID+"/status", nil)
	rec := httptest.NewRecorder()
	fx.handler.RouteJobPath(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, "running", resp["status"])
	progress := resp["progress"].(map[string]interface{})
	assert.Equal(t, 4.0, progress["total_items"])
	assert.Equal(t, 25.0, progress["percentage"])
	assert.Equal(t, "3.0 minutes", resp["estimated_remaining_time"])
}

func TestStatusHandler_NotFound(t *testing.T) {
	fx, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job_missing/status", nil)
	rec := httptest.NewRecorder()
	fx.handler.RouteJobPath(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultHandler_States(t *testing.T) {
	fx, ctx := setupHandler(t)

	completed := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	completed.MarkStarted()
	completed.MarkCompleted(&models.JobResult{
		JobType: models.JobTypeExcelProcessing,
		Excel:   &models.ExcelResult{TotalSheets: 1, SuccessfulSheets: 1},
	})
	require.NoError(t, fx.jobs.CreateJob(ctx, completed))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+completed.JobID+"/result", nil)
	rec := httptest.NewRecorder()
	fx.handler.RouteJobPath(rec, req)
	resp := decodeJSON(t, rec)
	assert.Equal(t, "completed", resp["status"])
	assert.NotNil(t, resp["result"])

	running := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	running.MarkStarted()
	require.NoError(t, fx.jobs.CreateJob(ctx, running))

	req = httptest.NewRequest(http.MethodGet, "/jobs/"+running.JobID+"/result", nil)
	rec = httptest.NewRecorder()
	fx.handler.RouteJobPath(rec, req)
	resp = decodeJSON(t, rec)
	assert.Equal(t, "running", resp["status"])
	assert.NotNil(t, resp["progress"])
	assert.Nil(t, resp["result"])
}

func TestCancelHandler(t *testing.T) {
	fx, ctx := setupHandler(t)

	job := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	require.NoError(t, fx.jobs.CreateJob(ctx, job))

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+job.JobID, nil)
	rec := httptest.NewRecorder()
	fx.handler.RouteJobPath(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Second cancel hits a terminal job.
	req = httptest.NewRequest(http.MethodDelete, "/jobs/"+job.JobID, nil)
	rec = httptest.NewRecorder()
	fx.handler.RouteJobPath(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchETFHoldingsHandler_Validation(t *testing.T) {
	fx, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/fetch-etf-holdings", strings.NewReader(`{"isins":[]}`))
	rec := httptest.NewRecorder()
	fx.handler.FetchETFHoldingsHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/jobs/fetch-etf-holdings", strings.NewReader(`{"isins":["IE00B4L5Y983"],"force_refresh":true}`))
	rec = httptest.NewRecorder()
	fx.handler.FetchETFHoldingsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.NotEmpty(t, resp["job_id"])
}

func TestRecoverStuckJobsHandler(t *testing.T) {
	fx, ctx := setupHandler(t)

	stuck := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	stuck.MarkStarted()
	// Stranded by a previous run, so it predates the sweep's cutoff.
	started := time.Now().Add(-time.Hour)
	stuck.StartedAt = &started
	require.NoError(t, fx.jobs.CreateJob(ctx, stuck))

	req := httptest.NewRequest(http.MethodPost, "/jobs/admin/recover-stuck-jobs", nil)
	rec := httptest.NewRecorder()
	fx.handler.RouteJobPath(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, 1.0, resp["recovered"])

	got, err := fx.jobs.GetJob(ctx, stuck.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
}

func TestFixStuckJobHandler_Fail(t *testing.T) {
	fx, ctx := setupHandler(t)

	stuck := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
	stuck.MarkStarted()
	require.NoError(t, fx.jobs.CreateJob(ctx, stuck))

	req := httptest.NewRequest(http.MethodPost, "/jobs/admin/fix-stuck-job/"+stuck.JobID, strings.NewReader(`{"action":"fail"}`))
	rec := httptest.NewRecorder()
	fx.handler.RouteJobPath(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := fx.jobs.GetJob(ctx, stuck.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestListJobsHandler(t *testing.T) {
	fx, ctx := setupHandler(t)

	for i := 0; i < 3; i++ {
		job := models.NewBackgroundJob(common.NewJobID(), models.JobTypeExcelProcessing, models.JobInput{})
		require.NoError(t, fx.jobs.CreateJob(ctx, job))
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/?status=pending&limit=2", nil)
	rec := httptest.NewRecorder()
	fx.handler.RouteJobPath(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, 2.0, resp["count"])
}
