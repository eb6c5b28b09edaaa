package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/queue"
	"github.com/ternarybob/folio/internal/services/upload"
)

// minutesPerSheet drives the completion estimates returned at submission and
// while a job runs.
const minutesPerSheet = 1.5

// maxUploadBytes caps multipart uploads at 50 MB.
const maxUploadBytes = 50 << 20

// JobHandler serves the background job API: async submission, status and
// result polling, cancellation, listing and admin recovery.
type JobHandler struct {
	scheduler *queue.Scheduler
	recovery  *queue.RecoveryService
	jobs      interfaces.JobStorage
	uploadSvc *upload.Service
	validate  *validator.Validate
	logger    arbor.ILogger
}

// NewJobHandler creates a job API handler
func NewJobHandler(scheduler *queue.Scheduler, recovery *queue.RecoveryService, jobs interfaces.JobStorage, uploadSvc *upload.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		scheduler: scheduler,
		recovery:  recovery,
		jobs:      jobs,
		uploadSvc: uploadSvc,
		validate:  validator.New(),
		logger:    logger,
	}
}

// UploadExcelAsyncHandler accepts a multipart workbook upload and queues an
// excel_processing job for it. The response returns immediately with the
// job ID and polling URL; processing happens in the background.
//
// POST /jobs/upload-excel-async
// Form fields: file (required), parse_method, callback_url, user_id, priority
func (h *JobHandler) UploadExcelAsyncHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	record, sheets, err := h.uploadSvc.SaveUpload(r.Context(), header.Filename, file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := models.JobInput{
		Excel: &models.ExcelInput{
			FileID:      record.FileID,
			FilePath:    record.FilePath,
			SheetCount:  len(sheets),
			ParseMethod: r.FormValue("parse_method"),
		},
	}
	// Out-of-range or unparseable priority falls back to the default.
	priority, _ := strconv.Atoi(r.FormValue("priority"))

	opts := queue.CreateOptions{
		CallbackURL: r.FormValue("callback_url"),
		UserID:      r.FormValue("user_id"),
		Priority:    priority,
	}
	job, note, err := h.scheduler.CreateJob(r.Context(), models.JobTypeExcelProcessing, input, opts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	estimate := time.Now().Add(time.Duration(float64(len(sheets)) * minutesPerSheet * float64(time.Minute)))

	response := map[string]interface{}{
		"job_id":                    job.JobID,
		"status":                    string(job.Status),
		"message":                   fmt.Sprintf("Queued %d sheets for processing", len(sheets)),
		"estimated_completion_time": estimate.Format(time.RFC3339),
		"status_url":                fmt.Sprintf("/jobs/%s/status", job.JobID),
	}
	if job.CallbackURL != "" {
		response["webhook_url"] = job.CallbackURL
	}
	if note != "" {
		response["note"] = note
	}
	WriteJSON(w, http.StatusOK, response)
}

// etfFetchRequest is the body of POST /jobs/fetch-etf-holdings.
type etfFetchRequest struct {
	ISINs        []string `json:"isins" validate:"required,min=1,dive,min=6,max=12"`
	ForceRefresh bool     `json:"force_refresh"`
	CallbackURL  string   `json:"callback_url"`
	UserID       string   `json:"user_id"`
	Priority     int      `json:"priority" validate:"omitempty,min=1,max=10"`
}

// FetchETFHoldingsHandler queues an etf_holdings_fetch job.
//
// POST /jobs/fetch-etf-holdings
func (h *JobHandler) FetchETFHoldingsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req etfFetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	input := models.JobInput{
		ETF: &models.ETFInput{ISINs: req.ISINs, ForceRefresh: req.ForceRefresh},
	}
	opts := queue.CreateOptions{
		CallbackURL: req.CallbackURL,
		UserID:      req.UserID,
		Priority:    req.Priority,
	}
	job, note, err := h.scheduler.CreateJob(r.Context(), models.JobTypeETFHoldingsFetch, input, opts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]interface{}{
		"job_id":     job.JobID,
		"status":     string(job.Status),
		"message":    fmt.Sprintf("Queued %d ISINs for fetching", len(req.ISINs)),
		"status_url": fmt.Sprintf("/jobs/%s/status", job.JobID),
	}
	if note != "" {
		response["note"] = note
	}
	WriteJSON(w, http.StatusOK, response)
}

// StatusHandler returns a job's current status and progress.
//
// GET /jobs/{job_id}/status
func (h *JobHandler) StatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, jobID, err)
		return
	}

	response := map[string]interface{}{
		"job_id":   job.JobID,
		"job_type": string(job.JobType),
		"status":   string(job.Status),
		"progress": map[string]interface{}{
			"total_items":     job.Progress.TotalItems,
			"completed_items": job.Progress.CompletedItems,
			"failed_items":    job.Progress.FailedItems,
			"current_item":    job.Progress.CurrentItem,
			"percentage":      job.Progress.Percentage(),
		},
		"created_at": job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		response["started_at"] = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		response["completed_at"] = job.CompletedAt.Format(time.RFC3339)
	}
	if job.Status == models.JobStatusRunning {
		remaining := job.Progress.TotalItems - job.Progress.CompletedItems - job.Progress.FailedItems
		if remaining > 0 {
			response["estimated_remaining_time"] = fmt.Sprintf("%.1f minutes", float64(remaining)*minutesPerSheet)
		}
	}
	if job.Result != nil {
		response["result"] = job.Result
	}
	if job.ErrorMessage != "" {
		response["error_message"] = job.ErrorMessage
	}
	WriteJSON(w, http.StatusOK, response)
}

// ResultHandler returns the terminal outcome of a job, or an in-progress
// indicator with current progress.
//
// GET /jobs/{job_id}/result
func (h *JobHandler) ResultHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, jobID, err)
		return
	}

	switch job.Status {
	case models.JobStatusCompleted:
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": job.JobID,
			"status": string(job.Status),
			"result": job.Result,
		})
	case models.JobStatusFailed:
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":        job.JobID,
			"status":        string(job.Status),
			"error_message": job.ErrorMessage,
			"result":        job.Result,
		})
	case models.JobStatusCancelled:
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": job.JobID,
			"status": string(job.Status),
		})
	default:
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":  job.JobID,
			"status":  string(job.Status),
			"message": "job has not completed yet",
			"progress": map[string]interface{}{
				"total_items":     job.Progress.TotalItems,
				"completed_items": job.Progress.CompletedItems,
				"failed_items":    job.Progress.FailedItems,
				"percentage":      job.Progress.Percentage(),
			},
		})
	}
}

// CancelHandler cancels a pending or running job.
//
// DELETE /jobs/{job_id}
func (h *JobHandler) CancelHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	if err := h.scheduler.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeJobError(w, jobID, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(models.JobStatusCancelled),
	})
}

// ListJobsHandler returns jobs filtered by status and user, newest first.
//
// GET /jobs/?status=&user_id=&limit=
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	opts := &interfaces.JobListOptions{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  GetLimitParam(r, 50, 200),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = models.JobStatus(status)
	}

	jobs, err := h.jobs.ListJobs(r.Context(), opts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// StatsHandler returns job counts per status.
//
// GET /jobs/stats
func (h *JobHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	statuses := []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	}

	counts := make(map[string]int, len(statuses))
	total := 0
	for _, status := range statuses {
		count, err := h.jobs.CountJobsByStatus(r.Context(), status)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		counts[string(status)] = count
		total += count
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":     total,
		"by_status": counts,
		"in_flight": h.scheduler.RunningCount(),
	})
}

// RecoverStuckJobsHandler applies the configured recovery action to every
// job stuck in running status.
//
// POST /jobs/admin/recover-stuck-jobs
func (h *JobHandler) RecoverStuckJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	recovered, err := h.recovery.RecoverStuckJobs(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"recovered": recovered,
	})
}

// FixStuckJobHandler applies a recovery action to one running job.
//
// POST /jobs/admin/fix-stuck-job/{job_id}  body: {"action": "reset"|"fail"}
func (h *JobHandler) FixStuckJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	action := queue.RecoveryReset
	if r.Body != nil && r.ContentLength != 0 {
		var body struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if body.Action != "" {
			parsed, err := queue.ParseRecoveryAction(body.Action)
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			action = parsed
		}
	}

	if err := h.recovery.FixStuckJob(r.Context(), jobID, action); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeJobError(w, jobID, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"action": string(action),
	})
}

// RouteJobPath dispatches /jobs/{job_id}[/status|/result] and admin paths.
func (h *JobHandler) RouteJobPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	rest = strings.Trim(rest, "/")

	if rest == "" {
		h.ListJobsHandler(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	switch {
	case parts[0] == "admin" && len(parts) >= 2 && parts[1] == "recover-stuck-jobs":
		h.RecoverStuckJobsHandler(w, r)
	case parts[0] == "admin" && len(parts) == 3 && parts[1] == "fix-stuck-job":
		h.FixStuckJobHandler(w, r, parts[2])
	case len(parts) == 1:
		h.CancelHandler(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		h.StatusHandler(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "result":
		h.ResultHandler(w, r, parts[0])
	default:
		WriteError(w, http.StatusNotFound, "unknown jobs endpoint")
	}
}

func (h *JobHandler) writeJobError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}
	h.logger.Error().Err(err).Str("job_id", jobID).Msg("Job request failed")
	WriteError(w, http.StatusInternalServerError, err.Error())
}
