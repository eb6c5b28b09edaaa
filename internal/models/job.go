package models

import (
	"time"
)

// JobStatus represents the state of a background job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true for statuses that permit no further transition.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobType selects which processing routine the scheduler dispatches to.
type JobType string

const (
	JobTypeExcelProcessing  JobType = "excel_processing"
	JobTypeETFHoldingsFetch JobType = "etf_holdings_fetch"
)

// JobProgress tracks job execution progress. Mutated only by the owning
// job's processing routine while the job is running.
type JobProgress struct {
	TotalItems     int    `json:"total_items"`
	CompletedItems int    `json:"completed_items"`
	FailedItems    int    `json:"failed_items"`
	CurrentItem    string `json:"current_item,omitempty"`
}

// Percentage returns completion as completed/total*100, 0 when total is 0.
func (p JobProgress) Percentage() float64 {
	if p.TotalItems == 0 {
		return 0.0
	}
	return float64(p.CompletedItems) / float64(p.TotalItems) * 100.0
}

// ExcelInput is the input payload for excel_processing jobs.
type ExcelInput struct {
	FileID      string `json:"file_id"`
	FilePath    string `json:"file_path"`
	SheetCount  int    `json:"sheet_count"`
	ParseMethod string `json:"parse_method"`
}

// ETFInput is the input payload for etf_holdings_fetch jobs.
type ETFInput struct {
	ISINs        []string `json:"isins"`
	ForceRefresh bool     `json:"force_refresh"`
}

// JobInput is a tagged union of per-type input payloads, discriminated by
// JobType. Exactly one branch is set, matching the job's type.
type JobInput struct {
	JobType JobType     `json:"job_type"`
	Excel   *ExcelInput `json:"excel,omitempty"`
	ETF     *ETFInput   `json:"etf,omitempty"`
}

// SheetOutcome records the result of processing one sheet.
type SheetOutcome struct {
	SheetID     string `json:"sheet_id"`
	SheetName   string `json:"sheet_name"`
	PortfolioID string `json:"portfolio_id,omitempty"`
	Status      string `json:"status"` // "success" or "failed"
	Error       string `json:"error,omitempty"`
}

// DeletedFlags reports which storage tiers an artifact was removed from.
type DeletedFlags struct {
	Disk bool `json:"disk"`
	DB   bool `json:"db"`
}

// ExcelResult is the result payload for excel_processing jobs.
type ExcelResult struct {
	TotalSheets      int            `json:"total_sheets"`
	SuccessfulSheets int            `json:"successful_sheets"`
	FailedSheets     int            `json:"failed_sheets"`
	Results          []SheetOutcome `json:"results"`
	MainFileID       string         `json:"main_file_id"`
	ParentDeleted    *DeletedFlags  `json:"parent_deleted,omitempty"`
}

// ETFResult is the result payload for etf_holdings_fetch jobs.
type ETFResult struct {
	Requested int      `json:"requested"`
	Fetched   int      `json:"fetched"`
	Cached    int      `json:"cached"`
	Failed    []string `json:"failed,omitempty"`
}

// JobResult is a tagged union of per-type result payloads, discriminated by
// JobType.
type JobResult struct {
	JobType JobType      `json:"job_type"`
	Excel   *ExcelResult `json:"excel,omitempty"`
	ETF     *ETFResult   `json:"etf,omitempty"`
}

// BackgroundJob is one unit of asynchronous work tracked through a
// status/progress/result record. Exactly one document exists per JobID.
//
// Invariants:
//   - Progress.CompletedItems + Progress.FailedItems <= Progress.TotalItems
//   - Result is non-nil iff Status == completed
//   - ErrorMessage is non-empty iff Status == failed
type BackgroundJob struct {
	JobID   string    `json:"job_id" badgerhold:"key"`
	JobType JobType   `json:"job_type"`
	Status  JobStatus `json:"status"`

	// Input is immutable after creation.
	Input JobInput `json:"input"`

	Progress JobProgress `json:"progress"`

	Result       *JobResult `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Webhook target; validated at creation, never stored when invalid.
	CallbackURL     string            `json:"callback_url,omitempty"`
	CallbackHeaders map[string]string `json:"callback_headers,omitempty"`

	UserID string `json:"user_id,omitempty"`
	// Priority breaks ties in dequeue ordering (1 = highest, 10 = lowest).
	Priority int `json:"priority"`
}

// NewBackgroundJob creates a pending job with zeroed progress.
func NewBackgroundJob(jobID string, jobType JobType, input JobInput) *BackgroundJob {
	input.JobType = jobType
	return &BackgroundJob{
		JobID:     jobID,
		JobType:   jobType,
		Status:    JobStatusPending,
		Input:     input,
		Progress:  JobProgress{},
		CreatedAt: time.Now(),
		Priority:  5,
	}
}

// MarkStarted transitions the job to running.
func (j *BackgroundJob) MarkStarted() {
	j.Status = JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
}

// MarkCompleted transitions the job to completed with its result payload.
func (j *BackgroundJob) MarkCompleted(result *JobResult) {
	j.Status = JobStatusCompleted
	j.Result = result
	now := time.Now()
	j.CompletedAt = &now
}

// MarkFailed transitions the job to failed with an error message.
func (j *BackgroundJob) MarkFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errorMsg
	now := time.Now()
	j.CompletedAt = &now
}

// MarkCancelled transitions the job to cancelled.
func (j *BackgroundJob) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := time.Now()
	j.CompletedAt = &now
}

// IsTerminal returns true if the job is in a terminal state.
func (j *BackgroundJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}
