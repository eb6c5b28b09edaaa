package models

import (
	"time"
)

// EventType identifies a lifecycle event recorded for observability.
type EventType string

const (
	EventJobCreated          EventType = "job_created"
	EventJobStatusChanged    EventType = "job_status_changed"
	EventUploadReceived      EventType = "upload_received"
	EventExcelSplit          EventType = "excel_split"
	EventSheetParseCompleted EventType = "sheet_parse_completed"
	EventPortfolioSaved      EventType = "portfolio_saved"
	EventSheetDeletedDisk    EventType = "sheet_deleted_from_disk"
	EventWebhookSent         EventType = "webhook_sent"
	EventWebhookSkipped      EventType = "webhook_skipped"
	EventWebhookFailed       EventType = "webhook_failed"
	EventJobsRecovered       EventType = "jobs_recovered"
)

// ProcessingEvent is an append-only observability record. Writing one must
// never affect the outcome of the workflow that emitted it.
type ProcessingEvent struct {
	EventID   string    `json:"event_id" badgerhold:"key"`
	EventType EventType `json:"event_type"`
	Status    string    `json:"status"` // success|failed|running|pending|info
	Timestamp time.Time `json:"timestamp"`

	// Correlation identifiers
	JobID       string `json:"job_id,omitempty"`
	FileID      string `json:"file_id,omitempty"`
	SheetID     string `json:"sheet_id,omitempty"`
	PortfolioID string `json:"portfolio_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
