package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewFileID generates a unique file upload ID with the "file_" prefix
func NewFileID() string {
	return "file_" + uuid.New().String()
}

// NewSheetID generates a unique sheet file ID with the "sheet_" prefix
func NewSheetID() string {
	return "sheet_" + uuid.New().String()
}

// NewPortfolioID generates a unique portfolio ID with the "pf_" prefix
func NewPortfolioID() string {
	return "pf_" + uuid.New().String()
}

// NewEventID generates a unique event ID with the "evt_" prefix
func NewEventID() string {
	return "evt_" + uuid.New().String()
}
