package models

import (
	"time"
)

// ProcessingStatus tracks where an uploaded file is in its lifecycle.
type ProcessingStatus string

const (
	ProcessingStatusUploaded   ProcessingStatus = "uploaded"
	ProcessingStatusSplitting  ProcessingStatus = "splitting"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusParsed     ProcessingStatus = "parsed"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// FileType distinguishes parent workbooks from the per-sheet files split
// out of them.
type FileType string

const (
	FileTypeExcel FileType = "excel"
	FileTypeSheet FileType = "sheet"
	FileTypeCSV   FileType = "csv"
)

// FileUpload is the stored record for an uploaded file or a sheet split
// from a parent workbook. Sheet files reference their parent via ParentID.
type FileUpload struct {
	FileID           string           `json:"file_id" badgerhold:"key"`
	OriginalFilename string           `json:"original_filename"`
	StoredFilename   string           `json:"stored_filename"`
	FileType         FileType         `json:"file_type"`
	FilePath         string           `json:"file_path"`
	ParentID         string           `json:"parent_id,omitempty"`
	SheetName        string           `json:"sheet_name,omitempty"`
	Status           ProcessingStatus `json:"status"`
	FileSize         int64            `json:"file_size"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	ErrorMessage     string           `json:"error_message,omitempty"`
}

// SheetInfo summarizes one worksheet of an uploaded workbook.
type SheetInfo struct {
	SheetName   string `json:"sheet_name"`
	RowCount    int    `json:"row_count"`
	ColumnCount int    `json:"column_count"`
	FileID      string `json:"file_id"`
}
