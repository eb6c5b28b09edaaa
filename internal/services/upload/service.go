package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/xuri/excelize/v2"
)

// Service stores uploaded workbooks on disk and splits them into one file
// per sheet so each sheet can be parsed, retried and cleaned up on its own.
type Service struct {
	config  *common.FilesystemConfig
	uploads interfaces.UploadStorage
	events  interfaces.EventLogger
	logger  arbor.ILogger
}

// NewService creates an upload service and ensures the storage directories
// exist.
func NewService(config *common.FilesystemConfig, uploads interfaces.UploadStorage, events interfaces.EventLogger, logger arbor.ILogger) (*Service, error) {
	for _, dir := range []string{config.Uploads, config.Sheets} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Service{
		config:  config,
		uploads: uploads,
		events:  events,
		logger:  logger,
	}, nil
}

// SaveUpload writes the uploaded workbook to disk, validates it opens as a
// spreadsheet, and records it. Returns the record and its sheet names.
func (s *Service) SaveUpload(ctx context.Context, originalFilename string, r io.Reader) (*models.FileUpload, []string, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	switch ext {
	case ".xlsx", ".xlsm", ".xls":
	default:
		return nil, nil, fmt.Errorf("unsupported file type %q: expected an Excel workbook", ext)
	}

	fileID := common.NewFileID()
	storedFilename := fileID + ext
	filePath := filepath.Join(s.config.Uploads, storedFilename)

	size, err := writeFile(filePath, r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store upload: %w", err)
	}

	sheets, err := listSheets(filePath)
	if err != nil {
		os.Remove(filePath)
		return nil, nil, fmt.Errorf("uploaded file is not a readable workbook: %w", err)
	}
	if len(sheets) == 0 {
		os.Remove(filePath)
		return nil, nil, fmt.Errorf("workbook contains no sheets")
	}

	now := time.Now()
	record := &models.FileUpload{
		FileID:           fileID,
		OriginalFilename: originalFilename,
		StoredFilename:   storedFilename,
		FileType:         models.FileTypeExcel,
		FilePath:         filePath,
		Status:           models.ProcessingStatusUploaded,
		FileSize:         size,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.uploads.CreateFileUpload(ctx, record); err != nil {
		os.Remove(filePath)
		return nil, nil, err
	}

	s.events.Emit(ctx, models.EventUploadReceived, "success", interfaces.EventFields{
		FileID:  fileID,
		Message: fmt.Sprintf("Received %s (%d sheets, %d bytes)", originalFilename, len(sheets), size),
		Metadata: map[string]interface{}{
			"sheet_count": len(sheets),
			"file_size":   size,
		},
	})

	s.logger.Info().
		Str("file_id", fileID).
		Str("filename", originalFilename).
		Int("sheets", len(sheets)).
		Msg("Workbook uploaded")

	return record, sheets, nil
}

// SplitWorkbook writes each sheet of the parent workbook into its own
// single-sheet file and records the children. Re-splitting an already split
// parent returns the existing children.
func (s *Service) SplitWorkbook(ctx context.Context, parentID string) ([]*models.FileUpload, error) {
	parent, err := s.uploads.GetFileUpload(ctx, parentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.uploads.GetFilesByParentID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	parent.Status = models.ProcessingStatusSplitting
	if err := s.uploads.UpdateFileUpload(ctx, parent); err != nil {
		return nil, err
	}

	wb, err := excelize.OpenFile(parent.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", parent.FilePath, err)
	}
	defer wb.Close()

	var children []*models.FileUpload
	for _, sheetName := range wb.GetSheetList() {
		child, err := s.writeSheetFile(ctx, wb, parent, sheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to split sheet %q: %w", sheetName, err)
		}
		children = append(children, child)
	}

	parent.Status = models.ProcessingStatusProcessing
	if err := s.uploads.UpdateFileUpload(ctx, parent); err != nil {
		return nil, err
	}

	s.events.Emit(ctx, models.EventExcelSplit, "success", interfaces.EventFields{
		FileID:  parentID,
		Message: fmt.Sprintf("Split into %d sheet files", len(children)),
	})

	s.logger.Info().
		Str("file_id", parentID).
		Int("sheets", len(children)).
		Msg("Workbook split into sheet files")

	return children, nil
}

func (s *Service) writeSheetFile(ctx context.Context, wb *excelize.File, parent *models.FileUpload, sheetName string) (*models.FileUpload, error) {
	rows, err := wb.GetRows(sheetName)
	if err != nil {
		return nil, err
	}

	sheetID := common.NewSheetID()
	storedFilename := sheetID + ".xlsx"
	filePath := filepath.Join(s.config.Sheets, storedFilename)

	out := excelize.NewFile()
	defer out.Close()

	// NewFile starts with "Sheet1", rename it to keep the original name.
	if sheetName != "Sheet1" {
		if err := out.SetSheetName("Sheet1", sheetName); err != nil {
			return nil, err
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := out.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, err
		}
	}
	if err := out.SaveAs(filePath); err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	child := &models.FileUpload{
		FileID:           sheetID,
		OriginalFilename: parent.OriginalFilename,
		StoredFilename:   storedFilename,
		FileType:         models.FileTypeSheet,
		FilePath:         filePath,
		ParentID:         parent.FileID,
		SheetName:        sheetName,
		Status:           models.ProcessingStatusUploaded,
		FileSize:         info.Size(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.uploads.CreateFileUpload(ctx, child); err != nil {
		os.Remove(filePath)
		return nil, err
	}
	return child, nil
}

// ReadSheetRows loads the cell grid of a single-sheet file.
func ReadSheetRows(path string) (string, [][]string, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open sheet file %s: %w", path, err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("sheet file %s has no sheets", path)
	}

	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return "", nil, fmt.Errorf("failed to read rows from %s: %w", path, err)
	}
	return sheets[0], rows, nil
}

func listSheets(path string) ([]string, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()
	return wb.GetSheetList(), nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}
