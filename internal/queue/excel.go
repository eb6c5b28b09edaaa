package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/upload"
)

// ExcelRoutine processes excel_processing jobs: split the workbook, parse
// each sheet in order, and persist progress after every sheet so a restart
// or status poll always sees current counts. A sheet failure is recorded
// and processing continues; the job only fails when every sheet fails.
type ExcelRoutine struct {
	jobs      interfaces.JobStorage
	uploads   interfaces.UploadStorage
	uploadSvc *upload.Service
	processor interfaces.SheetProcessor
	events    interfaces.EventLogger
	logger    arbor.ILogger
}

// NewExcelRoutine creates the excel_processing routine
func NewExcelRoutine(jobs interfaces.JobStorage, uploads interfaces.UploadStorage, uploadSvc *upload.Service, processor interfaces.SheetProcessor, events interfaces.EventLogger, logger arbor.ILogger) *ExcelRoutine {
	return &ExcelRoutine{
		jobs:      jobs,
		uploads:   uploads,
		uploadSvc: uploadSvc,
		processor: processor,
		events:    events,
		logger:    logger,
	}
}

func (r *ExcelRoutine) Process(ctx context.Context, job *models.BackgroundJob) error {
	input := job.Input.Excel
	if input == nil {
		return fmt.Errorf("excel_processing job %s has no excel input", job.JobID)
	}

	sheets, err := r.uploadSvc.SplitWorkbook(ctx, input.FileID)
	if err != nil {
		return fmt.Errorf("failed to split workbook: %w", err)
	}

	job.Progress = models.JobProgress{TotalItems: len(sheets)}
	if stop, err := r.persist(ctx, job); stop || err != nil {
		return err
	}

	result := &models.ExcelResult{
		TotalSheets: len(sheets),
		MainFileID:  input.FileID,
	}

	for _, sheet := range sheets {
		// Cancellation checkpoint: stop before the next sheet, keep what
		// finished.
		cancelled, err := r.isCancelled(ctx, job.JobID)
		if err != nil {
			return err
		}
		if cancelled {
			r.logger.Info().
				Str("job_id", job.JobID).
				Int("completed", job.Progress.CompletedItems).
				Msg("Job cancelled, stopping sheet loop")
			return nil
		}

		job.Progress.CurrentItem = sheet.SheetName
		if stop, err := r.persist(ctx, job); stop || err != nil {
			return err
		}

		outcome := r.processSheet(ctx, sheet, input.ParseMethod)
		result.Results = append(result.Results, outcome)
		if outcome.Status == "success" {
			result.SuccessfulSheets++
			job.Progress.CompletedItems++
		} else {
			result.FailedSheets++
			job.Progress.FailedItems++
		}

		if stop, err := r.persist(ctx, job); stop || err != nil {
			return err
		}
	}

	job.Progress.CurrentItem = ""

	// Result stays nil on the failed path: result is only present on
	// completed jobs. The per-sheet detail lives in the error message and
	// the sheet_parse_completed events.
	if result.TotalSheets > 0 && result.SuccessfulSheets == 0 {
		names := make([]string, 0, len(result.Results))
		for _, outcome := range result.Results {
			names = append(names, outcome.SheetName)
		}
		job.MarkFailed(fmt.Sprintf("all %d sheets failed to parse: %s", result.TotalSheets, strings.Join(names, ", ")))
		_, err := r.persist(ctx, job)
		return err
	}

	// Parent workbook is only removed from disk after a clean run; the
	// upload record always survives.
	if result.FailedSheets == 0 {
		result.ParentDeleted = r.deleteParentFile(ctx, input.FileID)
	}

	job.MarkCompleted(&models.JobResult{JobType: models.JobTypeExcelProcessing, Excel: result})
	_, err = r.persist(ctx, job)
	return err
}

// persist writes the job document, yielding when another writer already put
// the job into a terminal state (a cancel landing mid-sheet wins the race).
// A true first return value means the routine must stop without error.
func (r *ExcelRoutine) persist(ctx context.Context, job *models.BackgroundJob) (bool, error) {
	if err := r.jobs.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, interfaces.ErrTerminalState) {
			r.logger.Info().
				Str("job_id", job.JobID).
				Msg("Job reached a terminal status elsewhere, stopping sheet loop")
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// processSheet runs one sheet and never returns an error: failures become a
// failed outcome. Sheets already parsed in a previous run are counted as
// successes, which makes recovery reprocessing idempotent.
func (r *ExcelRoutine) processSheet(ctx context.Context, sheet *models.FileUpload, parseMethod string) models.SheetOutcome {
	outcome := models.SheetOutcome{
		SheetID:   sheet.FileID,
		SheetName: sheet.SheetName,
	}

	if sheet.Status == models.ProcessingStatusParsed {
		outcome.Status = "success"
		outcome.PortfolioID = "pf_" + sheet.FileID
		return outcome
	}

	result, err := r.processor.Process(ctx, sheet.FileID, parseMethod)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("sheet_id", sheet.FileID).
			Str("sheet_name", sheet.SheetName).
			Msg("Sheet processing failed")
		outcome.Status = "failed"
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Status = "success"
	outcome.PortfolioID = result.PortfolioID
	return outcome
}

func (r *ExcelRoutine) isCancelled(ctx context.Context, jobID string) (bool, error) {
	current, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return current.Status == models.JobStatusCancelled, nil
}

// deleteParentFile removes the parent workbook from disk, best effort.
func (r *ExcelRoutine) deleteParentFile(ctx context.Context, fileID string) *models.DeletedFlags {
	parent, err := r.uploads.GetFileUpload(ctx, fileID)
	if err != nil {
		r.logger.Warn().Err(err).Str("file_id", fileID).Msg("Parent lookup failed during cleanup")
		return &models.DeletedFlags{}
	}

	if err := os.Remove(parent.FilePath); err != nil && !os.IsNotExist(err) {
		r.logger.Warn().Err(err).Str("file_id", fileID).Msg("Failed to delete parent workbook from disk")
		return &models.DeletedFlags{}
	}

	parent.Status = models.ProcessingStatusCompleted
	if err := r.uploads.UpdateFileUpload(ctx, parent); err != nil {
		r.logger.Warn().Err(err).Str("file_id", fileID).Msg("Failed to update parent status after cleanup")
	}

	r.events.Emit(ctx, models.EventSheetDeletedDisk, "success", interfaces.EventFields{
		FileID:  fileID,
		Message: "Parent workbook removed from disk after clean run",
	})

	return &models.DeletedFlags{Disk: true}
}
