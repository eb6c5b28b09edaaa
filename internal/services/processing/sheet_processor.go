package processing

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/llm"
	"github.com/ternarybob/folio/internal/services/parser"
	"github.com/ternarybob/folio/internal/services/upload"
)

// SheetProcessor parses one sheet file into a portfolio record, stores it,
// and removes the sheet file from disk on success. The portfolio ID is
// derived from the sheet ID so reprocessing upserts the same record.
type SheetProcessor struct {
	config     *common.LLMConfig
	uploads    interfaces.UploadStorage
	portfolios interfaces.PortfolioStorage
	events     interfaces.EventLogger
	logger     arbor.ILogger
	headers    parser.HeaderMap

	mu      sync.Mutex
	parsers map[string]parser.Parser
}

// NewSheetProcessor creates a sheet processor. Parser implementations are
// created lazily per parse method and cached.
func NewSheetProcessor(config *common.LLMConfig, uploads interfaces.UploadStorage, portfolios interfaces.PortfolioStorage, events interfaces.EventLogger, logger arbor.ILogger) (*SheetProcessor, error) {
	headers, err := parser.LoadHeaderMap(config.HeaderMapPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load header map: %w", err)
	}
	return &SheetProcessor{
		config:     config,
		uploads:    uploads,
		portfolios: portfolios,
		events:     events,
		logger:     logger,
		headers:    headers,
		parsers:    make(map[string]parser.Parser),
	}, nil
}

func (p *SheetProcessor) Process(ctx context.Context, sheetID string, parseMethod string) (*interfaces.SheetProcessResult, error) {
	sheet, err := p.uploads.GetFileUpload(ctx, sheetID)
	if err != nil {
		return nil, err
	}

	if parseMethod == "" {
		parseMethod = p.config.DefaultParseMethod
	}

	sheet.Status = models.ProcessingStatusProcessing
	if err := p.uploads.UpdateFileUpload(ctx, sheet); err != nil {
		return nil, err
	}

	result, err := p.parseSheet(ctx, sheet, parseMethod)
	if err != nil {
		sheet.Status = models.ProcessingStatusFailed
		sheet.ErrorMessage = err.Error()
		if updateErr := p.uploads.UpdateFileUpload(ctx, sheet); updateErr != nil {
			p.logger.Warn().Err(updateErr).Str("sheet_id", sheetID).Msg("Failed to record sheet failure")
		}
		p.events.Emit(ctx, models.EventSheetParseCompleted, "failed", interfaces.EventFields{
			SheetID: sheetID,
			FileID:  sheet.ParentID,
			Message: err.Error(),
		})
		return nil, err
	}

	portfolio := p.buildPortfolio(sheet, parseMethod, result)
	if err := p.portfolios.UpsertPortfolio(ctx, portfolio); err != nil {
		return nil, fmt.Errorf("failed to store portfolio: %w", err)
	}

	p.events.Emit(ctx, models.EventPortfolioSaved, "success", interfaces.EventFields{
		SheetID:     sheetID,
		FileID:      sheet.ParentID,
		PortfolioID: portfolio.PortfolioID,
		Message:     fmt.Sprintf("Saved %d holdings for %s", portfolio.TotalHoldings, portfolio.FundName),
	})

	sheet.Status = models.ProcessingStatusParsed
	sheet.ErrorMessage = ""
	if err := p.uploads.UpdateFileUpload(ctx, sheet); err != nil {
		return nil, err
	}

	deleted := p.deleteSheetFile(ctx, sheet)

	p.events.Emit(ctx, models.EventSheetParseCompleted, "success", interfaces.EventFields{
		SheetID:     sheetID,
		FileID:      sheet.ParentID,
		PortfolioID: portfolio.PortfolioID,
	})

	return &interfaces.SheetProcessResult{
		PortfolioID: portfolio.PortfolioID,
		Portfolio:   portfolio,
		Deleted:     deleted,
	}, nil
}

func (p *SheetProcessor) parseSheet(ctx context.Context, sheet *models.FileUpload, parseMethod string) (*parser.ParseResult, error) {
	sheetParser, err := p.parserFor(ctx, parseMethod)
	if err != nil {
		return nil, err
	}

	sheetName, rows, err := upload.ReadSheetRows(sheet.FilePath)
	if err != nil {
		return nil, err
	}
	if sheet.SheetName != "" {
		sheetName = sheet.SheetName
	}

	return sheetParser.Parse(ctx, sheetName, rows)
}

func (p *SheetProcessor) parserFor(ctx context.Context, method string) (parser.Parser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.parsers[method]; ok {
		return cached, nil
	}
	created, err := llm.NewParser(ctx, p.config, method, p.headers, p.logger)
	if err != nil {
		return nil, err
	}
	p.parsers[method] = created
	return created, nil
}

func (p *SheetProcessor) buildPortfolio(sheet *models.FileUpload, parseMethod string, result *parser.ParseResult) *models.Portfolio {
	var totalValue float64
	for _, h := range result.Holdings {
		if h.MktValue != nil {
			totalValue += *h.MktValue
		}
	}

	now := time.Now()
	return &models.Portfolio{
		// Derived ID keeps reprocessing idempotent.
		PortfolioID:   "pf_" + sheet.FileID,
		FundName:      result.FundName,
		PortfolioDate: result.PortfolioDate,
		SourceSheetID: sheet.FileID,
		SourceFileID:  sheet.ParentID,
		ParseMethod:   parseMethod,
		TotalHoldings: len(result.Holdings),
		TotalValue:    totalValue,
		Holdings:      result.Holdings,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// deleteSheetFile removes the parsed sheet file from disk. Best effort: the
// upload record is kept and a failure only logs.
func (p *SheetProcessor) deleteSheetFile(ctx context.Context, sheet *models.FileUpload) models.DeletedFlags {
	if err := os.Remove(sheet.FilePath); err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn().Err(err).Str("sheet_id", sheet.FileID).Msg("Failed to delete sheet file from disk")
			return models.DeletedFlags{}
		}
	}
	p.events.Emit(ctx, models.EventSheetDeletedDisk, "success", interfaces.EventFields{
		SheetID: sheet.FileID,
		FileID:  sheet.ParentID,
	})
	return models.DeletedFlags{Disk: true}
}
