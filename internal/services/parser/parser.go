package parser

import (
	"context"

	"github.com/ternarybob/folio/internal/models"
)

// ParseResult is the structured output of parsing one sheet.
type ParseResult struct {
	FundName      string
	PortfolioDate string
	Holdings      []models.Holding
}

// Parser extracts portfolio holdings from the raw cell grid of one sheet.
// rows is row-major, as read from the workbook, with blank trailing cells
// trimmed per row.
type Parser interface {
	Parse(ctx context.Context, sheetName string, rows [][]string) (*ParseResult, error)
}
