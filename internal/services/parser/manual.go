package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/models"
)

// ManualParser extracts holdings by locating a header row and mapping its
// columns through the header synonym table. No network calls, deterministic,
// and the fallback when LLM extraction is unavailable.
type ManualParser struct {
	headers HeaderMap
	logger  arbor.ILogger
}

// NewManualParser creates a column-heuristic parser
func NewManualParser(headers HeaderMap, logger arbor.ILogger) *ManualParser {
	if headers == nil {
		headers = DefaultHeaderMap()
	}
	return &ManualParser{
		headers: headers,
		logger:  logger,
	}
}

func (p *ManualParser) Parse(ctx context.Context, sheetName string, rows [][]string) (*ParseResult, error) {
	headerIdx, columns := p.findHeaderRow(rows)
	if headerIdx < 0 {
		return nil, fmt.Errorf("no recognizable header row in sheet %q", sheetName)
	}

	result := &ParseResult{
		FundName:      strings.TrimSpace(sheetName),
		PortfolioDate: findPortfolioDate(rows[:headerIdx]),
	}

	for _, row := range rows[headerIdx+1:] {
		holding, ok := p.extractHolding(row, columns)
		if !ok {
			continue
		}
		result.Holdings = append(result.Holdings, holding)
	}

	if len(result.Holdings) == 0 {
		return nil, fmt.Errorf("no holdings extracted from sheet %q", sheetName)
	}

	p.logger.Debug().
		Str("sheet", sheetName).
		Int("header_row", headerIdx).
		Int("holdings", len(result.Holdings)).
		Msg("Manual parse completed")

	return result, nil
}

// findHeaderRow scans for the first row that maps at least two columns to
// known fields, one of which must be the security name.
func (p *ManualParser) findHeaderRow(rows [][]string) (int, map[int]string) {
	for i, row := range rows {
		columns := make(map[int]string)
		seen := make(map[string]bool)
		for col, cell := range row {
			field := p.headers.fieldFor(cell)
			if field == "" || seen[field] {
				continue
			}
			columns[col] = field
			seen[field] = true
		}
		if len(columns) >= 2 && seen[FieldName] {
			return i, columns
		}
	}
	return -1, nil
}

func (p *ManualParser) extractHolding(row []string, columns map[int]string) (models.Holding, bool) {
	var h models.Holding
	numericFields := 0

	for col, field := range columns {
		if col >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		switch field {
		case FieldName:
			h.Name = cell
		case FieldISIN:
			h.ISIN = cell
		case FieldTicker:
			h.Ticker = cell
		case FieldSector:
			h.Sector = cell
		case FieldQuantity:
			if v, ok := parseNumeric(cell); ok {
				h.Quantity = &v
				numericFields++
			}
		case FieldMktValue:
			if v, ok := parseNumeric(cell); ok {
				h.MktValue = &v
				numericFields++
			}
		case FieldWeight:
			if v, ok := parseNumeric(cell); ok {
				h.Weight = &v
				numericFields++
			}
		}
	}

	if h.Name == "" || numericFields == 0 {
		return models.Holding{}, false
	}
	if isAggregateRow(h.Name) {
		return models.Holding{}, false
	}
	return h, true
}

// isAggregateRow filters totals and section subtotals that share the data
// columns but are not positions.
func isAggregateRow(name string) bool {
	n := normalizeHeader(name)
	switch n {
	case "total", "grand total", "sub total", "subtotal", "net assets", "total net assets":
		return true
	}
	return strings.HasPrefix(n, "total ") || strings.HasPrefix(n, "grand total")
}

// parseNumeric coerces spreadsheet numeric text: thousands separators,
// percent suffixes, currency symbols, and accounting-style negatives.
func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || strings.EqualFold(s, "n/a") || strings.EqualFold(s, "nil") {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '.' || r == '-':
			b.WriteRune(r)
		case r == ',' || r == '%' || r == '$' || r == ' ':
			// stripped
		default:
			// Currency words and units invalidate nothing, any other
			// letter means the cell is not a number.
			if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
				return 0, false
			}
		}
	}

	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}

// findPortfolioDate looks above the header row for a labeled date cell, e.g.
// "As on Date | 31-Mar-2024". Returns "" when nothing matches.
func findPortfolioDate(rows [][]string) string {
	for _, row := range rows {
		for col, cell := range row {
			n := normalizeHeader(cell)
			if n == "" {
				continue
			}
			if strings.Contains(n, "date") || strings.HasPrefix(n, "as on") || strings.HasPrefix(n, "as at") {
				for _, next := range row[col+1:] {
					if v := strings.TrimSpace(next); v != "" {
						return v
					}
				}
				// Label and value may share a cell, "As on 31 Mar 2024".
				if parts := strings.SplitN(cell, ":", 2); len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
					return strings.TrimSpace(parts[1])
				}
			}
		}
	}
	return ""
}
