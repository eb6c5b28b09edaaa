package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/parser"
	"golang.org/x/time/rate"
)

const extractSystemPrompt = `You are a financial data extraction engine. You receive the raw cell grid
of one spreadsheet sheet from a mutual fund or ETF portfolio disclosure.
Extract every individual holding. Ignore section headers, subtotals and
grand totals. Respond with ONLY a JSON object, no markdown fences, in this
shape:
{
  "fund_name": "string",
  "portfolio_date": "string or empty",
  "holdings": [
    {"name": "string", "isin": "string", "ticker": "string", "sector": "string",
     "qty": number or null, "mkt_value": number or null, "weight": number or null}
  ]
}
Omit string fields you cannot determine. Numbers must be plain JSON numbers
with separators and percent signs removed.`

// maxPromptRows caps how much of a sheet is sent to the model. Disclosure
// sheets rarely exceed a few hundred positions.
const maxPromptRows = 400

// Extractor implements parser.Parser by delegating extraction to an LLM
// provider. A shared rate limiter keeps the service inside the provider's
// request quota when many sheets process concurrently.
type Extractor struct {
	provider ChatProvider
	limiter  *rate.Limiter
	logger   arbor.ILogger
}

// NewExtractor creates an LLM-backed sheet parser. requestsPerMinute <= 0
// disables rate limiting.
func NewExtractor(provider ChatProvider, requestsPerMinute int, logger arbor.ILogger) *Extractor {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return &Extractor{
		provider: provider,
		limiter:  limiter,
		logger:   logger,
	}
}

type extractedHolding struct {
	Name     string   `json:"name"`
	ISIN     string   `json:"isin"`
	Ticker   string   `json:"ticker"`
	Sector   string   `json:"sector"`
	Quantity *float64 `json:"qty"`
	MktValue *float64 `json:"mkt_value"`
	Weight   *float64 `json:"weight"`
}

type extractedSheet struct {
	FundName      string             `json:"fund_name"`
	PortfolioDate string             `json:"portfolio_date"`
	Holdings      []extractedHolding `json:"holdings"`
}

func (e *Extractor) Parse(ctx context.Context, sheetName string, rows [][]string) (*parser.ParseResult, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
		}
	}

	prompt := buildSheetPrompt(sheetName, rows)

	response, err := e.provider.Complete(ctx, extractSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s extraction failed: %w", e.provider.Name(), err)
	}

	extracted, err := parseExtractionResponse(response)
	if err != nil {
		return nil, fmt.Errorf("%s returned unparseable extraction: %w", e.provider.Name(), err)
	}

	if len(extracted.Holdings) == 0 {
		return nil, fmt.Errorf("%s extracted no holdings from sheet %q", e.provider.Name(), sheetName)
	}

	result := &parser.ParseResult{
		FundName:      extracted.FundName,
		PortfolioDate: extracted.PortfolioDate,
	}
	if result.FundName == "" {
		result.FundName = strings.TrimSpace(sheetName)
	}
	for _, h := range extracted.Holdings {
		if strings.TrimSpace(h.Name) == "" {
			continue
		}
		result.Holdings = append(result.Holdings, models.Holding{
			Name:     strings.TrimSpace(h.Name),
			ISIN:     strings.TrimSpace(h.ISIN),
			Ticker:   strings.TrimSpace(h.Ticker),
			Sector:   strings.TrimSpace(h.Sector),
			Quantity: h.Quantity,
			MktValue: h.MktValue,
			Weight:   h.Weight,
		})
	}

	e.logger.Debug().
		Str("provider", e.provider.Name()).
		Str("sheet", sheetName).
		Int("holdings", len(result.Holdings)).
		Msg("LLM extraction completed")

	return result, nil
}

// buildSheetPrompt renders the cell grid as tab-separated rows.
func buildSheetPrompt(sheetName string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sheet name: %s\n\n", sheetName)

	limit := len(rows)
	if limit > maxPromptRows {
		limit = maxPromptRows
	}
	for _, row := range rows[:limit] {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	if len(rows) > limit {
		fmt.Fprintf(&b, "\n[%d additional rows truncated]\n", len(rows)-limit)
	}
	return b.String()
}

// parseExtractionResponse tolerates markdown fences and leading prose around
// the JSON object.
func parseExtractionResponse(response string) (*extractedSheet, error) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var extracted extractedSheet
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &extracted); err != nil {
		return nil, fmt.Errorf("invalid extraction JSON: %w", err)
	}
	return &extracted, nil
}
