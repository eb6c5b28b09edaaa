package models

import (
	"time"
)

// Holding is a single position extracted from a portfolio sheet. Optional
// fields stay nil when the source sheet had no matching column.
type Holding struct {
	Name     string   `json:"name"`
	ISIN     string   `json:"isin,omitempty"`
	Ticker   string   `json:"ticker,omitempty"`
	Sector   string   `json:"sector,omitempty"`
	Quantity *float64 `json:"qty,omitempty"`
	MktValue *float64 `json:"mkt_value,omitempty"`
	Weight   *float64 `json:"weight,omitempty"`
}

// Portfolio is the structured holdings record extracted from one sheet.
// The ID is derived from the source sheet so re-processing upserts rather
// than accumulates.
type Portfolio struct {
	PortfolioID   string    `json:"portfolio_id" badgerhold:"key"`
	FundName      string    `json:"fund_name"`
	PortfolioDate string    `json:"portfolio_date,omitempty"`
	SourceSheetID string    `json:"source_sheet_id"`
	SourceFileID  string    `json:"source_file_id,omitempty"`
	ParseMethod   string    `json:"parse_method"`
	TotalHoldings int       `json:"total_holdings"`
	TotalValue    float64   `json:"total_value"`
	Holdings      []Holding `json:"holdings"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TopHoldings returns up to n holdings ordered as extracted.
func (p *Portfolio) TopHoldings(n int) []Holding {
	if n > len(p.Holdings) {
		n = len(p.Holdings)
	}
	return p.Holdings[:n]
}
