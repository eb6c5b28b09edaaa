package models

import (
	"time"
)

// ETFHoldingRecord is one constituent position of an ETF.
type ETFHoldingRecord struct {
	Name   string   `json:"name"`
	ISIN   string   `json:"isin,omitempty"`
	Ticker string   `json:"ticker,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
	Shares *float64 `json:"shares,omitempty"`
}

// ETFHoldings is the cached holdings document for one ETF, keyed by ISIN.
// FetchedAt drives the cache-expiry policy.
type ETFHoldings struct {
	ISIN      string             `json:"isin" badgerhold:"key"`
	Symbol    string             `json:"symbol,omitempty"`
	Name      string             `json:"name,omitempty"`
	Holdings  []ETFHoldingRecord `json:"holdings"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// IsStale reports whether the cached document is older than expiryDays.
func (h *ETFHoldings) IsStale(expiryDays int) bool {
	if expiryDays <= 0 {
		return false
	}
	return time.Since(h.FetchedAt) > time.Duration(expiryDays)*24*time.Hour
}
