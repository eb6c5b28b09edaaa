package parser

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// HeaderMap maps canonical holding fields to the header synonyms seen in
// fund manager spreadsheets. Matching is done on normalized text (lowercase,
// alphanumerics only) so "Mkt. Value" and "mkt_value" both hit.
type HeaderMap map[string][]string

// Canonical field names used as HeaderMap keys.
const (
	FieldName     = "name"
	FieldISIN     = "isin"
	FieldTicker   = "ticker"
	FieldSector   = "sector"
	FieldQuantity = "qty"
	FieldMktValue = "mkt_value"
	FieldWeight   = "weight"
)

// DefaultHeaderMap returns the built-in synonym table. A YAML file given via
// config extends or overrides these entries per field.
func DefaultHeaderMap() HeaderMap {
	return HeaderMap{
		FieldName:     {"name", "security name", "security", "holding", "holding name", "instrument", "instrument name", "description", "fund name", "stock name", "company", "company name"},
		FieldISIN:     {"isin", "isin code", "isin number"},
		FieldTicker:   {"ticker", "symbol", "ticker symbol", "bbg ticker", "code", "nse symbol", "bse code"},
		FieldSector:   {"sector", "industry", "industry classification", "sector classification", "gics sector"},
		FieldQuantity: {"qty", "quantity", "shares", "units", "no of shares", "number of shares", "holdings", "position"},
		FieldMktValue: {"mkt value", "market value", "mkt val", "value", "market val", "mv", "market value rs lakhs", "exposure", "amount"},
		FieldWeight:   {"weight", "weightage", "pct", "percent", "percentage", "pct of nav", "pct to nav", "pct of net assets", "allocation"},
	}
}

// LoadHeaderMap merges the YAML file at path over the defaults. A missing
// path returns the defaults unchanged.
func LoadHeaderMap(path string) (HeaderMap, error) {
	merged := DefaultHeaderMap()
	if path == "" {
		return merged, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return merged, nil
		}
		return nil, fmt.Errorf("failed to read header map: %w", err)
	}

	var custom HeaderMap
	if err := yaml.Unmarshal(data, &custom); err != nil {
		return nil, fmt.Errorf("failed to parse header map: %w", err)
	}

	for field, synonyms := range custom {
		merged[field] = append(merged[field], synonyms...)
	}
	return merged, nil
}

// normalizeHeader reduces a header cell to lowercase alphanumeric words so
// punctuation and casing differences do not break matching.
func normalizeHeader(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// fieldFor returns the canonical field a header cell maps to, or "".
func (m HeaderMap) fieldFor(header string) string {
	normalized := normalizeHeader(header)
	if normalized == "" {
		return ""
	}
	for field, synonyms := range m {
		for _, syn := range synonyms {
			if normalized == normalizeHeader(syn) {
				return field
			}
		}
	}
	return ""
}
