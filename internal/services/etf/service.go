package etf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// Service fetches ETF constituent holdings from the configured provider API
// and caches them in storage. Cached documents are reused until they age
// past the configured expiry, unless the caller forces a refresh.
type Service struct {
	config  *common.ETFConfig
	storage interfaces.ETFStorage
	client  *http.Client
	logger  arbor.ILogger
}

// NewService creates an ETF holdings service
func NewService(config *common.ETFConfig, storage interfaces.ETFStorage, logger arbor.ILogger) *Service {
	return &Service{
		config:  config,
		storage: storage,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (s *Service) FetchHoldings(ctx context.Context, isin string, forceRefresh bool) (*models.ETFHoldings, bool, error) {
	if isin == "" {
		return nil, false, fmt.Errorf("ISIN is required")
	}

	if !forceRefresh {
		cached, err := s.storage.GetHoldings(ctx, isin)
		if err == nil && !cached.IsStale(s.config.CacheExpiryDays) {
			s.logger.Debug().Str("isin", isin).Msg("ETF holdings served from cache")
			return cached, true, nil
		}
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return nil, false, err
		}
	}

	fetched, err := s.fetchFromAPI(ctx, isin)
	if err != nil {
		return nil, false, err
	}

	if err := s.storage.UpsertHoldings(ctx, fetched); err != nil {
		return nil, false, fmt.Errorf("failed to cache holdings for %s: %w", isin, err)
	}

	s.logger.Info().
		Str("isin", isin).
		Int("holdings", len(fetched.Holdings)).
		Msg("ETF holdings fetched")

	return fetched, false, nil
}

// apiResponse matches the provider's holdings payload.
type apiResponse struct {
	ISIN     string `json:"isin"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Holdings []struct {
		Name   string   `json:"name"`
		ISIN   string   `json:"isin"`
		Ticker string   `json:"ticker"`
		Weight *float64 `json:"weight"`
		Shares *float64 `json:"shares"`
	} `json:"holdings"`
}

func (s *Service) fetchFromAPI(ctx context.Context, isin string) (*models.ETFHoldings, error) {
	if s.config.APIBaseURL == "" {
		return nil, fmt.Errorf("etf.api_base_url is not configured")
	}

	url := fmt.Sprintf("%s/etf/%s/holdings", s.config.APIBaseURL, isin)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build holdings request: %w", err)
	}
	if s.config.APIKey != "" {
		req.Header.Set("X-API-Key", s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("holdings request for %s failed: %w", isin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("holdings request for %s returned %d: %s", isin, resp.StatusCode, string(body))
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode holdings for %s: %w", isin, err)
	}

	doc := &models.ETFHoldings{
		ISIN:      isin,
		Symbol:    payload.Symbol,
		Name:      payload.Name,
		FetchedAt: time.Now(),
	}
	for _, h := range payload.Holdings {
		doc.Holdings = append(doc.Holdings, models.ETFHoldingRecord{
			Name:   h.Name,
			ISIN:   h.ISIN,
			Ticker: h.Ticker,
			Weight: h.Weight,
			Shares: h.Shares,
		})
	}
	return doc, nil
}
