package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PortfolioStorage implements the PortfolioStorage interface for Badger
type PortfolioStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPortfolioStorage creates a new PortfolioStorage instance
func NewPortfolioStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PortfolioStorage {
	return &PortfolioStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PortfolioStorage) UpsertPortfolio(ctx context.Context, portfolio *models.Portfolio) error {
	if portfolio.PortfolioID == "" {
		return fmt.Errorf("portfolio ID is required")
	}
	if err := s.db.Store().Upsert(portfolio.PortfolioID, portfolio); err != nil {
		return fmt.Errorf("failed to upsert portfolio: %w", err)
	}
	return nil
}

func (s *PortfolioStorage) GetPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error) {
	var portfolio models.Portfolio
	if err := s.db.Store().Get(portfolioID, &portfolio); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("portfolio %s: %w", portfolioID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return &portfolio, nil
}

func (s *PortfolioStorage) ListPortfolios(ctx context.Context, limit int) ([]*models.Portfolio, error) {
	query := badgerhold.Where("PortfolioID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var portfolios []models.Portfolio
	if err := s.db.Store().Find(&portfolios, query); err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}

	result := make([]*models.Portfolio, len(portfolios))
	for i := range portfolios {
		result[i] = &portfolios[i]
	}
	return result, nil
}
