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

// ETFStorage implements the ETFStorage interface for Badger
type ETFStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewETFStorage creates a new ETFStorage instance
func NewETFStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ETFStorage {
	return &ETFStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ETFStorage) UpsertHoldings(ctx context.Context, holdings *models.ETFHoldings) error {
	if holdings.ISIN == "" {
		return fmt.Errorf("ISIN is required")
	}
	if err := s.db.Store().Upsert(holdings.ISIN, holdings); err != nil {
		return fmt.Errorf("failed to upsert holdings: %w", err)
	}
	return nil
}

func (s *ETFStorage) GetHoldings(ctx context.Context, isin string) (*models.ETFHoldings, error) {
	var holdings models.ETFHoldings
	if err := s.db.Store().Get(isin, &holdings); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("holdings %s: %w", isin, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	return &holdings, nil
}

func (s *ETFStorage) ListHoldings(ctx context.Context, limit int) ([]*models.ETFHoldings, error) {
	query := badgerhold.Where("ISIN").Ne("").SortBy("FetchedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var all []models.ETFHoldings
	if err := s.db.Store().Find(&all, query); err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}

	result := make([]*models.ETFHoldings, len(all))
	for i := range all {
		result[i] = &all[i]
	}
	return result, nil
}
