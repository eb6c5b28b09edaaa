package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// EventStorage implements the EventStorage interface for Badger
type EventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEventStorage creates a new EventStorage instance
func NewEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventStorage {
	return &EventStorage{
		db:     db,
		logger: logger,
	}
}

func (s *EventStorage) WriteEvent(ctx context.Context, event *models.ProcessingEvent) error {
	if event.EventID == "" {
		return fmt.Errorf("event ID is required")
	}
	if err := s.db.Store().Insert(event.EventID, event); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (s *EventStorage) ListEventsByJob(ctx context.Context, jobID string, limit int) ([]*models.ProcessingEvent, error) {
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("Timestamp").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []models.ProcessingEvent
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	result := make([]*models.ProcessingEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}
