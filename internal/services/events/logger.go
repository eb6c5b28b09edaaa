package events

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// Logger persists lifecycle events and fans them out to live subscribers.
// Emit is fire-and-forget: storage failures are logged and swallowed so an
// event write can never break the workflow that produced it.
type Logger struct {
	storage interfaces.EventStorage
	pubsub  interfaces.EventService
	logger  arbor.ILogger
}

// NewLogger creates a persisting event logger. pubsub may be nil.
func NewLogger(storage interfaces.EventStorage, pubsub interfaces.EventService, logger arbor.ILogger) *Logger {
	return &Logger{
		storage: storage,
		pubsub:  pubsub,
		logger:  logger,
	}
}

func (l *Logger) Emit(ctx context.Context, eventType models.EventType, status string, fields interfaces.EventFields) {
	event := models.ProcessingEvent{
		EventID:     common.NewEventID(),
		EventType:   eventType,
		Status:      status,
		Timestamp:   time.Now(),
		JobID:       fields.JobID,
		FileID:      fields.FileID,
		SheetID:     fields.SheetID,
		PortfolioID: fields.PortfolioID,
		Message:     fields.Message,
		Metadata:    fields.Metadata,
	}

	if l.storage != nil {
		if err := l.storage.WriteEvent(ctx, &event); err != nil {
			l.logger.Warn().Err(err).
				Str("event_type", string(eventType)).
				Str("job_id", fields.JobID).
				Msg("Failed to persist processing event")
		}
	}

	if l.pubsub != nil {
		l.pubsub.Publish(event)
	}
}
