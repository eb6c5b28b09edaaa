package interfaces

import (
	"context"

	"github.com/ternarybob/folio/internal/models"
)

// EventFields carries the optional correlation fields of a lifecycle event.
type EventFields struct {
	JobID       string
	FileID      string
	SheetID     string
	PortfolioID string
	Message     string
	Metadata    map[string]interface{}
}

// EventLogger records lifecycle events. Fire-and-forget: implementations
// must never return or propagate an error into the caller's workflow.
type EventLogger interface {
	Emit(ctx context.Context, eventType models.EventType, status string, fields EventFields)
}

// EventHandler receives published events.
type EventHandler func(event models.ProcessingEvent)

// EventService is an in-process pub/sub fan-out for live observers
// (websocket clients). Publish never blocks on slow handlers.
type EventService interface {
	// Subscribe registers a handler and returns an unsubscribe func.
	Subscribe(handler EventHandler) func()
	Publish(event models.ProcessingEvent)
}
