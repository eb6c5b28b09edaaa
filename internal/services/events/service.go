package events

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// Service is an in-process pub/sub fan-out for live event observers.
type Service struct {
	mu       sync.RWMutex
	handlers map[int]interfaces.EventHandler
	nextID   int
	logger   arbor.ILogger
}

// NewService creates a new event pub/sub service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		handlers: make(map[int]interfaces.EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler and returns an unsubscribe func.
func (s *Service) Subscribe(handler interfaces.EventHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.handlers[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// Publish delivers the event to all subscribers. Each handler runs on its
// own goroutine so a slow observer cannot stall the publisher.
func (s *Service) Publish(event models.ProcessingEvent) {
	s.mu.RLock()
	handlers := make([]interfaces.EventHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		go h(event)
	}
}
