package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter dispatches events synchronously to handlers kept in
// memory. Handlers either receive every event or subscribe to specific types.
type InMemoryEventEmitter struct {
	mu     sync.RWMutex
	all    []EventHandler
	byType map[string][]EventHandler
	logger *slog.Logger
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		byType: make(map[string][]EventHandler),
		logger: logger.With("component", "event_emitter"),
	}
}

// RegisterHandler adds a handler that receives every event.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, handler)
	e.logger.Debug("registered event handler", "handler_count", len(e.all))
}

// Subscribe adds a handler that only receives events of the given types.
func (e *InMemoryEventEmitter) Subscribe(handler EventHandler, eventTypes ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range eventTypes {
		e.byType[t] = append(e.byType[t], handler)
	}
}

func (e *InMemoryEventEmitter) handlersFor(eventType string) []EventHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	handlers := make([]EventHandler, 0, len(e.all)+len(e.byType[eventType]))
	handlers = append(handlers, e.all...)
	return append(handlers, e.byType[eventType]...)
}

// EmitEvent publishes the event to all matching handlers. Every handler is
// invoked even if an earlier one fails; the failures are joined.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *Event) error {
	handlers := e.handlersFor(event.Type)

	log := e.logger.With(
		"event_id", event.ID,
		"event_type", event.Type,
		"aggregate_id", event.AggregateID,
	)

	if len(handlers) == 0 {
		log.Debug("no handlers registered for event")
		return nil
	}

	var errs []error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			log.Error("handler failed to process event", "error", err, "handler_index", i)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
