package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEmitter is a simple implementation of the Emitter interface
// that stores registered handlers in memory and dispatches events to them.
type InMemoryEmitter struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEmitter creates a new instance of InMemoryEmitter.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{
		handlers: make([]Handler, 0),
		logger:   logger.With("component", "in_memory_emitter"),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEmitter) RegisterHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// EmitEvent publishes the given event to all registered handlers. If any
// handler returns an error, the event is still sent to all other handlers,
// and the first error encountered is returned.
func (e *InMemoryEmitter) EmitEvent(ctx context.Context, event *AnalysisEvent) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	e.logger.Debug("emitting event",
		"event_id", event.ID,
		"task_id", event.TaskID,
		"outcome", event.Outcome,
		"handler_count", len(handlers))

	if len(handlers) == 0 {
		e.logger.Warn("no handlers registered for event",
			"event_id", event.ID,
			"task_id", event.TaskID)
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"task_id", event.TaskID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Ensure InMemoryEmitter implements Emitter.
var _ Emitter = (*InMemoryEmitter)(nil)
