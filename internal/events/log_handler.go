package events

import (
	"context"
	"log/slog"
)

// LoggingHandler records terminal analysis outcomes in the structured
// log. Alert-worthy failures are logged at error level so log-based
// alerting can key off them.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a handler that logs every event it receives.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger.With("component", "event_log_handler")}
}

// HandleEvent logs the event. It never returns an error.
func (h *LoggingHandler) HandleEvent(ctx context.Context, event *AnalysisEvent) error {
	attrs := []any{
		"event_id", event.ID,
		"task_id", event.TaskID,
		"outcome", event.Outcome,
	}

	switch {
	case event.Outcome == OutcomeFailed && event.AlertWorthy:
		attrs = append(attrs, "error_kind", event.ErrorKind, "summary", event.Summary)
		h.logger.ErrorContext(ctx, "analysis failed, operator attention needed", attrs...)
	case event.Outcome == OutcomeFailed:
		attrs = append(attrs, "error_kind", event.ErrorKind)
		h.logger.WarnContext(ctx, "analysis failed", attrs...)
	default:
		h.logger.InfoContext(ctx, "analysis completed", attrs...)
	}
	return nil
}

// Ensure LoggingHandler implements Handler.
var _ Handler = (*LoggingHandler)(nil)
