package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome labels how an analysis task ended.
type Outcome string

// Possible event outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// AnalysisEvent announces that a task reached a terminal state. It is
// emitted exactly once per terminal transition and carries enough context
// for the notification collaborator to act without querying the store.
type AnalysisEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// TaskID identifies the task that finished.
	TaskID uuid.UUID `json:"task_id"`

	// Outcome is the terminal state the task reached.
	Outcome Outcome `json:"outcome"`

	// Summary is a short human-readable description of the result or the
	// failure reason.
	Summary string `json:"summary"`

	// ErrorKind is the stable failure classification, empty on success.
	ErrorKind string `json:"error_kind,omitempty"`

	// AlertWorthy flags failures that should page someone, such as
	// account-level provider errors.
	AlertWorthy bool `json:"alert_worthy,omitempty"`

	// CreatedAt is the timestamp when the event was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewAnalysisEvent creates an event for the given task and outcome.
func NewAnalysisEvent(taskID uuid.UUID, outcome Outcome, summary string) *AnalysisEvent {
	return &AnalysisEvent{
		ID:        uuid.New(),
		TaskID:    taskID,
		Outcome:   outcome,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
}

// Handler defines an interface for components that consume analysis
// events, such as the host's notification service.
type Handler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *AnalysisEvent) error
}

// Emitter defines an interface for publishing analysis events. Emission
// is fire-and-forget from the pipeline's point of view: a failing handler
// never rolls back the task's terminal state.
type Emitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *AnalysisEvent) error
}
