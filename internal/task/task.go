package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/docassist/docassist-api/internal/domain"
)

// Common errors returned by Store implementations.
var (
	// ErrTaskNotFound is returned when the task ID does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrConflict is returned when a transition is attempted on a task
	// whose current status does not permit it, including any mutation of a
	// terminal task.
	ErrConflict = errors.New("task status conflict")

	// ErrRetriesExhausted is returned when a counting requeue would push
	// retry_count past max_retries.
	ErrRetriesExhausted = errors.New("task retry limit reached")
)

// Metrics is a snapshot of queue state, exposed to callers through the
// analysis service.
type Metrics struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int

	// AvgLatency is the mean enqueue-to-completion time over completed
	// tasks, zero when none have completed.
	AvgLatency time.Duration
}

// Store is the durable state for analysis tasks. The claim operation is
// the single serialization point guaranteeing one active processor per
// task: implementations must perform it as one atomic conditional update,
// never read-then-write.
type Store interface {
	// Enqueue persists a new pending task.
	Enqueue(ctx context.Context, t *domain.AnalysisTask) error

	// ClaimNext atomically selects up to maxItems pending tasks whose
	// not-before time has passed, ordered by priority descending then
	// queued-at ascending, flips them to processing and returns only the
	// tasks this call won. Tasks claimed by a racing caller are skipped
	// silently.
	ClaimNext(ctx context.Context, maxItems int) ([]*domain.AnalysisTask, error)

	// MarkCompleted transitions a processing task to completed and records
	// the result reference. Returns ErrConflict unless the task is
	// currently processing.
	MarkCompleted(ctx context.Context, id uuid.UUID, resultRef string) error

	// MarkFailed transitions a processing task to failed with a stable
	// error kind and a human-readable message. Returns ErrConflict unless
	// the task is currently processing.
	MarkFailed(ctx context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error

	// Requeue moves a processing task back to pending, delayed until
	// notBefore. With countRetry set the task's retry count increments and
	// ErrRetriesExhausted is returned (leaving the task untouched) if the
	// limit is already reached; without it the move is a rate-limit
	// deferral that leaves the quota alone.
	Requeue(ctx context.Context, id uuid.UUID, notBefore time.Time, countRetry bool) error

	// GetTask returns the task with the given ID.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error)

	// ListByOwner returns the owner's tasks, optionally filtered by
	// status, newest first.
	ListByOwner(ctx context.Context, ownerID string, status *domain.TaskStatus) ([]*domain.AnalysisTask, error)

	// Metrics returns queue counters and average completion latency.
	Metrics(ctx context.Context) (Metrics, error)

	// ResetStale moves processing tasks older than the given age back to
	// pending without touching their retry count, and returns how many
	// were reset. A zero age resets every processing task; the dispatcher
	// uses that at startup to recover from a crashed run.
	ResetStale(ctx context.Context, olderThan time.Duration) (int, error)
}
