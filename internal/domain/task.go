package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of an analysis task.
type TaskStatus string

// Possible task status values. Completed and Failed are terminal.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsValid checks if the status is one of the defined values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ErrorKind classifies why an analysis task failed. It is the stable,
// machine-readable counterpart to the human-readable error message.
type ErrorKind string

// Possible error kinds.
const (
	// ErrorKindValidation marks malformed input rejected at enqueue time.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindTransient marks network/timeout/5xx failures from the
	// provider or the content fetch that are retried with backoff.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindRateLimited marks provider rate-limit responses. These
	// requeue without consuming retry quota.
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// ErrorKindContent marks unsupported or corrupt documents. Terminal,
	// never retried.
	ErrorKindContent ErrorKind = "content"

	// ErrorKindPermanent marks account-level failures (auth, quota
	// exhaustion). Terminal and alert-worthy.
	ErrorKindPermanent ErrorKind = "permanent"

	// ErrorKindInternal marks programming defects caught at the dispatcher
	// boundary.
	ErrorKindInternal ErrorKind = "internal"
)

// DefaultMaxRetries bounds transient retries when the caller does not
// specify a limit.
const DefaultMaxRetries = 3

// AnalysisTask is a queued unit of document-analysis work. It is an audit
// record: rows are never deleted, and terminal tasks are never mutated.
type AnalysisTask struct {
	// ID is the task's unique, immutable identifier.
	ID uuid.UUID

	// ContentRef is an opaque reference to the document to analyze. The
	// content itself is owned by the host application.
	ContentRef string

	// OwnerID identifies the principal the task belongs to, used only for
	// list queries.
	OwnerID string

	// Priority orders dispatch; higher values are claimed first.
	Priority int

	// Status is the current lifecycle state.
	Status TaskStatus

	// RetryCount counts transient-failure retries. Rate-limit deferrals do
	// not increment it.
	RetryCount int

	// MaxRetries bounds RetryCount; exceeding it makes the task terminal.
	MaxRetries int

	// NotBefore delays re-dispatch of a requeued task until the backoff
	// window has passed.
	NotBefore time.Time

	// QueuedAt, StartedAt, CompletedAt are monotonically non-decreasing
	// lifecycle timestamps. StartedAt and CompletedAt are nil until the
	// corresponding transition happens.
	QueuedAt    time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// ErrorKind and ErrorMessage are populated only on failed tasks.
	ErrorKind    ErrorKind
	ErrorMessage string

	// ResultRef references the stored analysis result, set only on
	// completed tasks.
	ResultRef string
}

// NewAnalysisTask creates a pending task for the given content reference.
// Returns ErrValidation if the content reference or owner is empty.
func NewAnalysisTask(contentRef, ownerID string, priority, maxRetries int) (*AnalysisTask, error) {
	if contentRef == "" {
		return nil, fmt.Errorf("%w: content reference cannot be empty", ErrValidation)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner ID cannot be empty", ErrValidation)
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	now := time.Now().UTC()
	return &AnalysisTask{
		ID:         uuid.New(),
		ContentRef: contentRef,
		OwnerID:    ownerID,
		Priority:   priority,
		Status:     TaskStatusPending,
		RetryCount: 0,
		MaxRetries: maxRetries,
		NotBefore:  now,
		QueuedAt:   now,
	}, nil
}

// Validate checks the task's field invariants.
func (t *AnalysisTask) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: task ID cannot be nil", ErrValidation)
	}
	if t.ContentRef == "" {
		return fmt.Errorf("%w: content reference cannot be empty", ErrValidation)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: invalid task status %q", ErrValidation, t.Status)
	}
	if t.RetryCount < 0 || t.MaxRetries < 0 {
		return fmt.Errorf("%w: retry counts cannot be negative", ErrValidation)
	}
	if t.RetryCount > t.MaxRetries {
		return fmt.Errorf("%w: retry count %d exceeds max retries %d",
			ErrValidation, t.RetryCount, t.MaxRetries)
	}
	return nil
}

// RetriesRemaining reports whether the task may be requeued for a
// transient failure.
func (t *AnalysisTask) RetriesRemaining() bool {
	return t.RetryCount < t.MaxRetries
}

// Latency returns the time between enqueue and completion, or zero if the
// task has not completed.
func (t *AnalysisTask) Latency() time.Duration {
	if t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(t.QueuedAt)
}
