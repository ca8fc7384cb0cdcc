package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docassist/docassist-api/internal/domain"
)

// MemoryStore is an in-process Store implementation guarded by a single
// mutex. Claim atomicity comes from the lock and ordering from the same
// priority/queued-at sort the Postgres store uses, so it serves both as a
// first-class single-process backend and as the test double.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.AnalysisTask

	// seq breaks queued-at ties deterministically for tasks enqueued
	// within the same clock tick.
	seq     map[uuid.UUID]uint64
	nextSeq uint64

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[uuid.UUID]*domain.AnalysisTask),
		seq:   make(map[uuid.UUID]uint64),
		now:   time.Now,
	}
}

// Enqueue persists a new pending task.
func (s *MemoryStore) Enqueue(ctx context.Context, t *domain.AnalysisTask) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already enqueued", t.ID)
	}

	s.tasks[t.ID] = cloneTask(t)
	s.seq[t.ID] = s.nextSeq
	s.nextSeq++
	return nil
}

// ClaimNext flips up to maxItems ready pending tasks to processing under
// the store lock and returns copies of the claimed rows.
func (s *MemoryStore) ClaimNext(ctx context.Context, maxItems int) ([]*domain.AnalysisTask, error) {
	if maxItems <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	ready := make([]*domain.AnalysisTask, 0)
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusPending && !now.Before(t.NotBefore) {
			ready = append(ready, t)
		}
	}

	// Priority first, then insertion order. The sequence tie-break keeps
	// the ordering deterministic when queued-at timestamps collide.
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		if !ready[i].QueuedAt.Equal(ready[j].QueuedAt) {
			return ready[i].QueuedAt.Before(ready[j].QueuedAt)
		}
		return s.seq[ready[i].ID] < s.seq[ready[j].ID]
	})

	if len(ready) > maxItems {
		ready = ready[:maxItems]
	}

	claimed := make([]*domain.AnalysisTask, 0, len(ready))
	for _, t := range ready {
		started := now
		t.Status = domain.TaskStatusProcessing
		t.StartedAt = &started
		claimed = append(claimed, cloneTask(t))
	}
	return claimed, nil
}

// MarkCompleted transitions a processing task to completed.
func (s *MemoryStore) MarkCompleted(ctx context.Context, id uuid.UUID, resultRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.processingLocked(id)
	if err != nil {
		return err
	}

	completed := s.now().UTC()
	t.Status = domain.TaskStatusCompleted
	t.CompletedAt = &completed
	t.ResultRef = resultRef
	t.ErrorKind = ""
	t.ErrorMessage = ""
	return nil
}

// MarkFailed transitions a processing task to failed.
func (s *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.processingLocked(id)
	if err != nil {
		return err
	}

	completed := s.now().UTC()
	t.Status = domain.TaskStatusFailed
	t.CompletedAt = &completed
	t.ErrorKind = kind
	t.ErrorMessage = msg
	return nil
}

// Requeue moves a processing task back to pending with a not-before stamp.
func (s *MemoryStore) Requeue(ctx context.Context, id uuid.UUID, notBefore time.Time, countRetry bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.processingLocked(id)
	if err != nil {
		return err
	}

	if countRetry {
		if t.RetryCount >= t.MaxRetries {
			return fmt.Errorf("%w: %d of %d", ErrRetriesExhausted, t.RetryCount, t.MaxRetries)
		}
		t.RetryCount++
	}

	t.Status = domain.TaskStatusPending
	t.NotBefore = notBefore.UTC()
	t.StartedAt = nil
	return nil
}

// GetTask returns a copy of the task with the given ID.
func (s *MemoryStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return cloneTask(t), nil
}

// ListByOwner returns the owner's tasks, optionally filtered by status,
// newest first.
func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, status *domain.TaskStatus) ([]*domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.AnalysisTask, 0)
	for _, t := range s.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, cloneTask(t))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.After(out[j].QueuedAt)
	})
	return out, nil
}

// Metrics returns queue counters and average completion latency.
func (s *MemoryStore) Metrics(ctx context.Context) (Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m Metrics
	var totalLatency time.Duration
	for _, t := range s.tasks {
		switch t.Status {
		case domain.TaskStatusPending:
			m.Pending++
		case domain.TaskStatusProcessing:
			m.Processing++
		case domain.TaskStatusCompleted:
			m.Completed++
			totalLatency += t.Latency()
		case domain.TaskStatusFailed:
			m.Failed++
		}
	}
	if m.Completed > 0 {
		m.AvgLatency = totalLatency / time.Duration(m.Completed)
	}
	return m, nil
}

// ResetStale moves stale processing tasks back to pending.
func (s *MemoryStore) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cutoff := now.Add(-olderThan)
	reset := 0
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusProcessing {
			continue
		}
		if t.StartedAt != nil && olderThan > 0 && t.StartedAt.After(cutoff) {
			continue
		}
		t.Status = domain.TaskStatusPending
		t.StartedAt = nil
		t.NotBefore = now
		reset++
	}
	return reset, nil
}

// processingLocked fetches a task and enforces the processing-only
// transition guard. Caller holds mu.
func (s *MemoryStore) processingLocked(id uuid.UUID) (*domain.AnalysisTask, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != domain.TaskStatusProcessing {
		return nil, fmt.Errorf("%w: task %s is %s", ErrConflict, id, t.Status)
	}
	return t, nil
}

func cloneTask(t *domain.AnalysisTask) *domain.AnalysisTask {
	c := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
