package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/docassist/docassist-api/internal/domain"
	"github.com/docassist/docassist-api/internal/task"
)

// Common errors returned by the AnalysisService.
var (
	ErrNilStore  = errors.New("task store cannot be nil")
	ErrNilLogger = errors.New("logger cannot be nil")
)

// AnalysisService is the boundary the host application calls into: it
// enqueues analysis work and answers status queries. Validation failures
// are rejected synchronously and never enter the queue; everything after
// enqueue happens asynchronously in the pipeline.
type AnalysisService struct {
	store  task.Store
	logger *slog.Logger
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(store task.Store, logger *slog.Logger) (*AnalysisService, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	return &AnalysisService{
		store:  store,
		logger: logger.With("component", "analysis_service"),
	}, nil
}

// Submit enqueues a document for background analysis and returns the new
// task's ID. Returns domain.ErrValidation for malformed input.
func (s *AnalysisService) Submit(ctx context.Context, contentRef, ownerID string, priority, maxRetries int) (uuid.UUID, error) {
	t, err := domain.NewAnalysisTask(contentRef, ownerID, priority, maxRetries)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.store.Enqueue(ctx, t); err != nil {
		s.logger.Error("failed to enqueue analysis task",
			"content_ref", contentRef,
			"owner_id", ownerID,
			"error", err)
		return uuid.Nil, fmt.Errorf("failed to enqueue analysis task: %w", err)
	}

	s.logger.Info("analysis task enqueued",
		"task_id", t.ID,
		"content_ref", contentRef,
		"priority", priority)
	return t.ID, nil
}

// Status returns the task with the given ID.
func (s *AnalysisService) Status(ctx context.Context, taskID uuid.UUID) (*domain.AnalysisTask, error) {
	if taskID == uuid.Nil {
		return nil, fmt.Errorf("%w: task ID cannot be nil", domain.ErrInvalidID)
	}
	return s.store.GetTask(ctx, taskID)
}

// List returns the owner's tasks, optionally filtered by status.
func (s *AnalysisService) List(ctx context.Context, ownerID string, status *domain.TaskStatus) ([]*domain.AnalysisTask, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner ID cannot be empty", domain.ErrValidation)
	}
	if status != nil && !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status filter %q", domain.ErrValidation, *status)
	}
	return s.store.ListByOwner(ctx, ownerID, status)
}

// Metrics returns queue counters and average completion latency.
func (s *AnalysisService) Metrics(ctx context.Context) (task.Metrics, error) {
	return s.store.Metrics(ctx)
}
