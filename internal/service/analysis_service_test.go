package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docassist/docassist-api/internal/domain"
	"github.com/docassist/docassist-api/internal/task"
)

func newTestService(t *testing.T) (*AnalysisService, *task.MemoryStore) {
	t.Helper()
	store := task.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewAnalysisService(store, logger)
	require.NoError(t, err)
	return svc, store
}

func TestNewAnalysisService(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewAnalysisService(nil, logger)
	assert.ErrorIs(t, err, ErrNilStore)

	_, err = NewAnalysisService(task.NewMemoryStore(), nil)
	assert.ErrorIs(t, err, ErrNilLogger)
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	t.Run("enqueues a pending task", func(t *testing.T) {
		t.Parallel()
		svc, store := newTestService(t)

		id, err := svc.Submit(context.Background(), "reports/mri-7.pdf", "user-9", 2, 3)
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, id)

		got, err := store.GetTask(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, got.Status)
		assert.Equal(t, "reports/mri-7.pdf", got.ContentRef)
		assert.Equal(t, 2, got.Priority)
	})

	t.Run("rejects empty content reference synchronously", func(t *testing.T) {
		t.Parallel()
		svc, store := newTestService(t)

		_, err := svc.Submit(context.Background(), "", "user-9", 0, 3)
		assert.ErrorIs(t, err, domain.ErrValidation)

		m, err := store.Metrics(context.Background())
		require.NoError(t, err)
		assert.Zero(t, m.Pending, "invalid input never enters the queue")
	})

	t.Run("rejects empty owner", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)
		_, err := svc.Submit(context.Background(), "reports/mri-7.pdf", "", 0, 3)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestStatus(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "reports/mri-7.pdf", "user-9", 0, 3)
	require.NoError(t, err)

	got, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = svc.Status(ctx, uuid.Nil)
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = svc.Status(ctx, uuid.New())
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestList(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "doc-1", "user-9", 0, 3)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "doc-2", "user-9", 0, 3)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "doc-3", "someone-else", 0, 3)
	require.NoError(t, err)

	got, err := svc.List(ctx, "user-9", nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	pending := domain.TaskStatusPending
	got, err = svc.List(ctx, "user-9", &pending)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.List(ctx, "", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	bogus := domain.TaskStatus("archived")
	_, err = svc.List(ctx, "user-9", &bogus)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestServiceMetrics(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "doc-1", "user-9", 0, 3)
	require.NoError(t, err)

	m, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Pending)
}
