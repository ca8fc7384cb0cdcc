package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docassist/docassist-api/internal/domain"
	"github.com/docassist/docassist-api/internal/platform/logger"
	"github.com/docassist/docassist-api/internal/store"
	"github.com/docassist/docassist-api/internal/task"
)

// taskColumns is the select list shared by every query that scans a task row.
const taskColumns = `id, content_ref, owner_id, priority, status, retry_count, max_retries,
	not_before, queued_at, started_at, completed_at, error_kind, error_message, result_ref`

// TaskStore implements the task.Store interface using PostgreSQL. The
// claim is a single conditional UPDATE over a SKIP LOCKED subselect, so
// racing claimers each win a disjoint set of rows without blocking on one
// another.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// WithTx returns a TaskStore bound to the given transaction, allowing
// multiple operations to execute atomically. The transaction is created
// and managed by the caller.
func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	return &TaskStore{db: tx}
}

// Enqueue persists a new pending task.
func (s *TaskStore) Enqueue(ctx context.Context, t *domain.AnalysisTask) error {
	log := logger.FromContext(ctx)

	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO analysis_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.ContentRef,
		t.OwnerID,
		t.Priority,
		t.Status,
		t.RetryCount,
		t.MaxRetries,
		t.NotBefore,
		t.QueuedAt,
		t.StartedAt,
		t.CompletedAt,
		nullString(string(t.ErrorKind)),
		nullString(t.ErrorMessage),
		nullString(t.ResultRef),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: task %s", store.ErrDuplicate, t.ID)
		}
		log.Error("failed to enqueue task",
			"task_id", t.ID,
			"error", err)
		return store.NewStoreError("analysis_task", "enqueue", "insert failed", err)
	}

	return nil
}

// ClaimNext atomically flips up to maxItems ready pending tasks to
// processing and returns the claimed rows. SKIP LOCKED makes rows already
// claimed by a racing caller invisible to the subselect, so each task is
// won exactly once.
func (s *TaskStore) ClaimNext(ctx context.Context, maxItems int) ([]*domain.AnalysisTask, error) {
	log := logger.FromContext(ctx)

	if maxItems <= 0 {
		return nil, nil
	}

	query := `
		UPDATE analysis_tasks
		SET status = $1, started_at = $2
		WHERE id IN (
			SELECT id FROM analysis_tasks
			WHERE status = $3 AND not_before <= $2
			ORDER BY priority DESC, queued_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, query,
		domain.TaskStatusProcessing,
		now,
		domain.TaskStatusPending,
		maxItems,
	)
	if err != nil {
		log.Error("failed to claim tasks", "max_items", maxItems, "error", err)
		return nil, store.NewStoreError("analysis_task", "claim", "conditional update failed", err)
	}
	defer func() { _ = rows.Close() }()

	tasks, err := scanTasks(rows)
	if err != nil {
		log.Error("failed to scan claimed tasks", "error", err)
		return nil, err
	}
	return tasks, nil
}

// MarkCompleted transitions a processing task to completed.
func (s *TaskStore) MarkCompleted(ctx context.Context, id uuid.UUID, resultRef string) error {
	query := `
		UPDATE analysis_tasks
		SET status = $1, completed_at = $2, result_ref = $3,
		    error_kind = NULL, error_message = NULL
		WHERE id = $4 AND status = $5
	`
	return s.conditionalUpdate(ctx, "mark_completed", id, query,
		domain.TaskStatusCompleted, time.Now().UTC(), resultRef, id, domain.TaskStatusProcessing)
}

// MarkFailed transitions a processing task to failed.
func (s *TaskStore) MarkFailed(ctx context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error {
	query := `
		UPDATE analysis_tasks
		SET status = $1, completed_at = $2, error_kind = $3, error_message = $4
		WHERE id = $5 AND status = $6
	`
	return s.conditionalUpdate(ctx, "mark_failed", id, query,
		domain.TaskStatusFailed, time.Now().UTC(), string(kind), msg, id, domain.TaskStatusProcessing)
}

// Requeue moves a processing task back to pending with a not-before
// stamp. The retry guard lives in the WHERE clause so the increment and
// the bound check are one atomic statement.
func (s *TaskStore) Requeue(ctx context.Context, id uuid.UUID, notBefore time.Time, countRetry bool) error {
	log := logger.FromContext(ctx)

	var query string
	var args []any
	if countRetry {
		query = `
			UPDATE analysis_tasks
			SET status = $1, not_before = $2, started_at = NULL,
			    retry_count = retry_count + 1
			WHERE id = $3 AND status = $4 AND retry_count < max_retries
		`
		args = []any{domain.TaskStatusPending, notBefore.UTC(), id, domain.TaskStatusProcessing}
	} else {
		query = `
			UPDATE analysis_tasks
			SET status = $1, not_before = $2, started_at = NULL
			WHERE id = $3 AND status = $4
		`
		args = []any{domain.TaskStatusPending, notBefore.UTC(), id, domain.TaskStatusProcessing}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to requeue task", "task_id", id, "error", err)
		return store.NewStoreError("analysis_task", "requeue", "update failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("analysis_task", "requeue", "rows affected unavailable", err)
	}
	if affected > 0 {
		return nil
	}

	// Zero rows: work out which guard rejected the update.
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != domain.TaskStatusProcessing {
		return fmt.Errorf("%w: task %s is %s", task.ErrConflict, id, t.Status)
	}
	return fmt.Errorf("%w: %d of %d", task.ErrRetriesExhausted, t.RetryCount, t.MaxRetries)
}

// GetTask returns the task with the given ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, store.NewStoreError("analysis_task", "get", "scan failed", err)
	}
	return t, nil
}

// ListByOwner returns the owner's tasks, optionally filtered by status,
// newest first.
func (s *TaskStore) ListByOwner(ctx context.Context, ownerID string, status *domain.TaskStatus) ([]*domain.AnalysisTask, error) {
	log := logger.FromContext(ctx)

	var query string
	var args []any
	if status != nil {
		query = `SELECT ` + taskColumns + `
			FROM analysis_tasks
			WHERE owner_id = $1 AND status = $2
			ORDER BY queued_at DESC`
		args = []any{ownerID, *status}
	} else {
		query = `SELECT ` + taskColumns + `
			FROM analysis_tasks
			WHERE owner_id = $1
			ORDER BY queued_at DESC`
		args = []any{ownerID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to list tasks", "owner_id", ownerID, "error", err)
		return nil, store.NewStoreError("analysis_task", "list", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTasks(rows)
}

// Metrics returns queue counters and the average enqueue-to-completion
// latency over completed tasks.
func (s *TaskStore) Metrics(ctx context.Context) (task.Metrics, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT status, COUNT(*),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - queued_at))), 0)
		FROM analysis_tasks
		GROUP BY status
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to query task metrics", "error", err)
		return task.Metrics{}, store.NewStoreError("analysis_task", "metrics", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	var m task.Metrics
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		var avgSeconds float64
		if err := rows.Scan(&status, &count, &avgSeconds); err != nil {
			return task.Metrics{}, store.NewStoreError("analysis_task", "metrics", "scan failed", err)
		}
		switch status {
		case domain.TaskStatusPending:
			m.Pending = count
		case domain.TaskStatusProcessing:
			m.Processing = count
		case domain.TaskStatusCompleted:
			m.Completed = count
			m.AvgLatency = time.Duration(avgSeconds * float64(time.Second))
		case domain.TaskStatusFailed:
			m.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return task.Metrics{}, store.NewStoreError("analysis_task", "metrics", "row iteration failed", err)
	}
	return m, nil
}

// ResetStale moves processing tasks whose claim is older than the given
// age back to pending. A zero age resets every processing row.
func (s *TaskStore) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE analysis_tasks
		SET status = $1, started_at = NULL, not_before = $2
		WHERE status = $3 AND (started_at IS NULL OR started_at <= $4)
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusPending,
		now,
		domain.TaskStatusProcessing,
		now.Add(-olderThan),
	)
	if err != nil {
		log.Error("failed to reset stale tasks", "error", err)
		return 0, store.NewStoreError("analysis_task", "reset_stale", "update failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("analysis_task", "reset_stale", "rows affected unavailable", err)
	}
	return int(affected), nil
}

// conditionalUpdate runs a status-guarded update and maps a zero-row
// result to not-found or conflict.
func (s *TaskStore) conditionalUpdate(ctx context.Context, op string, id uuid.UUID, query string, args ...any) error {
	log := logger.FromContext(ctx)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update task status", "task_id", id, "operation", op, "error", err)
		return store.NewStoreError("analysis_task", op, "update failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("analysis_task", op, "rows affected unavailable", err)
	}
	if affected > 0 {
		return nil
	}

	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: task %s is %s", task.ErrConflict, id, t.Status)
}

// scanner abstracts *sql.Row and *sql.Rows for the shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*domain.AnalysisTask, error) {
	var t domain.AnalysisTask
	var startedAt, completedAt sql.NullTime
	var errorKind, errorMessage, resultRef sql.NullString

	err := sc.Scan(
		&t.ID,
		&t.ContentRef,
		&t.OwnerID,
		&t.Priority,
		&t.Status,
		&t.RetryCount,
		&t.MaxRetries,
		&t.NotBefore,
		&t.QueuedAt,
		&startedAt,
		&completedAt,
		&errorKind,
		&errorMessage,
		&resultRef,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	t.ErrorKind = domain.ErrorKind(errorKind.String)
	t.ErrorMessage = errorMessage.String
	t.ResultRef = resultRef.String
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*domain.AnalysisTask, error) {
	var tasks []*domain.AnalysisTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("analysis_task", "scan", "row scan failed", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("analysis_task", "scan", "row iteration failed", err)
	}
	return tasks, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure TaskStore implements task.Store.
var _ task.Store = (*TaskStore)(nil)
