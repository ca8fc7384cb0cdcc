package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/docassist/docassist-api/internal/analysis"
	"github.com/docassist/docassist-api/internal/backoff"
	"github.com/docassist/docassist-api/internal/cache"
	"github.com/docassist/docassist-api/internal/domain"
	"github.com/docassist/docassist-api/internal/events"
	"github.com/docassist/docassist-api/internal/platform/metrics"
)

// ResourceAIProvider names the AI provider in the backoff controller.
const ResourceAIProvider = "ai_provider"

// WorkerConfig holds per-task execution settings.
type WorkerConfig struct {
	// AnalyzeTimeout bounds a single provider call.
	AnalyzeTimeout time.Duration

	// RetryBaseDelay seeds the transient-failure requeue delay, doubled
	// per retry already consumed and capped at RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// CacheTTL bounds how long an analysis result serves dedupe hits.
	CacheTTL time.Duration

	// BuildRequest converts a claimed task and its fetched content into an
	// analysis request. The host injects this to attach patient and visit
	// context to the prompt; when nil a bare request is built from the
	// content reference.
	BuildRequest func(t *domain.AnalysisTask, content []byte) analysis.Request
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		AnalyzeTimeout: 2 * time.Minute,
		RetryBaseDelay: 5 * time.Second,
		RetryMaxDelay:  10 * time.Minute,
		CacheTTL:       24 * time.Hour,
	}
}

// Worker executes exactly one claimed task: fetch content, consult the
// dedupe cache, call the AI provider under the rate limiter, classify the
// outcome and persist it. All provider and fetch failures are classified
// here; nothing escapes to the dispatcher except programming defects.
type Worker struct {
	store    Store
	fetcher  analysis.ContentFetcher
	analyzer analysis.Analyzer
	limiter  *backoff.Controller
	cache    *cache.Cache[*analysis.Result]
	emitter  events.Emitter
	metrics  *metrics.Metrics
	config   WorkerConfig
	logger   *slog.Logger
}

// NewWorker creates a worker with the given collaborators.
func NewWorker(
	store Store,
	fetcher analysis.ContentFetcher,
	analyzer analysis.Analyzer,
	limiter *backoff.Controller,
	resultCache *cache.Cache[*analysis.Result],
	emitter events.Emitter,
	m *metrics.Metrics,
	config WorkerConfig,
	logger *slog.Logger,
) (*Worker, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if fetcher == nil {
		return nil, errors.New("content fetcher cannot be nil")
	}
	if analyzer == nil {
		return nil, errors.New("analyzer cannot be nil")
	}
	if limiter == nil {
		return nil, errors.New("backoff controller cannot be nil")
	}
	if resultCache == nil {
		return nil, errors.New("result cache cannot be nil")
	}
	if emitter == nil {
		return nil, errors.New("event emitter cannot be nil")
	}
	if m == nil {
		return nil, errors.New("metrics cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if config.AnalyzeTimeout <= 0 {
		config.AnalyzeTimeout = DefaultWorkerConfig().AnalyzeTimeout
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = DefaultWorkerConfig().RetryBaseDelay
	}
	if config.RetryMaxDelay < config.RetryBaseDelay {
		config.RetryMaxDelay = DefaultWorkerConfig().RetryMaxDelay
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultWorkerConfig().CacheTTL
	}
	if config.BuildRequest == nil {
		config.BuildRequest = defaultBuildRequest
	}

	return &Worker{
		store:    store,
		fetcher:  fetcher,
		analyzer: analyzer,
		limiter:  limiter,
		cache:    resultCache,
		emitter:  emitter,
		metrics:  m,
		config:   config,
		logger:   logger.With("component", "worker"),
	}, nil
}

// Process runs one claimed task to a requeue or a terminal state. The
// task must already be in processing status.
func (w *Worker) Process(ctx context.Context, t *domain.AnalysisTask) {
	logger := w.logger.With("task_id", t.ID, "content_ref", t.ContentRef)
	start := time.Now()
	defer func() {
		w.metrics.ProcessingSeconds.Observe(time.Since(start).Seconds())
	}()

	logger.Info("processing analysis task",
		"priority", t.Priority,
		"retry_count", t.RetryCount)

	content, err := w.fetcher.Fetch(ctx, t.ContentRef)
	if err != nil {
		w.handleFetchError(ctx, t, err, logger)
		return
	}

	key := analysis.ContentAddress(analysis.OpDocumentAnalysis, content)
	if result, ok := w.cache.Get(key); ok {
		w.metrics.CacheLookups.WithLabelValues("hit").Inc()
		logger.Info("dedupe cache hit, completing without provider call", "cache_key", key)
		w.complete(ctx, t, key, result, logger)
		return
	}
	w.metrics.CacheLookups.WithLabelValues("miss").Inc()

	// Rate-limit deferrals are not failures: the task goes back to pending
	// with the limiter's next-allowed stamp and its retry quota untouched.
	if !w.limiter.AllowNow(ResourceAIProvider) {
		notBefore := w.limiter.NextAllowed(ResourceAIProvider)
		logger.Info("provider rate limited, deferring task", "not_before", notBefore)
		w.requeueDeferral(ctx, t, notBefore, logger)
		return
	}

	req := w.config.BuildRequest(t, content)
	analyzeCtx, cancel := context.WithTimeout(ctx, w.config.AnalyzeTimeout)
	result, err := w.analyzer.Analyze(analyzeCtx, content, req)
	cancel()

	if err != nil {
		w.handleAnalyzeError(ctx, t, err, logger)
		return
	}

	w.limiter.RecordSuccess(ResourceAIProvider)
	w.cache.Set(key, result, w.config.CacheTTL)
	w.complete(ctx, t, key, result, logger)
}

// complete marks the task completed and emits the completion event.
func (w *Worker) complete(ctx context.Context, t *domain.AnalysisTask, resultRef string, result *analysis.Result, logger *slog.Logger) {
	if err := w.store.MarkCompleted(ctx, t.ID, resultRef); err != nil {
		// A conflicting mark means the recovery sweep reset this task and
		// another worker owns it now; the other claim will finish it.
		logger.Warn("failed to mark task completed", "error", err)
		return
	}

	w.metrics.TasksFinished.WithLabelValues(string(events.OutcomeCompleted)).Inc()
	logger.Info("analysis task completed",
		"document_type", result.DocumentType,
		"confidence", result.ConfidenceScore)

	event := events.NewAnalysisEvent(t.ID, events.OutcomeCompleted, result.Summary)
	w.emit(ctx, event, logger)
}

// fail marks the task failed and emits the failure event.
func (w *Worker) fail(ctx context.Context, t *domain.AnalysisTask, kind domain.ErrorKind, msg string, alertWorthy bool, logger *slog.Logger) {
	if err := w.store.MarkFailed(ctx, t.ID, kind, msg); err != nil {
		logger.Warn("failed to mark task failed", "error", err)
		return
	}

	w.metrics.TasksFinished.WithLabelValues(string(events.OutcomeFailed)).Inc()
	logger.Error("analysis task failed", "error_kind", kind, "error_message", msg)

	event := events.NewAnalysisEvent(t.ID, events.OutcomeFailed, msg)
	event.ErrorKind = string(kind)
	event.AlertWorthy = alertWorthy
	w.emit(ctx, event, logger)
}

// emit publishes a terminal event. Emission is fire-and-forget: a handler
// failure never rolls back the task's terminal state.
func (w *Worker) emit(ctx context.Context, event *events.AnalysisEvent, logger *slog.Logger) {
	if err := w.emitter.EmitEvent(ctx, event); err != nil {
		logger.Warn("failed to emit analysis event",
			"event_id", event.ID,
			"outcome", event.Outcome,
			"error", err)
	}
}

// requeueDeferral sends a task back to pending without consuming retry
// quota.
func (w *Worker) requeueDeferral(ctx context.Context, t *domain.AnalysisTask, notBefore time.Time, logger *slog.Logger) {
	if err := w.store.Requeue(ctx, t.ID, notBefore, false); err != nil {
		logger.Warn("failed to defer task", "error", err)
		return
	}
	w.metrics.TasksRequeued.WithLabelValues(metrics.RequeueDeferral).Inc()
}

// requeueRetry sends a task back to pending, consuming one retry. When the
// quota is exhausted the task fails terminally instead.
func (w *Worker) requeueRetry(ctx context.Context, t *domain.AnalysisTask, cause error, logger *slog.Logger) {
	delay := w.retryDelay(t.RetryCount)
	notBefore := time.Now().UTC().Add(delay)

	err := w.store.Requeue(ctx, t.ID, notBefore, true)
	if err == nil {
		w.metrics.TasksRequeued.WithLabelValues(metrics.RequeueRetry).Inc()
		logger.Info("requeued task after transient failure",
			"retry_count", t.RetryCount+1,
			"max_retries", t.MaxRetries,
			"not_before", notBefore,
			"cause", cause)
		return
	}

	if errors.Is(err, ErrRetriesExhausted) {
		w.fail(ctx, t, domain.ErrorKindTransient,
			fmt.Sprintf("retries exhausted after %d attempts: %v", t.MaxRetries, cause),
			false, logger)
		return
	}
	logger.Warn("failed to requeue task", "error", err)
}

// retryDelay doubles the base delay per retry already consumed, capped.
func (w *Worker) retryDelay(retryCount int) time.Duration {
	delay := w.config.RetryBaseDelay << uint(retryCount)
	if delay > w.config.RetryMaxDelay || delay <= 0 {
		delay = w.config.RetryMaxDelay
	}
	return delay
}

// handleFetchError classifies a content-fetch failure.
func (w *Worker) handleFetchError(ctx context.Context, t *domain.AnalysisTask, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, analysis.ErrContentNotFound), errors.Is(err, analysis.ErrContentRejected):
		w.fail(ctx, t, domain.ErrorKindContent,
			fmt.Sprintf("content %q unavailable: %v", t.ContentRef, err), false, logger)
	default:
		// Fetch failures are transient by default: network blips and
		// storage timeouts dominate here.
		w.requeueRetry(ctx, t, fmt.Errorf("content fetch: %w", err), logger)
	}
}

// handleAnalyzeError classifies a provider failure. The match is
// exhaustive over the analysis sentinel errors; anything unknown is
// treated as transient, mirroring how the provider wrapper treats raw API
// errors.
func (w *Worker) handleAnalyzeError(ctx context.Context, t *domain.AnalysisTask, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, analysis.ErrRateLimited):
		delay := w.limiter.RecordFailure(ResourceAIProvider)
		notBefore := time.Now().UTC().Add(delay)
		logger.Warn("provider rate limit hit, escalating backoff",
			"delay", delay,
			"not_before", notBefore)
		w.requeueDeferral(ctx, t, notBefore, logger)

	case errors.Is(err, analysis.ErrContentRejected), errors.Is(err, analysis.ErrInvalidResponse):
		w.fail(ctx, t, domain.ErrorKindContent, err.Error(), false, logger)

	case errors.Is(err, analysis.ErrPermanent):
		w.fail(ctx, t, domain.ErrorKindPermanent, err.Error(), true, logger)

	default:
		w.requeueRetry(ctx, t, err, logger)
	}
}

// defaultBuildRequest frames a request from the content reference alone.
func defaultBuildRequest(t *domain.AnalysisTask, content []byte) analysis.Request {
	return analysis.Request{
		FileName: filepath.Base(t.ContentRef),
	}
}
