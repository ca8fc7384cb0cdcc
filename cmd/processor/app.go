package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docassist/docassist-api/internal/analysis"
	"github.com/docassist/docassist-api/internal/backoff"
	"github.com/docassist/docassist-api/internal/cache"
	"github.com/docassist/docassist-api/internal/config"
	"github.com/docassist/docassist-api/internal/events"
	"github.com/docassist/docassist-api/internal/platform/content"
	"github.com/docassist/docassist-api/internal/platform/gemini"
	"github.com/docassist/docassist-api/internal/platform/metrics"
	"github.com/docassist/docassist-api/internal/platform/postgres"
	"github.com/docassist/docassist-api/internal/service"
	"github.com/docassist/docassist-api/internal/task"
)

// queueStatsInterval is how often queue depth and latency are logged.
const queueStatsInterval = time.Minute

// application bundles everything that needs a coordinated start and stop.
type application struct {
	db          *sql.DB
	dispatcher  *task.Dispatcher
	resultCache *cache.Cache[*analysis.Result]
	svc         *service.AnalysisService
	metricsSrv  *http.Server
	cfg         *config.Config
	logger      *slog.Logger

	statsCancel context.CancelFunc
	statsDone   chan struct{}
}

// buildApplication wires the pipeline from configuration: database and
// migrations, the dedupe cache, the provider backoff controller, the
// Gemini analyzer, the worker and the dispatcher.
func buildApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	db, err := openDatabase(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	taskStore := postgres.NewTaskStore(db)

	resultCache := cache.New[*analysis.Result](
		cfg.Cache.Capacity,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		log,
	)
	resultCache.StartSweeper(time.Duration(cfg.Cache.SweepIntervalSecs) * time.Second)

	limiter := backoff.NewController(
		time.Duration(cfg.RateLimit.BaseDelaySeconds)*time.Second,
		time.Duration(cfg.RateLimit.MaxDelaySeconds)*time.Second,
		log,
	)

	emitter := events.NewInMemoryEmitter(log)
	emitter.RegisterHandler(events.NewLoggingHandler(log))

	fetcher := content.NewHTTPFetcher(nil, log)

	analyzer, err := gemini.NewAnalyzer(ctx, log, cfg.LLM)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	workerCfg := task.DefaultWorkerConfig()
	workerCfg.AnalyzeTimeout = time.Duration(cfg.Pipeline.AnalyzeTimeoutSeconds) * time.Second
	workerCfg.CacheTTL = time.Duration(cfg.Cache.TTLSeconds) * time.Second

	worker, err := task.NewWorker(taskStore, fetcher, analyzer, limiter, resultCache, emitter, m, workerCfg, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	dispatcherCfg := task.DispatcherConfig{
		MaxConcurrent:          cfg.Pipeline.MaxConcurrent,
		PollInterval:           time.Duration(cfg.Pipeline.PollIntervalSeconds) * time.Second,
		IdlePollInterval:       time.Duration(cfg.Pipeline.IdlePollIntervalSeconds) * time.Second,
		ShutdownTimeout:        time.Duration(cfg.Pipeline.ShutdownTimeoutSeconds) * time.Second,
		StuckTaskAge:           time.Duration(cfg.Pipeline.StuckTaskAgeMinutes) * time.Minute,
		StuckTaskCheckInterval: time.Duration(cfg.Pipeline.StuckTaskCheckIntervalMinutes) * time.Minute,
	}
	dispatcher, err := task.NewDispatcher(taskStore, worker, limiter, m, dispatcherCfg, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	svc, err := service.NewAnalysisService(taskStore, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create analysis service: %w", err)
	}

	app := &application{
		db:          db,
		dispatcher:  dispatcher,
		resultCache: resultCache,
		svc:         svc,
		cfg:         cfg,
		logger:      log,
	}

	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		app.metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return app, nil
}

// Start brings the pipeline up: dispatcher loop, queue-stats logger and
// the metrics endpoint when configured.
func (a *application) Start() error {
	if err := a.dispatcher.Start(); err != nil {
		return err
	}

	statsCtx, cancel := context.WithCancel(context.Background())
	a.statsCancel = cancel
	a.statsDone = make(chan struct{})
	go a.queueStatsLoop(statsCtx)

	if a.metricsSrv != nil {
		go func() {
			a.logger.Info("metrics endpoint listening", "addr", a.metricsSrv.Addr)
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
	}
	return nil
}

// Stop drains the pipeline in dependency order: no new claims, then
// workers, then the supporting pieces.
func (a *application) Stop() {
	a.dispatcher.Stop()

	if a.statsCancel != nil {
		a.statsCancel()
		<-a.statsDone
	}

	a.resultCache.StopSweeper()

	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close failed", "error", err)
	}
	a.logger.Info("processor stopped")
}

// queueStatsLoop periodically logs queue depth and completion latency so
// operators can watch the pipeline without a metrics scraper.
func (a *application) queueStatsLoop(ctx context.Context) {
	defer close(a.statsDone)

	ticker := time.NewTicker(queueStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := a.svc.Metrics(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					a.logger.Warn("failed to read queue metrics", "error", err)
				}
				continue
			}
			cacheStats := a.resultCache.Stats()
			a.logger.Info("queue stats",
				"pending", stats.Pending,
				"processing", stats.Processing,
				"completed", stats.Completed,
				"failed", stats.Failed,
				"avg_latency", stats.AvgLatency,
				"cache_hit_rate", cacheStats.HitRate,
				"cache_size", cacheStats.Size)
		}
	}
}
