package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docassist/docassist-api/internal/domain"
	"github.com/docassist/docassist-api/internal/platform/metrics"
)

// DispatcherConfig holds configuration for the scheduler loop.
type DispatcherConfig struct {
	// MaxConcurrent is the hard cap on simultaneously running workers.
	MaxConcurrent int

	// PollInterval is the base tick. The loop returns to it whenever a
	// tick claims work and stretches toward IdlePollInterval while the
	// queue stays empty.
	PollInterval     time.Duration
	IdlePollInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight workers.
	// Workers still running afterward are abandoned in processing state
	// for the recovery sweep to pick up.
	ShutdownTimeout time.Duration

	// StuckTaskAge defines how long a task can sit in processing before
	// the recovery sweep resets it, guarding against crashed workers.
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often the recovery sweep runs.
	StuckTaskCheckInterval time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable
// defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConcurrent:          10,
		PollInterval:           5 * time.Second,
		IdlePollInterval:       30 * time.Second,
		ShutdownTimeout:        30 * time.Second,
		StuckTaskAge:           30 * time.Minute,
		StuckTaskCheckInterval: 5 * time.Minute,
	}
}

// Dispatcher owns the scheduler loop: it periodically claims ready tasks
// from the store and launches workers for them under the concurrency
// semaphore, without ever awaiting completion in the loop itself.
type Dispatcher struct {
	store   Store
	worker  *Worker
	limiter interface{ AllowNow(resource string) bool }
	metrics *metrics.Metrics
	config  DispatcherConfig
	logger  *slog.Logger

	sem      *semaphore.Weighted
	inFlight atomic.Int64

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	startMu sync.Mutex
	started bool
}

// NewDispatcher creates a dispatcher. The limiter is consulted before
// claiming so a paused provider does not drain the queue into deferrals.
func NewDispatcher(
	store Store,
	worker *Worker,
	limiter interface{ AllowNow(resource string) bool },
	m *metrics.Metrics,
	config DispatcherConfig,
	logger *slog.Logger,
) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if worker == nil {
		return nil, errors.New("worker cannot be nil")
	}
	if limiter == nil {
		return nil, errors.New("limiter cannot be nil")
	}
	if m == nil {
		return nil, errors.New("metrics cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	defaults := DefaultDispatcherConfig()
	if config.MaxConcurrent <= 0 {
		logger.Warn("invalid max concurrent specified, using default",
			"specified", config.MaxConcurrent,
			"default", defaults.MaxConcurrent)
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.IdlePollInterval < config.PollInterval {
		config.IdlePollInterval = config.PollInterval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = defaults.StuckTaskAge
	}
	if config.StuckTaskCheckInterval <= 0 {
		config.StuckTaskCheckInterval = defaults.StuckTaskCheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:      store,
		worker:     worker,
		limiter:    limiter,
		metrics:    m,
		config:     config,
		logger:     logger.With("component", "dispatcher"),
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrent)),
		ctx:        ctx,
		cancelFunc: cancel,
	}, nil
}

// Start recovers tasks abandoned by a previous run, then launches the
// scheduler loop and the stuck-task sweep.
func (d *Dispatcher) Start() error {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}

	// Anything still marked processing belongs to a crashed run; no
	// worker of ours holds it, so reset it without consuming quota.
	reset, err := d.store.ResetStale(d.ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to recover abandoned tasks: %w", err)
	}
	if reset > 0 {
		d.logger.Info("recovered abandoned tasks from previous run", "count", reset)
	}

	d.wg.Add(2)
	go d.loop()
	go d.stuckTaskSweep()

	d.started = true
	d.logger.Info("dispatcher started",
		"max_concurrent", d.config.MaxConcurrent,
		"poll_interval", d.config.PollInterval)
	return nil
}

// Stop cancels the loop and drains in-flight workers up to the shutdown
// timeout. Tasks still running afterward stay in processing for the next
// run's recovery pass.
func (d *Dispatcher) Stop() {
	d.cancelFunc()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
	case <-time.After(d.config.ShutdownTimeout):
		d.logger.Warn("shutdown timeout reached, abandoning in-flight tasks",
			"in_flight", d.inFlight.Load())
	}
}

// InFlight returns the number of workers currently executing.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// loop is the scheduler: one claim pass per tick, with the tick interval
// shrinking to the base while work is flowing and stretching toward the
// idle interval while the queue is empty.
func (d *Dispatcher) loop() {
	defer d.wg.Done()

	interval := d.config.PollInterval
	timer := time.NewTimer(0) // first pass immediately
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timer.C:
		}

		claimed := d.tick()
		if claimed > 0 {
			interval = d.config.PollInterval
		} else {
			interval *= 2
			if interval > d.config.IdlePollInterval {
				interval = d.config.IdlePollInterval
			}
		}
		timer.Reset(interval)
	}
}

// tick performs one claim pass and returns how many tasks were launched.
func (d *Dispatcher) tick() int {
	available := d.config.MaxConcurrent - int(d.inFlight.Load())
	if available <= 0 {
		return 0
	}
	if !d.limiter.AllowNow(ResourceAIProvider) {
		d.logger.Debug("provider backoff active, skipping claim pass")
		return 0
	}

	claimed, err := d.store.ClaimNext(d.ctx, available)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.logger.Error("failed to claim tasks", "error", err)
		}
		return 0
	}
	if len(claimed) == 0 {
		return 0
	}

	d.logger.Debug("claimed tasks", "count", len(claimed), "available", available)
	for _, t := range claimed {
		d.launch(t)
	}
	return len(claimed)
}

// launch runs one worker goroutine under the concurrency semaphore.
func (d *Dispatcher) launch(t *domain.AnalysisTask) {
	// Claims never exceed the available slots, so acquisition can only
	// fail if the dispatcher is shutting down; put the task back then.
	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		if requeueErr := d.store.Requeue(context.Background(), t.ID, time.Now().UTC(), false); requeueErr != nil {
			d.logger.Warn("failed to requeue task during shutdown",
				"task_id", t.ID, "error", requeueErr)
		}
		return
	}

	d.metrics.TasksClaimed.Inc()
	d.inFlight.Add(1)
	d.metrics.TasksInFlight.Inc()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)
		defer d.sem.Release(1)
		defer d.metrics.TasksInFlight.Dec()
		defer d.recoverWorkerPanic(t)

		d.worker.Process(d.ctx, t)
	}()
}

// recoverWorkerPanic converts a worker panic into a terminal failure so a
// programming defect in one task can never take the loop down.
func (d *Dispatcher) recoverWorkerPanic(t *domain.AnalysisTask) {
	p := recover()
	if p == nil {
		return
	}

	d.logger.Error("worker panicked",
		"task_id", t.ID,
		"panic", p,
		"stack", string(debug.Stack()))

	msg := fmt.Sprintf("worker panic: %v", p)
	if err := d.store.MarkFailed(context.Background(), t.ID, domain.ErrorKindInternal, msg); err != nil {
		d.logger.Error("failed to mark panicked task failed",
			"task_id", t.ID, "error", err)
	} else {
		d.metrics.TasksFinished.WithLabelValues("failed").Inc()
	}
}

// stuckTaskSweep periodically resets tasks stuck in processing past the
// staleness threshold, the guard against workers lost to a crash.
func (d *Dispatcher) stuckTaskSweep() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			reset, err := d.store.ResetStale(d.ctx, d.config.StuckTaskAge)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					d.logger.Error("failed to reset stuck tasks", "error", err)
				}
				continue
			}
			if reset > 0 {
				d.logger.Info("reset stuck tasks", "count", reset, "older_than", d.config.StuckTaskAge)
			}
		}
	}
}
