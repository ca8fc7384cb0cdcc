// Package backoff tracks consecutive failures per downstream resource and
// computes when the next call is allowed. It implements capped exponential
// backoff: delay doubles on every consecutive failure and resets to the
// base delay on the first success.
package backoff

import (
	"log/slog"
	"sync"
	"time"
)

// Default controller parameters.
const (
	DefaultBaseDelay = 2 * time.Second
	DefaultMaxDelay  = 5 * time.Minute
)

// State is a snapshot of a resource's backoff state.
type State struct {
	ConsecutiveFailures int
	CurrentDelay        time.Duration
	LastAttemptAt       time.Time
}

type resourceState struct {
	consecutiveFailures int
	currentDelay        time.Duration
	lastAttemptAt       time.Time
}

// Controller holds per-resource backoff state. A single mutex guards all
// resources so concurrent workers never race on failure counters.
type Controller struct {
	mu        sync.Mutex
	resources map[string]*resourceState
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewController creates a backoff controller. Non-positive delays fall
// back to the package defaults.
func NewController(baseDelay, maxDelay time.Duration, logger *slog.Logger) *Controller {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		resources: make(map[string]*resourceState),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		logger:    logger.With("component", "backoff"),
		now:       time.Now,
	}
}

// AllowNow reports whether the resource may be called now. A resource with
// no recorded failures is always allowed.
func (c *Controller) AllowNow(resource string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.resources[resource]
	if !ok || st.consecutiveFailures == 0 {
		return true
	}
	return !c.now().Before(st.lastAttemptAt.Add(st.currentDelay))
}

// RecordSuccess resets the resource to its healthy state: zero failures
// and the base delay.
func (c *Controller) RecordSuccess(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateLocked(resource)
	st.consecutiveFailures = 0
	st.currentDelay = c.baseDelay
	st.lastAttemptAt = c.now()
}

// RecordFailure escalates the resource's delay: failures increment and the
// delay doubles, capped at the controller maximum. Returns the new delay,
// which callers use to stamp a task's not-before time.
func (c *Controller) RecordFailure(resource string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateLocked(resource)
	st.consecutiveFailures++
	st.lastAttemptAt = c.now()

	delay := c.baseDelay << uint(st.consecutiveFailures)
	if delay > c.maxDelay || delay <= 0 { // shift overflow guard
		delay = c.maxDelay
	}
	st.currentDelay = delay

	c.logger.Debug("backoff escalated",
		"resource", resource,
		"consecutive_failures", st.consecutiveFailures,
		"delay", delay)

	return delay
}

// NextAllowed returns the earliest time the resource may be called again.
func (c *Controller) NextAllowed(resource string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.resources[resource]
	if !ok || st.consecutiveFailures == 0 {
		return c.now()
	}
	return st.lastAttemptAt.Add(st.currentDelay)
}

// Snapshot returns the current state of a resource.
func (c *Controller) Snapshot(resource string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.resources[resource]
	if !ok {
		return State{CurrentDelay: c.baseDelay}
	}
	return State{
		ConsecutiveFailures: st.consecutiveFailures,
		CurrentDelay:        st.currentDelay,
		LastAttemptAt:       st.lastAttemptAt,
	}
}

func (c *Controller) stateLocked(resource string) *resourceState {
	st, ok := c.resources[resource]
	if !ok {
		st = &resourceState{currentDelay: c.baseDelay}
		c.resources[resource] = st
	}
	return st
}
