package backoff

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, base, max time.Duration) (*Controller, *time.Time) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewController(base, max, logger)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestControllerDefaults(t *testing.T) {
	t.Parallel()

	c := NewController(0, 0, nil)
	assert.Equal(t, DefaultBaseDelay, c.baseDelay)
	assert.Equal(t, DefaultMaxDelay, c.maxDelay)

	c = NewController(10*time.Second, time.Second, nil)
	assert.Equal(t, c.baseDelay, c.maxDelay, "max below base clamps to base")
}

func TestAllowNow(t *testing.T) {
	t.Parallel()

	t.Run("unknown resource is allowed", func(t *testing.T) {
		t.Parallel()
		c, _ := newTestController(t, time.Second, time.Minute)
		assert.True(t, c.AllowNow("gemini"))
	})

	t.Run("blocked inside the delay window", func(t *testing.T) {
		t.Parallel()
		c, now := newTestController(t, time.Second, time.Minute)

		delay := c.RecordFailure("gemini")
		require.Equal(t, 2*time.Second, delay)

		assert.False(t, c.AllowNow("gemini"))

		*now = now.Add(delay - time.Millisecond)
		assert.False(t, c.AllowNow("gemini"))

		*now = now.Add(time.Millisecond)
		assert.True(t, c.AllowNow("gemini"))
	})

	t.Run("resources are independent", func(t *testing.T) {
		t.Parallel()
		c, _ := newTestController(t, time.Second, time.Minute)

		c.RecordFailure("gemini")
		assert.False(t, c.AllowNow("gemini"))
		assert.True(t, c.AllowNow("storage"))
	})
}

func TestRecordFailureEscalation(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, time.Second, time.Minute)

	// Delay doubles per consecutive failure until the cap.
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		time.Minute,
		time.Minute,
	}
	for i, w := range want {
		got := c.RecordFailure("gemini")
		assert.Equal(t, w, got, "failure %d", i+1)
	}

	st := c.Snapshot("gemini")
	assert.Equal(t, len(want), st.ConsecutiveFailures)
	assert.Equal(t, time.Minute, st.CurrentDelay)
}

func TestRecordSuccessResets(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, time.Second, time.Minute)

	c.RecordFailure("gemini")
	c.RecordFailure("gemini")
	require.False(t, c.AllowNow("gemini"))

	c.RecordSuccess("gemini")

	assert.True(t, c.AllowNow("gemini"))
	st := c.Snapshot("gemini")
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Equal(t, time.Second, st.CurrentDelay)

	// The next failure starts the progression over.
	assert.Equal(t, 2*time.Second, c.RecordFailure("gemini"))
}

func TestNextAllowed(t *testing.T) {
	t.Parallel()

	c, now := newTestController(t, time.Second, time.Minute)

	assert.Equal(t, *now, c.NextAllowed("gemini"), "healthy resource is allowed immediately")

	delay := c.RecordFailure("gemini")
	assert.Equal(t, now.Add(delay), c.NextAllowed("gemini"))
}

func TestRecordFailureOverflowGuard(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, time.Hour, 24*time.Hour)

	// Enough doublings to overflow a left shift; the cap must hold.
	for i := 0; i < 80; i++ {
		got := c.RecordFailure("gemini")
		assert.Positive(t, got)
		assert.LessOrEqual(t, got, 24*time.Hour)
	}
}
