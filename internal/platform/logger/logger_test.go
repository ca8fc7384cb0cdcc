package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docassist/docassist-api/internal/config"
)

func TestSetup(t *testing.T) {
	t.Run("accepts every defined level", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "Info"} {
			logger, err := Setup(config.ServerConfig{LogLevel: level})
			require.NoError(t, err, "level %q", level)
			assert.NotNil(t, logger)
		}
	})

	t.Run("empty level is an error", func(t *testing.T) {
		_, err := Setup(config.ServerConfig{})
		assert.Error(t, err)
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		logger, err := Setup(config.ServerConfig{LogLevel: "verbose"})
		require.NoError(t, err)
		assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
		assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	})
}

func TestContextCarriage(t *testing.T) {
	attached := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := WithLogger(context.Background(), attached)
	assert.Same(t, attached, FromContext(ctx))

	fallback := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Same(t, attached, FromContextOrDefault(ctx, fallback))
	assert.Same(t, fallback, FromContextOrDefault(context.Background(), fallback))

	// A bare context falls back to the process default.
	assert.NotNil(t, FromContext(context.Background()))
}
