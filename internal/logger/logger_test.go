package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/seqbot/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Output: &buf})
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Str("user_id", "7").Msg("hello")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "hello", entry["message"])
		assert.Equal(t, "7", entry["user_id"])
		assert.Contains(t, entry, "time")
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		logger.Debug().Msg("test message")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "loud", Console: true, Output: &buf})
		require.NoError(t, err)

		logger.Debug().Msg("hidden")
		logger.Info().Msg("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})

	t.Run("redaction", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Redaction: true, Output: &buf})
		require.NoError(t, err)

		logger.Info().Str("endpoint", "https://api.telegram.org/bot123456789:ABCdefGHIjklMNOpqrsTUVwxyz0123456/getMe").Msg("request")

		assert.NotContains(t, buf.String(), "ABCdefGHIjkl")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})

	t.Run("pretty console", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Pretty: true, Output: &buf})
		require.NoError(t, err)

		logger.Info().Msg("pretty")
		assert.False(t, strings.HasPrefix(buf.String(), "{"))
	})
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Console: true, Output: &buf})
	require.NoError(t, err)

	l := logger.Component("sequence")
	l.Info().Msg("x")

	assert.Contains(t, buf.String(), `"component":"sequence"`)
}

func TestFromConfig(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "seqbot.log")

	logger, err := FromConfig(config.LoggingConfig{Level: "warn", File: logFile, Redaction: true})
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Str("token", "123456789:ABCdefGHIjklMNOpqrsTUVwxyz0123456").Msg("kept")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), "ABCdefGHIjkl")
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error().Msg("nowhere")
	assert.NoError(t, logger.Close())
	assert.Equal(t, zerolog.Disabled, logger.GetZerolog().GetLevel())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
}
