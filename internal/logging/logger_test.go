package logging

import (
	"os"
	"path/filepath"
	"testing"

	"rentsync/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	appCfg := config.AppConfig{
		Name:        "rentsync-test",
		Environment: "test",
		Version:     "1.0.0",
	}

	t.Run("DefaultStdout", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "info", Output: "stdout"}
		logs, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logs.For("queue"))
		assert.Nil(t, logs.closer)
		assert.Equal(t, zerolog.InfoLevel, logs.Level("queue"))
		assert.NoError(t, logs.Close())
	})

	t.Run("Stderr", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "debug", Output: "stderr"}
		logs, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.Equal(t, zerolog.DebugLevel, logs.For("api").GetLevel())
	})

	t.Run("Console", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "warn", Output: "discard", Format: "console"}
		logs, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.Equal(t, zerolog.WarnLevel, logs.Level("api"))
	})

	t.Run("File", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "rentsync.log")
		cfg := config.LoggingConfig{Level: "error", Output: "file", FilePath: logPath}
		logs, err := New(cfg, appCfg)
		require.NoError(t, err)
		require.NotNil(t, logs.closer)
		logs.For("syncengine").Error().Msg("written")
		require.NoError(t, logs.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"app":"rentsync-test"`)
		assert.Contains(t, string(data), `"component":"syncengine"`)
		assert.Contains(t, string(data), `"host":`)
	})

	t.Run("FileMissingPath", func(t *testing.T) {
		cfg := config.LoggingConfig{Output: "file", FilePath: ""}
		_, err := New(cfg, appCfg)
		assert.Error(t, err)
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "invalid", Output: "discard"}
		logs, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, logs.Level("queue"))
	})

	t.Run("ComponentOverrides", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "rentsync.log")
		cfg := config.LoggingConfig{
			Level:      "warn",
			Output:     "file",
			FilePath:   logPath,
			Components: map[string]string{"syncengine": "debug", "api": "error"},
		}
		logs, err := New(cfg, appCfg)
		require.NoError(t, err)

		assert.Equal(t, zerolog.DebugLevel, logs.Level("syncengine"))
		assert.Equal(t, zerolog.ErrorLevel, logs.Level("api"))
		assert.Equal(t, zerolog.WarnLevel, logs.Level("queue"))

		logs.For("syncengine").Debug().Msg("pass started")
		logs.For("api").Warn().Msg("slow request")
		logs.For("queue").Info().Msg("queue loaded")
		require.NoError(t, logs.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "pass started")
		assert.NotContains(t, string(data), "slow request")
		assert.NotContains(t, string(data), "queue loaded")
	})

	t.Run("UnknownComponentLevel", func(t *testing.T) {
		cfg := config.LoggingConfig{Output: "discard", Components: map[string]string{"queue": "loud"}}
		_, err := New(cfg, appCfg)
		assert.ErrorContains(t, err, "logging.components.queue")
	})
}

func TestNilSet(t *testing.T) {
	var logs *Set
	assert.NotPanics(t, func() {
		logs.For("x").Info().Msg("dropped")
	})
	assert.Equal(t, zerolog.Disabled, logs.Level("x"))
	assert.NoError(t, logs.Close())
}
