package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Indexer.BatchSize, cfg.Indexer.BatchSize)
}

func TestLoad_ParsesTOMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	toml := `
[indexer]
batch_size = 2500
default_mode = "content"

[logging]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))

	cfg, err := Load(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 2500, cfg.Indexer.BatchSize)
	assert.Equal(t, "content", cfg.Indexer.DefaultMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	toml := `
[indexer]
batch_size = -1
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))

	_, err := Load(path, discardLogger())
	assert.Error(t, err)
}

func TestLoad_EnvOverridesLogLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load("", discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_RejectsBadDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.PollInterval = "not-a-duration"
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, Validate(cfg))
}

func TestResolve_ParsesAllDurations(t *testing.T) {
	rc, err := Resolve(DefaultConfig())
	require.NoError(t, err)
	assert.Greater(t, rc.SyncPollInterval.Seconds(), 0.0)
	assert.Greater(t, rc.PairingCodeTTL.Minutes(), 0.0)
}

func TestResolve_RejectsUnparseableDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Safety.SyncRPCTimeout = "nonsense"

	_, err := Resolve(cfg)
	assert.Error(t, err)
}

func TestNewLogger_TextAndJSON(t *testing.T) {
	l, err := NewLogger(LoggingConfig{Level: "info", Format: "text"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	l, err = NewLogger(LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")

	l, err := NewLogger(LoggingConfig{Level: "info", Format: "text", File: path})
	require.NoError(t, err)

	l.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
