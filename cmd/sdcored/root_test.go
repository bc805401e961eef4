package main

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spacedriveapp/sdcore/internal/config"
)

func resetFlags() {
	flagVerbose, flagDebug, flagQuiet = false, false, false
}

func TestBuildLogger_Default(t *testing.T) {
	resetFlags()

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_VerboseOverridesConfig(t *testing.T) {
	resetFlags()
	flagVerbose = true
	defer resetFlags()

	cfg := &config.Config{Logging: config.LoggingConfig{Level: "error"}}
	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_DebugOverridesConfig(t *testing.T) {
	resetFlags()
	flagDebug = true
	defer resetFlags()

	cfg := &config.Config{Logging: config.LoggingConfig{Level: "error"}}
	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverridesConfig(t *testing.T) {
	resetFlags()
	flagQuiet = true
	defer resetFlags()

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestCliContextFrom_NilContext(t *testing.T) {
	cc := cliContextFrom(context.Background())
	assert.Nil(t, cc)
}

func TestCliContextFrom_WithCLIContext(t *testing.T) {
	expected := &CLIContext{
		LibraryPath: "/tmp/lib",
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	ctx := context.WithValue(context.Background(), cliContextKey{}, expected)

	cc := cliContextFrom(ctx)
	assert.Equal(t, expected, cc)
	assert.Equal(t, "/tmp/lib", cc.LibraryPath)
}

func TestMustCLIContext_PanicsWithoutContext(t *testing.T) {
	assert.Panics(t, func() {
		mustCLIContext(context.Background())
	})
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"init", "start", "devices", "pair", "revoke", "spacedrop", "location", "volume"}

	for _, name := range expected {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		assert.Truef(t, found, "expected subcommand %q to be registered", name)
	}
}

func TestNewRootCmd_MutuallyExclusiveLoggingFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"devices", "--verbose", "--quiet", "--library", t.TempDir()})

	err := cmd.Execute()
	assert.Error(t, err)
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("SDCORE_TEST_VAR", "")
	assert.Equal(t, "fallback", envOrDefault("SDCORE_TEST_VAR", "fallback"))

	t.Setenv("SDCORE_TEST_VAR", "set-value")
	assert.Equal(t, "set-value", envOrDefault("SDCORE_TEST_VAR", "fallback"))
}
