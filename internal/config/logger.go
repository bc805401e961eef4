package config

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds an *slog.Logger from a resolved LoggingConfig, matching
// buildLogger: config-file level as the baseline, text or
// JSON handler selected by format, output to File (or stderr if empty).
func NewLogger(cfg LoggingConfig) (*slog.Logger, error) {
	var level slog.Level

	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	w, err := logWriter(cfg.File)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func logWriter(path string) (io.Writer, error) {
	if path == "" {
		return os.Stderr, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	return f, nil
}
