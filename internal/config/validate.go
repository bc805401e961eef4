package config

import (
	"fmt"
	"time"
)

// Validate checks a Config for internally-consistent, parseable values,
// failing fast on a malformed config file rather than surfacing a
// confusing error deep inside a constructor.
func Validate(cfg *Config) error {
	if cfg.Indexer.BatchSize <= 0 {
		return fmt.Errorf("indexer.batch_size must be positive, got %d", cfg.Indexer.BatchSize)
	}

	if cfg.Indexer.ContentHashWorkers <= 0 {
		return fmt.Errorf("indexer.content_hash_workers must be positive, got %d", cfg.Indexer.ContentHashWorkers)
	}

	switch cfg.Indexer.DefaultMode {
	case "shallow", "content", "deep":
	default:
		return fmt.Errorf("indexer.default_mode must be one of shallow/content/deep, got %q", cfg.Indexer.DefaultMode)
	}

	for name, val := range map[string]string{
		"sync.poll_interval":             cfg.Sync.PollInterval,
		"sync.heartbeat_interval":        cfg.Sync.HeartbeatInterval,
		"sync.max_backoff":               cfg.Sync.MaxBackoff,
		"safety.pairing_code_ttl":        cfg.Safety.PairingCodeTTL,
		"safety.connection_dial_timeout": cfg.Safety.ConnectionDialTimeout,
		"safety.sync_rpc_timeout":        cfg.Safety.SyncRPCTimeout,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, val, err)
		}
	}

	if cfg.Sync.DependencyRetryMax <= 0 {
		return fmt.Errorf("sync.dependency_retry_max must be positive, got %d", cfg.Sync.DependencyRetryMax)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}

	return nil
}
