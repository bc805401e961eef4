package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides, generalized from a
// per-drive ONEDRIVE_GO_* naming convention to SDCORE_*.
const (
	EnvConfig      = "SDCORE_CONFIG"
	EnvLibraryPath = "SDCORE_LIBRARY_PATH"
	EnvLogLevel    = "SDCORE_LOG_LEVEL"
)

// Load implements the layered resolver (defaults -> file -> environment
// -> flags) named in the ambient stack: start from DefaultConfig, decode
// path over it if it exists, then let environment variables override
// specific fields, the way a Load + ReadEnvOverrides pair would for
// per-drive config.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		logger.Debug("loading config file", "path", path)

		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Debug("config file does not exist, using defaults", "path", path)
			} else {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path as TOML, using toml.NewEncoder the way the
// teacher's mapToDrive re-encoding does — `sdcored init` uses this to
// persist the freshly-minted library UUID back to the config file.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	return nil
}

// applyEnvOverrides lets environment variables override specific fields
// without requiring a config file — useful for daemon deployments
// (containers, systemd units) that prefer env vars to files.
func applyEnvOverrides(cfg *Config) {
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}
}

// Resolve parses every duration-valued string field once, producing a
// ResolvedConfig ready to hand to constructors (§ ambient stack
// "Configuration" — "a layered resolver... producing a `ResolvedConfig`
// analogous to a `ResolvedDrive`").
func Resolve(cfg *Config) (*ResolvedConfig, error) {
	rc := &ResolvedConfig{
		Library:            cfg.Library,
		Filter:             cfg.Filter,
		Indexer:            cfg.Indexer,
		Logging:            cfg.Logging,
		Network:            cfg.Network,
		DependencyRetryMax: cfg.Sync.DependencyRetryMax,
	}

	var err error

	if rc.SyncPollInterval, err = time.ParseDuration(cfg.Sync.PollInterval); err != nil {
		return nil, fmt.Errorf("config: sync.poll_interval: %w", err)
	}

	if rc.SyncHeartbeatInterval, err = time.ParseDuration(cfg.Sync.HeartbeatInterval); err != nil {
		return nil, fmt.Errorf("config: sync.heartbeat_interval: %w", err)
	}

	if rc.SyncMaxBackoff, err = time.ParseDuration(cfg.Sync.MaxBackoff); err != nil {
		return nil, fmt.Errorf("config: sync.max_backoff: %w", err)
	}

	if rc.PairingCodeTTL, err = time.ParseDuration(cfg.Safety.PairingCodeTTL); err != nil {
		return nil, fmt.Errorf("config: safety.pairing_code_ttl: %w", err)
	}

	if rc.ConnectionDialTimeout, err = time.ParseDuration(cfg.Safety.ConnectionDialTimeout); err != nil {
		return nil, fmt.Errorf("config: safety.connection_dial_timeout: %w", err)
	}

	if rc.SyncRPCTimeout, err = time.ParseDuration(cfg.Safety.SyncRPCTimeout); err != nil {
		return nil, fmt.Errorf("config: safety.sync_rpc_timeout: %w", err)
	}

	return rc, nil
}
