// Package config implements TOML configuration loading, validation, and
// environment-variable overrides for a Spacedrive library, generalized
// from a per-drive `internal/config` layout to a
// per-library scope (§2 "Storage model & schema" sits beneath every
// other component; this package configures how all of them behave).
package config

import "time"

// Config is the top-level, per-library configuration structure,
// generalized from a per-drive scope to per-library (filter/indexer/
// sync/safety/logging/network sections).
type Config struct {
	Library   LibraryConfig   `toml:"library"`
	Filter    FilterConfig    `toml:"filter"`
	Indexer   IndexerConfig   `toml:"indexer"`
	Sync      SyncConfig      `toml:"sync"`
	Safety    SafetyConfig    `toml:"safety"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// LibraryConfig identifies this library across devices. UUID is minted
// once by `sdcored init` and written back to the config file; every
// device that joins the same library shares it (§3 "library_id").
type LibraryConfig struct {
	UUID string `toml:"uuid"`
	Name string `toml:"name"`
}

// FilterConfig controls which filesystem entries the indexer's
// IndexerRuler (§4.1.1) accepts by default.
type FilterConfig struct {
	SkipHiddenFiles  bool     `toml:"skip_hidden_files"`
	SkipSystemFiles  bool     `toml:"skip_system_files"`
	SkipDevDirs      bool     `toml:"skip_dev_dirs"`
	HonourGitignore  bool     `toml:"honour_gitignore"`
	OnlyImages       bool     `toml:"only_images"`
	ExtraIgnoreGlobs []string `toml:"extra_ignore_globs"`
}

// IndexerConfig controls indexer job parallelism and batching (§4.1
// Configuration).
type IndexerConfig struct {
	BatchSize         int    `toml:"batch_size"`
	ContentHashWorkers int   `toml:"content_hash_workers"`
	DefaultMode       string `toml:"default_mode"`
}

// SyncConfig holds the §4.6 per-peer sync loop's cadence and retry
// settings. DependencyRetryMax is validated and carried into
// ResolvedConfig, but internal/syncengine does not read it; its
// escalation threshold is the maxDependencyDeferrals constant (20).
type SyncConfig struct {
	PollInterval       string `toml:"poll_interval"`
	HeartbeatInterval  string `toml:"heartbeat_interval"`
	MaxBackoff         string `toml:"max_backoff"`
	DependencyRetryMax int    `toml:"dependency_retry_max"`
}

// SafetyConfig controls protective defaults (§5 timeouts, §7 retry policy).
type SafetyConfig struct {
	PairingCodeTTL     string `toml:"pairing_code_ttl"`
	ConnectionDialTimeout string `toml:"connection_dial_timeout"`
	SyncRPCTimeout     string `toml:"sync_rpc_timeout"`
}

// LoggingConfig controls slog output (§ ambient stack "Logging").
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
	File   string `toml:"file"`   // empty means stderr
}

// NetworkConfig controls the secure transport's dial/request timeouts
// (§5 Timeouts).
type NetworkConfig struct {
	DialTimeout    string `toml:"dial_timeout"`
	RequestTimeout string `toml:"request_timeout"`
}

// DefaultConfig returns the built-in defaults, matching §5's named
// timeout values (pairing 5m total/30s per RPC, sync RPC 30s, dial 10s).
func DefaultConfig() *Config {
	return &Config{
		Filter: FilterConfig{
			SkipHiddenFiles: false,
			SkipSystemFiles: true,
			SkipDevDirs:     true,
			HonourGitignore: false,
			OnlyImages:      false,
		},
		Indexer: IndexerConfig{
			BatchSize:          1000,
			ContentHashWorkers: 4,
			DefaultMode:        "shallow",
		},
		Sync: SyncConfig{
			PollInterval:       "30s",
			HeartbeatInterval:  "10s",
			MaxBackoff:         "60s",
			DependencyRetryMax: 10,
		},
		Safety: SafetyConfig{
			PairingCodeTTL:        "5m",
			ConnectionDialTimeout: "10s",
			SyncRPCTimeout:        "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Network: NetworkConfig{
			DialTimeout:    "10s",
			RequestTimeout: "30s",
		},
	}
}

// ResolvedConfig holds every duration-valued setting pre-parsed, handed
// to constructors rather than making every call site re-parse a
// string (§ ambient stack "Configuration").
type ResolvedConfig struct {
	Library LibraryConfig
	Filter  FilterConfig
	Indexer IndexerConfig
	Logging LoggingConfig
	Network NetworkConfig

	SyncPollInterval      time.Duration
	SyncHeartbeatInterval time.Duration
	SyncMaxBackoff        time.Duration
	DependencyRetryMax    int

	PairingCodeTTL        time.Duration
	ConnectionDialTimeout time.Duration
	SyncRPCTimeout        time.Duration
}
