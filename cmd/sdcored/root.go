package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spacedriveapp/sdcore/internal/action"
	"github.com/spacedriveapp/sdcore/internal/config"
	"github.com/spacedriveapp/sdcore/internal/eventbus"
	"github.com/spacedriveapp/sdcore/internal/indexer"
	"github.com/spacedriveapp/sdcore/internal/jobqueue"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// Global persistent flags, bound in newRootCmd, read inside PersistentPreRunE.
var (
	flagLibraryPath string
	flagConfigPath  string
	flagJSON        bool
	flagVerbose     bool
	flagDebug       bool
	flagQuiet       bool
)

// skipConfigAnnotation marks commands (init) that construct their own
// library directory before a Store can be opened against it.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles everything a subcommand needs, built once in
// PersistentPreRunE. Store/Queue/Manager are opened lazily only by
// commands that touch the database, so read-only commands (e.g. a
// future `--help`) never pay for a migration run.
type CLIContext struct {
	LibraryPath string
	Cfg         *config.Config
	Resolved    *config.ResolvedConfig
	Logger      *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command tree must load config before RunE")
	}

	return cc
}

// newRootCmd builds the fully-assembled root command: persistent flags,
// PersistentPreRunE config loading, subcommand registration.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sdcored",
		Short:         "Spacedrive core daemon",
		Long:          "Indexes, tracks, and synchronizes a Spacedrive library across paired devices.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagLibraryPath, "library", envOrDefault(config.EnvLibraryPath, defaultLibraryPath()), "library directory (holds library.db and identity.json)")
	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", os.Getenv(config.EnvConfig), "config file path (default: <library>/config.toml)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newPairCmd())
	cmd.AddCommand(newRevokeCmd())
	cmd.AddCommand(newSpacedropCmd())
	cmd.AddCommand(newLocationCmd())
	cmd.AddCommand(newVolumeCmd())

	return cmd
}

// defaultLibraryPath mirrors a conventional per-user data directory
// without hardcoding a single platform; os.UserHomeDir degrades to the
// working directory on failure rather than erroring out a flag default.
func defaultLibraryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sdcore"
	}

	return filepath.Join(home, ".sdcore")
}

// envOrDefault lets SDCORE_LIBRARY_PATH set the --library flag's default
// so daemon deployments (containers, systemd units) need not repeat a
// CLI flag that an environment variable already carries.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

// loadConfig resolves the library's config file and stores a CLIContext
// in the command's context for subcommands.
func loadConfig(cmd *cobra.Command) error {
	bootstrap := buildLogger(nil)

	path := flagConfigPath
	if path == "" {
		path = filepath.Join(flagLibraryPath, "config.toml")
	}

	cfg, err := config.Load(path, bootstrap)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolved, err := config.Resolve(cfg)
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}

	cfg.Logging.Level = overrideLogLevel(cfg.Logging.Level)

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	cc := &CLIContext{
		LibraryPath: flagLibraryPath,
		Cfg:         cfg,
		Resolved:    resolved,
		Logger:      logger,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger is the pre-config bootstrap logger; CLI flags are the only
// input available before a config file can be read.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := "warn"

	if cfg != nil {
		level = cfg.Logging.Level
	}

	level = overrideLogLevel(level)

	l, err := config.NewLogger(config.LoggingConfig{Level: level, Format: "text"})
	if err != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return l
}

// overrideLogLevel applies CLI flag precedence over a config-sourced
// level; flags always win over the config-file baseline.
func overrideLogLevel(base string) string {
	switch {
	case flagDebug:
		return "debug"
	case flagVerbose:
		return "info"
	case flagQuiet:
		return "error"
	default:
		return base
	}
}

// openStore opens the library database beneath cc.LibraryPath, creating
// the directory if needed so `init` and first-run `start` both work.
func openStore(ctx context.Context, cc *CLIContext) (*storage.Store, error) {
	if err := os.MkdirAll(cc.LibraryPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating library directory: %w", err)
	}

	dbPath := filepath.Join(cc.LibraryPath, "library.db")

	return storage.Open(ctx, dbPath, cc.Logger)
}

// newActionManager wires a Store into a full action-dispatch stack: an
// event bus, a job queue whose registry can rehydrate indexer jobs, and an
// ActionManager with the volume handlers registered — the same assembly
// `start` and the one-shot action subcommands both need. Location
// handlers are registered by callers that know the library UUID (see
// newLocationAddCmd).
func newActionManager(store *storage.Store, logger *slog.Logger) *action.Manager {
	bus := eventbus.New()
	registry := jobqueue.NewRegistry()
	registry.Register(indexer.JobName, indexer.Factory(store, logger))
	queue := jobqueue.New(store, registry, logger)
	mgr := action.NewManager(store, bus, queue, logger)

	action.RegisterVolumeHandlers(mgr, store)

	return mgr
}
