package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicator/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading
// themselves (currently none — kept for parity with the teacher's
// annotation-driven PersistentPreRunE skip, ready for a future
// command that needs to run before any config exists).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved config, its Holder, and a logger.
// Built once in PersistentPreRunE and threaded through every RunE via
// the command's context.
type CLIContext struct {
	Cfg      *config.Config
	Holder   *config.Holder
	Logger   *slog.Logger
	LevelVar *slog.LevelVar
	DataDir  string
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics — a programmer
// error, since PersistentPreRunE guarantees it is populated before any
// RunE executes.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with
// all subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "replicator",
		Short:   "Continuous, policy-driven file-tree replicator",
		Long:    "replicator keeps one or more target directory trees in sync with a source tree, watching for changes and applying a configurable conflict-resolution and safety policy.",
		Version: version,
		// Silence Cobra's default error/usage printing — handled in main().
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (state/tasks/event log)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newScheduleCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the
// three-layer override chain (CLI > env > platform default) and
// stores the result in the command's context for use by subcommands.
func loadCLIContext(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath, DataDir: flagDataDir}

	cfgPath := config.ResolveConfigPath(env, cli)
	dataDir := config.ResolveDataDir(env, cli)

	logger.Debug("resolving config", "config_path", cfgPath, "data_dir", dataDir)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(effectiveLevel(cfg))
	finalLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))

	cc := &CLIContext{
		Cfg:      cfg,
		Holder:   config.NewHolder(cfg, cfgPath),
		Logger:   finalLogger,
		LevelVar: levelVar,
		DataDir:  dataDir,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the config-file log
// level and CLI flags. Pass nil for the pre-config bootstrap logger.
func buildLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: effectiveLevel(cfg)}))
}

// effectiveLevel resolves the log level from the config file, with CLI
// flags (--verbose/--debug/--quiet, mutually exclusive) always
// outranking it. Shared by buildLogger and the run daemon's SIGHUP
// config reload, so a reload recomputes the level exactly the way
// startup did.
func effectiveLevel(cfg *config.Config) slog.Level {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
