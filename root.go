package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/treesync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// logFilePermissions is owner rw, group/other r.
const logFilePermissions = 0o644

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	Root       string
	Manifest   string
	Mirror     string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once in PersistentPreRunE and carried in the command
// context to every subcommand.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Config
	Logger *slog.Logger

	logCloser io.Closer
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext stored in ctx, or nil.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext returns the CLIContext stored in ctx. It panics when the
// root pre-run did not execute, which is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("treesync: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "treesync",
		Short: "Converge a directory tree onto a published manifest",
		Long: `treesync installs and updates directory trees described by a manifest:
it diffs the tree on disk against the manifest and applies the minimal set
of deletions, directory changes, downloads, links, and mode fixes.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main prints errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc := cliContextFrom(cmd.Context()); cc != nil && cc.logCloser != nil {
				return cc.logCloser.Close()
			}

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.Root, "root", "", "install root directory")
	pf.StringVar(&flags.Manifest, "manifest", "", "manifest file describing the target tree")
	pf.StringVar(&flags.Mirror, "mirror", "", "content-addressed object directory to fetch from")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger from it.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	// Only pass flags the user explicitly set, so config values survive.
	if cmd.Flags().Changed("root") {
		cli.Root = &flags.Root
	}

	if cmd.Flags().Changed("manifest") {
		cli.Manifest = &flags.Manifest
	}

	if cmd.Flags().Changed("mirror") {
		cli.MirrorDir = &flags.Mirror
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(nil), cli, nil)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	out, closer, err := logOutput(cfg)
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg, flags, out)
	logger.Debug("config resolved",
		slog.String("root", cfg.Root),
		slog.String("manifest", cfg.Manifest),
		slog.String("state", cfg.StatePath()),
	)

	return &CLIContext{Flags: flags, Cfg: cfg, Logger: logger, logCloser: closer}, nil
}

// logOutput opens log_file for appending, or returns stderr.
func logOutput(cfg *config.Config) (io.Writer, io.Closer, error) {
	if cfg.LogFile == "" {
		return os.Stderr, nil, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	return f, f, nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Config, flags CLIFlags, out io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(format, out) {
		return slog.New(slog.NewJSONHandler(out, opts))
	}

	return slog.New(slog.NewTextHandler(out, opts))
}

// useJSONLogs resolves log_format. "auto" picks text for terminals and JSON
// for everything else (files, pipes, journald).
func useJSONLogs(format string, out io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	}

	f, ok := out.(*os.File)
	if !ok {
		return true
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// exitCode maps a command error to the process exit status. Missing download
// sources get their own status so scripts can tell a broken manifest from a
// failed install.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errMissingSources):
		return 2
	default:
		return 1
	}
}
