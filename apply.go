package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/treesync/internal/apply"
	"github.com/tonimelisma/treesync/internal/config"
	"github.com/tonimelisma/treesync/internal/files"
	"github.com/tonimelisma/treesync/internal/state"
)

// defaultWatchDebounce is how long the manifest must stay quiet before
// --watch re-applies it.
const defaultWatchDebounce = 2 * time.Second

// errBigDelete is returned when a plan removes more entries than
// big_delete_threshold allows without --force.
var errBigDelete = errors.New("plan exceeds big_delete_threshold")

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the install root onto the manifest",
		Long: `Scan the install root, resolve it against the manifest, and execute the
plan: deletions and directory removals first, then directories, downloads,
links, and permission fixes. Downloads land in .partial files and are
verified before they replace anything.

A successful apply records the installed snapshot and an install record in
the state database. Only one apply runs per root at a time.

With --watch the manifest is re-applied whenever it changes.`,
		Args: cobra.NoArgs,
		RunE: runApply,
	}

	cmd.Flags().Bool("dry-run", false, "print the plan without executing it")
	cmd.Flags().Bool("force", false, "override the big_delete_threshold safety check")
	cmd.Flags().Bool("watch", false, "re-apply whenever the manifest changes")
	cmd.Flags().Duration("debounce", defaultWatchDebounce, "quiet period before --watch re-applies")

	cmd.MarkFlagsMutuallyExclusive("dry-run", "watch")

	return cmd
}

// applyFlags are the apply command's local flags.
type applyFlags struct {
	dryRun   bool
	force    bool
	watch    bool
	debounce time.Duration
}

func readApplyFlags(cmd *cobra.Command) (applyFlags, error) {
	var (
		af   applyFlags
		errs []error
		err  error
	)

	af.dryRun, err = cmd.Flags().GetBool("dry-run")
	errs = append(errs, err)
	af.force, err = cmd.Flags().GetBool("force")
	errs = append(errs, err)
	af.watch, err = cmd.Flags().GetBool("watch")
	errs = append(errs, err)
	af.debounce, err = cmd.Flags().GetDuration("debounce")
	errs = append(errs, err)

	return af, errors.Join(errs...)
}

func runApply(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := requireRootAndManifest(cc.Cfg); err != nil {
		return err
	}

	af, err := readApplyFlags(cmd)
	if err != nil {
		return err
	}

	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	if af.dryRun {
		_, err := newInstaller(cc, nil, af, cmd.OutOrStdout()).run(ctx)
		return err
	}

	lock, err := acquireRootLock(config.DefaultLockDir(), cc.Cfg.Root)
	if err != nil {
		return err
	}
	defer lock.Release()

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	inst := newInstaller(cc, store, af, cmd.OutOrStdout())

	if af.watch {
		return watchManifest(ctx, cc.Cfg.Manifest, af.debounce, cc.Logger, func(ctx context.Context) error {
			_, err := inst.run(ctx)
			return err
		})
	}

	report, err := inst.run(ctx)
	if err != nil {
		return err
	}

	if report != nil {
		printReport(cc, report)
	}

	return nil
}

// installer runs one scan-resolve-execute cycle and records the outcome.
type installer struct {
	cc      *CLIContext
	store   *state.Store // nil for dry runs
	flags   applyFlags
	out     io.Writer
	fetcher apply.Fetcher
	limiter *apply.BandwidthLimiter
}

func newInstaller(cc *CLIContext, store *state.Store, af applyFlags, out io.Writer) *installer {
	// Validated by config.Validate; a parse failure here means unlimited.
	bps, _ := config.ParseBandwidth(cc.Cfg.BandwidthLimit)

	return &installer{
		cc:      cc,
		store:   store,
		flags:   af,
		out:     out,
		fetcher: buildFetcher(cc.Cfg),
		limiter: apply.NewBandwidthLimiter(bps, cc.Logger),
	}
}

// buildFetcher prefers the local mirror and falls back to file:// URLs.
func buildFetcher(cfg *config.Config) apply.Fetcher {
	var chain apply.ChainFetcher

	if cfg.MirrorDir != "" {
		chain = append(chain, apply.MirrorFetcher{Dir: cfg.MirrorDir})
	}

	return append(chain, apply.FileURLFetcher{})
}

// run performs one apply. It returns a nil report for dry runs.
func (in *installer) run(ctx context.Context) (*apply.Report, error) {
	logger := in.cc.Logger
	cfg := in.cc.Cfg

	target, err := loadTarget(in.cc)
	if err != nil {
		return nil, err
	}

	current, diskNames, err := scanInstallRoot(ctx, in.cc, target)
	if err != nil {
		return nil, err
	}

	ops := files.NewResolver(logger).Resolve(current, target)
	if !ops.Valid() {
		if len(ops.Missing) > 0 {
			return nil, fmt.Errorf("%w: %w", errMissingSources, ops.Err())
		}

		return nil, ops.Err()
	}

	if err := in.checkBigDelete(ops); err != nil {
		return nil, err
	}

	if in.flags.dryRun {
		return nil, printPlan(in.out, in.cc, ops)
	}

	logger.Info("applying plan",
		slog.String("root", cfg.Root),
		slog.String("manifest", cfg.Manifest),
		slog.Int("actions", ops.TotalActions()),
		slog.Int64("download_bytes", ops.DownloadBytes()),
	)

	exec := apply.NewExecutor(cfg.Root, in.fetcher, apply.Options{
		Workers:   cfg.ParallelDownloads,
		Verify:    cfg.VerifyDownloads,
		Limiter:   in.limiter,
		Order:     cfg.TransferOrder,
		DiskNames: diskNames,
	}, logger)

	report, execErr := exec.Execute(ctx, ops)

	if err := in.record(ctx, target, report, execErr); err != nil {
		return report, errors.Join(execErr, err)
	}

	return report, execErr
}

// checkBigDelete refuses plans that remove more entries than configured,
// unless --force was given. A threshold of zero disables the check.
func (in *installer) checkBigDelete(ops *files.UpdateOperations) error {
	threshold := in.cc.Cfg.BigDeleteThreshold
	removals := len(ops.Deletes) + len(ops.Rmdirs)

	if threshold == 0 || removals <= threshold {
		return nil
	}

	if in.flags.force {
		in.cc.Logger.Warn("big delete forced",
			slog.Int("removals", removals),
			slog.Int("threshold", threshold),
		)

		return nil
	}

	return fmt.Errorf("%w: %d removals > %d (use --force to proceed)", errBigDelete, removals, threshold)
}

// record stores the install outcome. The snapshot is only replaced after a
// fully successful execution, so a failed apply is re-planned from disk.
func (in *installer) record(ctx context.Context, target *files.Package, report *apply.Report, execErr error) error {
	rec := &state.InstallRecord{
		Root:     in.cc.Cfg.Root,
		Manifest: in.cc.Cfg.Manifest,
		Status:   state.StatusSuccess,
	}

	if report != nil {
		rec.Deleted = report.Deleted
		rec.RemovedDirs = report.RemovedDirs
		rec.CreatedDirs = report.CreatedDirs
		rec.Downloaded = report.Downloaded
		rec.Linked = report.Linked
		rec.ModeFixed = report.ModeFixed
		rec.BytesDownloaded = report.BytesDownloaded
		rec.Duration = report.Duration
	}

	if execErr != nil {
		rec.Status = state.StatusFailed
		rec.Error = execErr.Error()
	}

	// The outcome is recorded even when ctx was canceled mid-apply.
	ctx = context.WithoutCancel(ctx)

	if err := in.store.RecordInstall(ctx, rec); err != nil {
		return err
	}

	if execErr != nil {
		return nil
	}

	return in.store.SaveSnapshot(ctx, in.cc.Cfg.Root, target)
}

func printReport(cc *CLIContext, r *apply.Report) {
	if r.Total() == 0 {
		cc.Statusf("Up to date.\n")
		return
	}

	cc.Statusf("Applied %d operations in %s: %d deleted, %d dirs removed, %d dirs created, "+
		"%d downloaded (%s), %d linked, %d mode fixes\n",
		r.Total(), r.Duration.Round(time.Millisecond),
		r.Deleted, r.RemovedDirs, r.CreatedDirs,
		r.Downloaded, formatSize(r.BytesDownloaded), r.Linked, r.ModeFixed)
}
