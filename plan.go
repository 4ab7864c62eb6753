package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/treesync/internal/apply"
	"github.com/tonimelisma/treesync/internal/config"
	"github.com/tonimelisma/treesync/internal/files"
	"github.com/tonimelisma/treesync/internal/manifest"
	"github.com/tonimelisma/treesync/internal/scan"
	"github.com/tonimelisma/treesync/internal/state"
)

// stateDirPermissions is owner rwx, group/other rx.
const stateDirPermissions = 0o755

// errMissingSources marks a plan whose target has files without any
// download source. main maps it to exit status 2.
var errMissingSources = errors.New("manifest has files without a download source")

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change",
		Long: `Resolve the install root against the manifest and print the operations
apply would perform, without touching the disk.

By default the root is scanned and hashed. With --from-state the snapshot
recorded by the last successful apply is used instead, which is fast but
blind to local modifications.

Exit code 2 if the manifest lists files without a download source.`,
		Args: cobra.NoArgs,
		RunE: runPlan,
	}

	cmd.Flags().Bool("from-state", false, "diff against the last applied snapshot instead of scanning")

	return cmd
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := requireRootAndManifest(cc.Cfg); err != nil {
		return err
	}

	fromState, err := cmd.Flags().GetBool("from-state")
	if err != nil {
		return err
	}

	target, err := loadTarget(cc)
	if err != nil {
		return err
	}

	var current *files.Package
	if fromState {
		current, err = loadSnapshot(cmd.Context(), cc)
	} else {
		current, _, err = scanInstallRoot(cmd.Context(), cc, target)
	}

	if err != nil {
		return err
	}

	ops := files.NewResolver(cc.Logger).Resolve(current, target)
	if !ops.Valid() && !errors.Is(ops.Err(), files.ErrMissingSource) {
		return ops.Err()
	}

	if err := printPlan(cmd.OutOrStdout(), cc, ops); err != nil {
		return err
	}

	if len(ops.Missing) > 0 {
		return fmt.Errorf("%w: %w", errMissingSources, ops.Err())
	}

	return nil
}

// requireRootAndManifest reports the settings every tree command needs.
func requireRootAndManifest(cfg *config.Config) error {
	if cfg.Root == "" {
		return errors.New("root not configured: pass --root, set TREESYNC_ROOT, or add root to the config file")
	}

	if cfg.Manifest == "" {
		return errors.New("manifest not configured: pass --manifest, set TREESYNC_MANIFEST, or add manifest to the config file")
	}

	return nil
}

// loadTarget decodes the manifest and, when a mirror is configured, adds
// mirror objects as sources for files the manifest does not publish.
func loadTarget(cc *CLIContext) (*files.Package, error) {
	target, err := manifest.LoadFile(cc.Cfg.Manifest)
	if err != nil {
		return nil, err
	}

	if cc.Cfg.MirrorDir != "" {
		if n := (apply.MirrorFetcher{Dir: cc.Cfg.MirrorDir}).AddSources(target); n > 0 {
			cc.Logger.Debug("mirror sources added",
				slog.String("mirror", cc.Cfg.MirrorDir),
				slog.Int("sources", n),
			)
		}
	}

	return target, nil
}

// newScanner builds a scanner from the filter and transfer settings. Paths
// in keep are recorded even if the filters would hide them.
func newScanner(cfg *config.Config, allowMissingRoot bool, keep map[files.Path]bool, logger *slog.Logger) *scan.Scanner {
	return scan.NewScanner(scan.Options{
		SkipFiles:        cfg.SkipFiles,
		SkipDirs:         cfg.SkipDirs,
		IgnoreMarker:     cfg.IgnoreMarker,
		Checkers:         cfg.ParallelCheckers,
		AllowMissingRoot: allowMissingRoot,
		Keep:             keep,
	}, logger)
}

// scanInstallRoot scans the configured root for comparison with target. A
// root that does not exist yet scans as empty, which is a fresh install.
// Entries target lists are never filtered out, so a manifest can own a
// file that matches skip_files or an ignore marker.
func scanInstallRoot(ctx context.Context, cc *CLIContext, target *files.Package) (*files.Package, scan.DiskNames, error) {
	return newScanner(cc.Cfg, true, targetPaths(target), cc.Logger).Inspect(ctx, cc.Cfg.Root)
}

// targetPaths returns every folder, file, and symlink path of pkg.
func targetPaths(pkg *files.Package) map[files.Path]bool {
	paths := make(map[files.Path]bool, pkg.Len())

	for p := range pkg.Folders {
		paths[p] = true
	}

	for p := range pkg.Files {
		paths[p] = true
	}

	for p := range pkg.Symlinks {
		paths[p] = true
	}

	return paths
}

// openStore opens the state database, creating its directory if needed.
func openStore(ctx context.Context, cc *CLIContext) (*state.Store, error) {
	path := cc.Cfg.StatePath()
	if err := os.MkdirAll(filepath.Dir(path), stateDirPermissions); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	return state.Open(ctx, path, cc.Logger)
}

func loadSnapshot(ctx context.Context, cc *CLIContext) (*files.Package, error) {
	store, err := openStore(ctx, cc)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	pkg, err := store.LoadSnapshot(ctx, cc.Cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w (run apply first, or plan without --from-state)", err)
	}

	return pkg, nil
}

// planOutput is the JSON form of a plan.
type planOutput struct {
	Root       string                  `json:"root"`
	Manifest   string                  `json:"manifest"`
	Actions    int                     `json:"actions"`
	Bytes      int64                   `json:"download_bytes"`
	Operations *files.UpdateOperations `json:"operations"`
}

func printPlan(w io.Writer, cc *CLIContext, ops *files.UpdateOperations) error {
	if cc.Flags.JSON {
		return printJSON(w, planOutput{
			Root:       cc.Cfg.Root,
			Manifest:   cc.Cfg.Manifest,
			Actions:    ops.TotalActions(),
			Bytes:      ops.DownloadBytes(),
			Operations: ops,
		})
	}

	rows := planRows(ops, cc.Cfg.MirrorDir)
	if len(rows) == 0 {
		fmt.Fprintln(w, "Up to date.")
		return nil
	}

	printTable(w, []string{"ACTION", "PATH", "DETAIL"}, rows)
	cc.Statusf("\n%d operations, %s to download\n", ops.TotalActions(), formatSize(ops.DownloadBytes()))

	return nil
}

// planRows flattens a plan into table rows in execution order. Compressed
// downloads the mirror at mirrorDir cannot serve are marked, since apply
// only decodes raw payloads.
func planRows(ops *files.UpdateOperations, mirrorDir string) [][]string {
	var rows [][]string

	mirror := apply.MirrorFetcher{Dir: mirrorDir}

	for _, p := range ops.Deletes {
		rows = append(rows, []string{"delete", p.String(), ""})
	}

	for _, p := range ops.Rmdirs {
		rows = append(rows, []string{"rmdir", p.String(), ""})
	}

	for _, p := range ops.Mkdirs {
		rows = append(rows, []string{"mkdir", p.String(), ""})
	}

	for i := range ops.Downloads {
		d := &ops.Downloads[i]

		detail := formatSize(d.Size)
		if d.Source.Compression != files.CompressionRaw {
			detail += fmt.Sprintf(" (%s, %s)", d.Source.Compression, formatSize(d.Source.Size))

			if !mirror.Has(d.Hash) {
				detail += ", needs decompression"
			}
		}

		rows = append(rows, []string{"download", d.Path.String(), detail})
	}

	for _, l := range ops.Mklinks {
		rows = append(rows, []string{"link", l.Path.String(), "-> " + l.Target})
	}

	for _, fix := range ops.ExecutableFixes {
		action := "chmod -x"
		if fix.Executable {
			action = "chmod +x"
		}

		rows = append(rows, []string{action, fix.Path.String(), ""})
	}

	for _, m := range ops.Missing {
		rows = append(rows, []string{"missing", m.Path.String(), "no source for " + string(m.Hash)})
	}

	return rows
}
