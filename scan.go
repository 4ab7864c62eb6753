package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/treesync/internal/manifest"
)

// manifestFilePermissions is owner rw, group/other r.
const manifestFilePermissions = 0o644

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Print a directory tree as a manifest",
		Long: `Walk a directory (the configured root when omitted), hash every file, and
print the tree in manifest form. Publishing a release is scanning its staged
tree with --base-url pointing at where the objects will be served.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runScan,
	}

	cmd.Flags().String("base-url", "", "URL prefix for raw download URLs (BASE/<sha1>)")
	cmd.Flags().StringP("output", "o", "", "write the manifest to a file instead of stdout")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	dir := cc.Cfg.Root
	if len(args) > 0 {
		dir = args[0]
	}

	if dir == "" {
		return errors.New("nothing to scan: pass a directory or configure root")
	}

	baseURL, err := cmd.Flags().GetString("base-url")
	if err != nil {
		return err
	}

	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	pkg, err := newScanner(cc.Cfg, false, nil, cc.Logger).FromInspectedFolder(cmd.Context(), dir)
	if err != nil {
		return err
	}

	data, err := manifest.Encode(pkg, manifest.Options{BaseURL: baseURL})
	if err != nil {
		return err
	}

	if output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(output, data, manifestFilePermissions); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	cc.Statusf("Wrote %s: %d entries, %s\n", output, pkg.Len(), formatSize(pkg.TotalSize()))

	return nil
}
