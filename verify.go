package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/treesync/internal/files"
)

// errVerifyMismatch is returned when the install root differs from the
// manifest. main maps it to exit status 1 without extra noise.
var errVerifyMismatch = errors.New("install root does not match manifest")

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the install root against the manifest",
		Long: `Scan and hash the install root and compare it with the manifest. Reports
every difference apply would fix: extra or missing entries, content
mismatches, wrong link targets, and wrong executable bits.

Exit code 0 if the root matches; exit code 1 if anything differs.`,
		Args: cobra.NoArgs,
		RunE: runVerify,
	}
}

// verifyOutput is the JSON form of a verification result.
type verifyOutput struct {
	Root        string                  `json:"root"`
	Manifest    string                  `json:"manifest"`
	Entries     int                     `json:"entries"`
	OK          bool                    `json:"ok"`
	Differences *files.UpdateOperations `json:"differences,omitempty"`
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := requireRootAndManifest(cc.Cfg); err != nil {
		return err
	}

	target, err := loadTarget(cc)
	if err != nil {
		return err
	}

	current, _, err := scanInstallRoot(cmd.Context(), cc, target)
	if err != nil {
		return err
	}

	ops := files.NewResolver(cc.Logger).Resolve(current, target)
	if !ops.Valid() && !errors.Is(ops.Err(), files.ErrMissingSource) {
		return ops.Err()
	}

	ok := ops.TotalActions() == 0 && len(ops.Missing) == 0
	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		res := verifyOutput{
			Root:     cc.Cfg.Root,
			Manifest: cc.Cfg.Manifest,
			Entries:  target.Len(),
			OK:       ok,
		}
		if !ok {
			res.Differences = ops
		}

		if err := printJSON(out, res); err != nil {
			return err
		}
	} else if ok {
		fmt.Fprintf(out, "Verified: %d entries match %s\n", target.Len(), cc.Cfg.Manifest)
	} else {
		printTable(out, []string{"ACTION", "PATH", "DETAIL"}, planRows(ops, cc.Cfg.MirrorDir))
	}

	if !ok {
		return fmt.Errorf("%w: %d differences", errVerifyMismatch, ops.TotalActions()+len(ops.Missing))
	}

	return nil
}
