package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/treesync/internal/state"
)

// defaultHistory is the number of installs status lists by default.
const defaultHistory = 5

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded installs of the root",
		Long: `Display the installs recorded in the state database for the configured
root, newest first, together with the size of the last applied snapshot.

Reads only the state database; the root is not scanned.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	cmd.Flags().Int("history", defaultHistory, "number of installs to list")

	return cmd
}

// statusInstall is the JSON form of one install record.
type statusInstall struct {
	ID              string    `json:"id"`
	AppliedAt       time.Time `json:"applied_at"`
	Manifest        string    `json:"manifest"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	Changes         int       `json:"changes"`
	Downloaded      int       `json:"downloaded"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	DurationMS      int64     `json:"duration_ms"`
}

// statusSnapshot summarizes the last applied snapshot.
type statusSnapshot struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

type statusOutput struct {
	Root     string          `json:"root"`
	State    string          `json:"state"`
	Schema   int64           `json:"schema_version"`
	Snapshot *statusSnapshot `json:"snapshot,omitempty"`
	Installs []statusInstall `json:"installs"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.Root == "" {
		return errors.New("root not configured: pass --root, set TREESYNC_ROOT, or add root to the config file")
	}

	history, err := cmd.Flags().GetInt("history")
	if err != nil {
		return err
	}

	if history < 1 {
		return fmt.Errorf("--history must be at least 1, got %d", history)
	}

	out, err := collectStatus(cmd.Context(), cc, history)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	printStatusText(cmd.OutOrStdout(), out)

	return nil
}

func collectStatus(ctx context.Context, cc *CLIContext, history int) (*statusOutput, error) {
	store, err := openStore(ctx, cc)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	out := &statusOutput{Root: cc.Cfg.Root, State: cc.Cfg.StatePath(), Installs: []statusInstall{}}
	out.Schema = store.SchemaVersion()

	snap, err := store.LoadSnapshot(ctx, cc.Cfg.Root)

	switch {
	case err == nil:
		out.Snapshot = &statusSnapshot{Entries: snap.Len(), Bytes: snap.TotalSize()}
	case !errors.Is(err, state.ErrNoSnapshot):
		return nil, err
	}

	recs, err := store.ListInstalls(ctx, cc.Cfg.Root, history)
	if err != nil {
		return nil, err
	}

	for i := range recs {
		out.Installs = append(out.Installs, newStatusInstall(&recs[i]))
	}

	return out, nil
}

func newStatusInstall(rec *state.InstallRecord) statusInstall {
	return statusInstall{
		ID:        rec.ID,
		AppliedAt: rec.AppliedAt,
		Manifest:  rec.Manifest,
		Status:    rec.Status,
		Error:     rec.Error,
		Changes: rec.Deleted + rec.RemovedDirs + rec.CreatedDirs +
			rec.Downloaded + rec.Linked + rec.ModeFixed,
		Downloaded:      rec.Downloaded,
		BytesDownloaded: rec.BytesDownloaded,
		DurationMS:      rec.Duration.Milliseconds(),
	}
}

func printStatusText(w io.Writer, out *statusOutput) {
	fmt.Fprintf(w, "Root:     %s\n", out.Root)
	fmt.Fprintf(w, "State:    %s (schema v%d)\n", out.State, out.Schema)

	if out.Snapshot != nil {
		fmt.Fprintf(w, "Snapshot: %d entries, %s\n", out.Snapshot.Entries, formatSize(out.Snapshot.Bytes))
	} else {
		fmt.Fprintln(w, "Snapshot: none")
	}

	if len(out.Installs) == 0 {
		fmt.Fprintln(w, "\nNo installs recorded. Run 'treesync apply' to install.")
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(out.Installs))
	for i := range out.Installs {
		in := &out.Installs[i]
		rows = append(rows, []string{
			shortID(in.ID),
			formatTime(in.AppliedAt) + " (" + formatAgo(in.AppliedAt) + ")",
			in.Status,
			strconv.Itoa(in.Changes),
			formatSize(in.BytesDownloaded),
			(time.Duration(in.DurationMS) * time.Millisecond).String(),
		})
	}

	printTable(w, []string{"ID", "APPLIED", "STATUS", "CHANGES", "DOWNLOADED", "DURATION"}, rows)

	if last := out.Installs[0]; last.Error != "" {
		fmt.Fprintf(w, "\nLast error: %s\n", last.Error)
	}
}

// shortID trims a UUID to its first group for display.
func shortID(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}

	return id[:n]
}
