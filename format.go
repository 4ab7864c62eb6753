package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// Statusf writes a progress line to stderr. --quiet silences it; command
// results always go to the command's stdout instead.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if cc.Flags.Quiet {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// formatSize renders a byte count with IEC units, e.g. "1.5 MiB".
func formatSize(n int64) string {
	return humanize.IBytes(uint64(max(n, 0)))
}

// formatTime renders an install timestamp. The year is only shown once it
// differs from the current one.
func formatTime(t time.Time) string {
	layout := "Jan _2 15:04"
	if t.Year() != time.Now().Year() {
		layout = "Jan _2  2006"
	}

	return t.Format(layout)
}

func formatAgo(t time.Time) string {
	return humanize.Time(t)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	_, err = fmt.Fprintf(w, "%s\n", data)

	return err
}

// printTable writes rows under headers in columns separated by two spaces.
// Rows shorter than headers leave their trailing cells empty.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))

	measure := func(cells []string) {
		for i, c := range cells {
			widths[i] = max(widths[i], utf8.RuneCountInString(c))
		}
	}

	measure(headers)

	for _, r := range rows {
		measure(r)
	}

	var line strings.Builder

	emit := func(cells []string) {
		line.Reset()

		for i, c := range cells {
			if i > 0 {
				line.WriteString("  ")
			}

			line.WriteString(c)

			if pad := widths[i] - utf8.RuneCountInString(c); pad > 0 {
				line.WriteString(strings.Repeat(" ", pad))
			}
		}

		fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
	}

	emit(headers)

	for _, r := range rows {
		emit(r)
	}
}
