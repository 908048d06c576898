package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteTable renders a comparison table of all collected results.
func WriteTable(results []Result, w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "\n=== Benchmark Results ===\n\n")

	header := []string{"Backend", "Payload", "Index", "Insert", "Docs/s", "Query", "Dups", "Valid", "Status"}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	fmt.Fprintln(tw, strings.Join(sep, "\t"))

	for _, r := range results {
		status := "OK"
		if !r.Success {
			status = "ERR"
		}

		queryCol := "-"
		if r.QueryMillis > 0 {
			queryCol = fmt.Sprintf("%dms", r.QueryMillis)
		}

		validCol := "-"
		if r.Validation != nil {
			validCol = "PASS"
			if !r.Validation.Passed() {
				validCol = "FAIL"
			}
		}

		row := []string{
			r.Backend,
			payloadLabel(r),
			r.IndexMode,
			fmt.Sprintf("%dms", r.InsertMillis),
			fmt.Sprintf("%.0f", r.InsertThroughput),
			queryCol,
			fmt.Sprintf("%d", r.Duplicates),
			validCol,
			status,
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	fmt.Fprintln(tw)
	tw.Flush()
}

func payloadLabel(r Result) string {
	if r.Realistic {
		return "realistic"
	}
	return fmt.Sprintf("%dB", r.PayloadSize)
}
