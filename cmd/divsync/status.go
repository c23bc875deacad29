package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/flemzord/divsync/internal/dispatch"
	"github.com/flemzord/divsync/internal/ledger"
)

func writeStatusJSON(w io.Writer, statuses []dispatch.JobStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(statuses)
}

func writeStatusTable(w io.Writer, statuses []dispatch.JobStatus) error {
	for i, st := range statuses {
		if i > 0 {
			fmt.Fprintln(w)
		}
		header := fmt.Sprintf("%s (every %s)", st.Job, st.Cadence)
		if st.Overdue {
			header += "  OVERDUE"
		}
		fmt.Fprintln(w, header)

		if st.LastSuccess != nil && st.LastSuccess.FinishedAt != nil {
			fmt.Fprintf(w, "last success: %s (%s ago)\n",
				st.LastSuccess.FinishedAt.Format(time.RFC3339),
				time.Since(*st.LastSuccess.FinishedAt).Round(time.Second))
		} else {
			fmt.Fprintln(w, "last success: never")
		}

		runs := st.Recent
		if len(runs) == 0 && st.Latest != nil {
			runs = []ledger.JobRun{*st.Latest}
		}
		if len(runs) == 0 {
			fmt.Fprintln(w, "no runs recorded")
			continue
		}
		fmt.Fprintln(w, runTable(runs))
	}
	return nil
}

func runTable(runs []ledger.JobRun) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STARTED", "STATUS", "DURATION", "PROCESSED", "SKIPPED", "HOLDER", "ERROR")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		t.Row(
			r.StartedAt.Format(time.RFC3339),
			string(r.Status),
			duration,
			strconv.Itoa(r.RecordsProcessed),
			strconv.Itoa(r.RecordsSkipped),
			r.Holder,
			truncate(r.ErrorSummary, 60),
		)
	}
	return t.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
