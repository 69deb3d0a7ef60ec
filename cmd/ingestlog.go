package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wegpiraten/billing-cli/internal/model"
	"github.com/wegpiraten/billing-cli/internal/store"
)

var ingestLogCmd = &cobra.Command{
	Use:   "ingest-log",
	Short: "Inspect ingestion history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		artifact, _ := cmd.Flags().GetString("artifact")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.IngestFilter{
			ArtifactID: artifact,
			Status:     model.IngestStatus(status),
			Limit:      limit,
		}
		runs, err := st.ListIngestLog(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "ingest-log")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No ingest runs found.")
			return nil
		}
		formatIngestLog(os.Stdout, runs)
		return nil
	},
}

func init() {
	ingestLogCmd.Flags().String("status", "", "filter by status (running, complete, unchanged, rejected, failed)")
	ingestLogCmd.Flags().String("artifact", "", "filter by artifact ID")
	ingestLogCmd.Flags().Int("limit", 50, "max number of runs to display")
	ingestLogCmd.Flags().Bool("json", false, "print runs as JSON")
	rootCmd.AddCommand(ingestLogCmd)
}

// formatIngestLog writes a tabular list of ingest runs to out.
func formatIngestLog(out io.Writer, runs []model.IngestRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tSTATUS\tROWS\tCROSS_MONTH\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t-----------\t-------\t--------\t-----")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.ID,
			truncate(filepath.Base(r.FilePath), 40),
			r.Status,
			r.RowsWritten,
			r.CrossMonth,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncate(r.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of an ID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
