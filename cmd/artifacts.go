package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wegpiraten/billing-cli/internal/model"
	"github.com/wegpiraten/billing-cli/internal/store"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect ingested timesheets",
	Long:  "Commands for listing ingested sheet artifacts and the entries each one contributed.",
}

// -- artifacts list --

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested sheet artifacts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter := store.ArtifactFilter{}
		if raw, _ := cmd.Flags().GetString("period"); raw != "" {
			p, err := model.ParsePeriod(raw)
			if err != nil {
				return eris.Wrap(err, "artifacts list: --period")
			}
			filter.Period = &p
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		arts, err := st.ListArtifacts(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "artifacts list")
		}
		if len(arts) == 0 {
			fmt.Fprintln(os.Stderr, "No artifacts found.")
			return nil
		}
		formatArtifactsList(os.Stdout, arts)
		return nil
	},
}

// -- artifacts show --

var artifactsShowCmd = &cobra.Command{
	Use:   "show <artifact-id>",
	Short: "Show an artifact and its entries as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		art, err := st.GetArtifact(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "artifacts show")
		}
		entries, err := st.EntriesByArtifact(ctx, art.ID)
		if err != nil {
			return eris.Wrap(err, "artifacts show: entries")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Artifact *model.SheetArtifact `json:"artifact"`
			Entries  []model.ServiceEntry `json:"entries"`
		}{art, entries})
	},
}

// formatArtifactsList writes a tabular list of artifacts to out.
func formatArtifactsList(out io.Writer, arts []model.SheetArtifact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPERIOD\tFILE\tROWS\tCHECKSUM\tINGESTED")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t----\t--------\t--------")
	for _, a := range arts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			a.ID,
			a.Period,
			truncate(filepath.Base(a.FilePath), 40),
			a.RowCount,
			truncateID(a.Checksum),
			a.IngestedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	artifactsListCmd.Flags().String("period", "", "filter by sheet month (2025-07 or 07.2025)")
	artifactsListCmd.Flags().Int("limit", 50, "max number of artifacts to display")

	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsShowCmd)
	rootCmd.AddCommand(artifactsCmd)
}
