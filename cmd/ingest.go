package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegpiraten/billing-cli/internal/export"
	"github.com/wegpiraten/billing-cli/internal/ingest"
	"github.com/wegpiraten/billing-cli/internal/masterdata"
	"github.com/wegpiraten/billing-cli/internal/model"
	"github.com/wegpiraten/billing-cli/internal/store"
	"github.com/wegpiraten/billing-cli/internal/timesheet"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest timesheet workbooks into the consolidation store",
	Long: "Reads the given Erfassungsbogen files, or every workbook in the imports directory, " +
		"and writes each file's entries as one all-or-nothing unit. Processed files move to the archive directory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dir, _ := cmd.Flags().GetString("dir")
		if dir != "" {
			cfg.Ingest.ImportsDir = dir
		}
		if noArchive, _ := cmd.Flags().GetBool("no-archive"); noArchive {
			cfg.Ingest.MoveProcessed = false
		}
		if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
			cfg.Ingest.Concurrency = n
		}
		if p, _ := cmd.Flags().GetString("profile"); p != "" {
			cfg.Ingest.ProfilePath = p
		}

		paths := args
		if len(paths) == 0 {
			found, err := ingest.Discover(cfg.Ingest.ImportsDir)
			if err != nil {
				return err
			}
			paths = found
		}
		if len(paths) == 0 {
			fmt.Fprintf(os.Stderr, "No timesheets found in %s.\n", cfg.Ingest.ImportsDir)
			return nil
		}

		opts, err := ingestOptions(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "ingest")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc := ingest.NewService(st, masterdata.NewStoreResolver(st), opts)
		sum := svc.RunBatch(ctx, paths)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum.Outcomes); err != nil {
				return eris.Wrap(err, "ingest: encode outcomes")
			}
		} else {
			formatOutcomes(os.Stdout, sum.Outcomes)
		}

		if writeSummary, _ := cmd.Flags().GetBool("summary"); writeSummary {
			if err := writeIngestSummaries(ctx, st, sum.Outcomes); err != nil {
				return err
			}
		}

		if sum.Failed() {
			return eris.Errorf("ingest: %d rejected, %d failed of %d files",
				sum.Counts[model.IngestRejected], sum.Counts[model.IngestFailed], len(paths))
		}
		return nil
	},
}

func ingestOptions(cmd *cobra.Command) (ingest.Options, error) {
	profile, err := timesheet.LoadProfile(cfg.Ingest.ProfilePath)
	if err != nil {
		return ingest.Options{}, err
	}
	opts := ingest.Options{
		Profile:     profile,
		Concurrency: cfg.Ingest.Concurrency,
	}
	if cfg.Ingest.MoveProcessed {
		opts.ArchiveDir = cfg.Ingest.ArchiveDir
	}
	if raw, _ := cmd.Flags().GetString("period"); raw != "" {
		p, err := model.ParsePeriod(raw)
		if err != nil {
			return ingest.Options{}, eris.Wrap(err, "ingest: --period")
		}
		opts.Period = p
	}
	return opts, nil
}

// writeIngestSummaries writes one workbook per sheet period listing the rows
// of every artifact the batch wrote or confirmed.
func writeIngestSummaries(ctx context.Context, st store.Store, outcomes []*ingest.Outcome) error {
	byPeriod := make(map[model.Period][]export.Imported)
	for _, o := range outcomes {
		if o.Status != model.IngestComplete && o.Status != model.IngestUnchanged {
			continue
		}
		art, err := st.GetArtifact(ctx, o.ArtifactID)
		if err != nil {
			return eris.Wrapf(err, "ingest: summary artifact %s", o.ArtifactID)
		}
		entries, err := st.EntriesByArtifact(ctx, o.ArtifactID)
		if err != nil {
			return eris.Wrapf(err, "ingest: summary entries %s", o.ArtifactID)
		}
		byPeriod[art.Period] = append(byPeriod[art.Period], export.Imported{Artifact: *art, Entries: entries})
	}
	if len(byPeriod) == 0 {
		return nil
	}

	masters, err := st.ListMasterRecords(ctx, "")
	if err != nil {
		return eris.Wrap(err, "ingest: load master labels")
	}
	labels := export.LabelsFrom(masters)

	if err := os.MkdirAll(cfg.Billing.ExportDir, 0o755); err != nil {
		return eris.Wrap(err, "ingest: create export dir")
	}
	for period, imported := range byPeriod {
		path := filepath.Join(cfg.Billing.ExportDir, export.IngestSummaryFileName(period))
		if err := export.WriteIngestSummary(path, imported, labels); err != nil {
			return err
		}
		zap.L().Info("ingest summary written",
			zap.String("path", path),
			zap.String("period", period.String()),
			zap.Int("files", len(imported)),
		)
	}
	return nil
}

// formatOutcomes writes one line per file to out.
func formatOutcomes(out io.Writer, outcomes []*ingest.Outcome) {
	sorted := make([]*ingest.Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tPERIOD\tSTATUS\tENTRIES\tCROSS_MONTH\tERROR")
	_, _ = fmt.Fprintln(w, "----\t------\t------\t-------\t-----------\t-----")
	for _, o := range sorted {
		period := ""
		if o.Period.Valid() {
			period = o.Period.String()
		}
		msg := ""
		if o.Err != nil {
			msg = truncate(o.Err.Error(), 80)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			filepath.Base(o.Path),
			period,
			o.Status,
			o.Entries,
			o.CrossMonth,
			msg,
		)
	}
	_ = w.Flush()
}

func init() {
	ingestCmd.Flags().String("dir", "", "directory to scan when no files are given (default: ingest.imports_dir)")
	ingestCmd.Flags().String("period", "", "override the sheet month (2025-07 or 07.2025)")
	ingestCmd.Flags().String("profile", "", "YAML timesheet layout profile")
	ingestCmd.Flags().Int("concurrency", 0, "files ingested in parallel (default: ingest.concurrency)")
	ingestCmd.Flags().Bool("no-archive", false, "leave processed files in place")
	ingestCmd.Flags().Bool("summary", false, "write an import summary workbook per sheet month")
	ingestCmd.Flags().Bool("json", false, "print outcomes as JSON")
	rootCmd.AddCommand(ingestCmd)
}
