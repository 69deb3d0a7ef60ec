package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegpiraten/billing-cli/internal/billing"
	"github.com/wegpiraten/billing-cli/internal/export"
	"github.com/wegpiraten/billing-cli/internal/model"
)

var billingCmd = &cobra.Command{
	Use:   "billing",
	Short: "Select a service month for billing",
	Long: "Selects every consolidated entry whose service date falls in the given month, " +
		"regardless of the sheet it was filed on, and writes the Abrechnung workbook. " +
		"Entries filed on another month's sheet are listed on the Hinweise sheet.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		raw, _ := cmd.Flags().GetString("month")
		period, err := model.ParsePeriod(raw)
		if err != nil {
			return eris.Wrap(err, "billing: --month")
		}
		if dir, _ := cmd.Flags().GetString("out"); dir != "" {
			cfg.Billing.ExportDir = dir
		}

		st, err := openStore(ctx, "billing")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		masters, err := st.ListMasterRecords(ctx, "")
		if err != nil {
			return eris.Wrap(err, "billing: load master labels")
		}
		rates, err := billing.RatesFrom(masters)
		if err != nil {
			return err
		}
		res, err := billing.NewSelector(st, rates).Select(ctx, period)
		if err != nil {
			return eris.Wrap(err, "billing: select")
		}
		labels := export.LabelsFrom(masters)
		formatBillingSummary(os.Stdout, res, labels)

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			return nil
		}

		if err := os.MkdirAll(cfg.Billing.ExportDir, 0o755); err != nil {
			return eris.Wrap(err, "billing: create export dir")
		}
		path := filepath.Join(cfg.Billing.ExportDir, export.BillingFileName(period))
		if err := export.WriteBilling(path, res, labels); err != nil {
			return err
		}

		zap.L().Info("billing export written",
			zap.String("path", path),
			zap.String("period", period.String()),
			zap.Int("entries", res.Len()),
			zap.Int("flagged", len(res.Flagged)),
		)
		return nil
	},
}

// formatBillingSummary writes the per-client totals of res to out.
func formatBillingSummary(out io.Writer, res *billing.Result, labels export.Labels) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Month:\t%s\n", res.Period)
	_, _ = fmt.Fprintf(w, "Entries:\t%d\n", res.Len())
	_, _ = fmt.Fprintf(w, "  Cross-month:\t%d\n", len(res.Flagged))
	_, _ = fmt.Fprintf(w, "Hours:\t%s\n", res.TotalHours().StringFixed(2))
	_, _ = fmt.Fprintf(w, "Cost:\t%s\n", res.TotalCost().StringFixed(2))
	_ = w.Flush()

	sums := res.Summaries()
	if len(sums) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLIENT\tNAME\tENTRIES\tFLAGGED\tHOURS\tCOST")
	_, _ = fmt.Fprintln(w, "------\t----\t-------\t-------\t-----\t----")
	for _, s := range sums {
		cost := "-"
		if s.HasRate {
			cost = s.Cost.StringFixed(2)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			labels.Code(s.ClientRef),
			labels.Name(s.ClientRef),
			s.Entries,
			s.Flagged,
			s.TotalHours().StringFixed(2),
			cost,
		)
	}
	_ = w.Flush()
}

func init() {
	billingCmd.Flags().String("month", "", "service month to bill (2025-07 or 07.2025, required)")
	billingCmd.Flags().String("out", "", "export directory (default: billing.export_dir)")
	billingCmd.Flags().Bool("dry-run", false, "print the selection without writing the workbook")
	_ = billingCmd.MarkFlagRequired("month")
	rootCmd.AddCommand(billingCmd)
}
