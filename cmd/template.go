package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wegpiraten/billing-cli/internal/model"
	"github.com/wegpiraten/billing-cli/internal/timesheet"
)

var templateCmd = &cobra.Command{
	Use:   "template [file.xlsx]",
	Short: "Write empty monthly timesheets",
	Long: "Writes an Erfassungsbogen in the layout the default profile reads, with the header cells pre-filled.\n\n" +
		"With --all, writes one Aufwandserfassung_<month>_<Kürzel>.xlsx per client in the master data " +
		"whose end date is empty or not before the month, into --out.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("month")
		period, err := model.ParsePeriod(raw)
		if err != nil {
			return eris.Wrap(err, "template: --month")
		}
		force, _ := cmd.Flags().GetBool("force")

		if all, _ := cmd.Flags().GetBool("all"); all {
			if len(args) > 0 {
				return eris.New("template: --all writes into --out and takes no file argument")
			}
			return writeTemplateBatch(cmd, period, force)
		}
		if len(args) != 1 {
			return eris.New("template: file argument required (or use --all)")
		}

		tpl := timesheet.Template{Period: period}
		tpl.Client, _ = cmd.Flags().GetString("client")
		tpl.ClientShort, _ = cmd.Flags().GetString("client-short")
		tpl.Provider, _ = cmd.Flags().GetString("provider")
		tpl.ProviderName, _ = cmd.Flags().GetString("provider-name")
		tpl.ServiceType, _ = cmd.Flags().GetString("service-type")
		tpl.AllowedHours, _ = cmd.Flags().GetString("allowed-hours")

		if _, err := os.Stat(args[0]); err == nil && !force {
			return eris.Errorf("template: %s exists (use --force to overwrite)", args[0])
		}
		if err := timesheet.WriteTemplate(args[0], tpl); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s for %s.\n", args[0], period)
		return nil
	},
}

func writeTemplateBatch(cmd *cobra.Command, period model.Period, force bool) error {
	ctx := cmd.Context()
	dir, _ := cmd.Flags().GetString("out")

	st, err := openStore(ctx, "store")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	records, err := st.ListMasterRecords(ctx, "")
	if err != nil {
		return eris.Wrap(err, "template: load master data")
	}
	sheets := timesheet.PlanBatch(period, records)
	written, err := timesheet.WriteBatch(dir, sheets, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %d of %d timesheets for %s to %s.\n", len(written), len(sheets), period, dir)
	return nil
}

func init() {
	templateCmd.Flags().String("month", "", "sheet month (2025-07 or 07.2025, required)")
	templateCmd.Flags().Bool("all", false, "write one sheet per active client from the master data")
	templateCmd.Flags().String("out", ".", "output directory for --all")
	templateCmd.Flags().String("client", "", "client number")
	templateCmd.Flags().String("client-short", "", "client short name")
	templateCmd.Flags().String("provider", "", "provider number")
	templateCmd.Flags().String("provider-name", "", "provider name")
	templateCmd.Flags().String("service-type", "", "service type")
	templateCmd.Flags().String("allowed-hours", "", "approved hours for the month")
	templateCmd.Flags().Bool("force", false, "overwrite existing files")
	_ = templateCmd.MarkFlagRequired("month")
	rootCmd.AddCommand(templateCmd)
}
