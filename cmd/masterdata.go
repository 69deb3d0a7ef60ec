package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegpiraten/billing-cli/internal/masterdata"
	"github.com/wegpiraten/billing-cli/internal/model"
)

var masterdataCmd = &cobra.Command{
	Use:   "masterdata",
	Short: "Manage clients, providers and payers",
	Long:  "Commands for importing and listing the master data service entries refer to.",
}

// -- masterdata import --

var masterdataImportCmd = &cobra.Command{
	Use:   "import <workbook>",
	Short: "Import master data from a workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "masterdata")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sheets := masterdata.SheetNames{
			Client:   cfg.MasterData.ClientSheet,
			Provider: cfg.MasterData.ProviderSheet,
			Payer:    cfg.MasterData.PayerSheet,
		}
		res, err := masterdata.ImportWorkbook(ctx, args[0], sheets, st)
		if err != nil {
			return eris.Wrap(err, "masterdata import")
		}

		for _, name := range res.MissingSheets {
			fmt.Fprintf(os.Stderr, "Sheet %q not found, skipped.\n", name)
		}
		zap.L().Info("import complete",
			zap.String("workbook", args[0]),
			zap.Int("clients", res.Written[model.KindClient]),
			zap.Int("providers", res.Written[model.KindProvider]),
			zap.Int("payers", res.Written[model.KindPayer]),
			zap.Int("skipped", res.Skipped),
		)
		return nil
	},
}

// -- masterdata list --

var masterdataListCmd = &cobra.Command{
	Use:   "list",
	Short: "List master records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var kind model.MasterKind
		if raw, _ := cmd.Flags().GetString("kind"); raw != "" {
			k, err := model.ParseMasterKind(raw)
			if err != nil {
				return err
			}
			kind = k
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, err := st.ListMasterRecords(ctx, kind)
		if err != nil {
			return eris.Wrap(err, "masterdata list")
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No master records found.")
			return nil
		}
		formatMasterList(os.Stdout, records)
		return nil
	},
}

// formatMasterList writes a tabular list of master records to out.
func formatMasterList(out io.Writer, records []model.MasterRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tCODE\tNAME\tID\tUPDATED")
	_, _ = fmt.Fprintln(w, "----\t----\t----\t--\t-------")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Kind,
			r.DisplayCode,
			truncate(r.Name, 30),
			truncateID(r.ID),
			r.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	masterdataListCmd.Flags().String("kind", "", "filter by kind (client, provider, payer)")

	masterdataCmd.AddCommand(masterdataImportCmd)
	masterdataCmd.AddCommand(masterdataListCmd)
	rootCmd.AddCommand(masterdataCmd)
}
