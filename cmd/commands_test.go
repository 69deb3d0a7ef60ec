package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegpiraten/billing-cli/internal/export"
	"github.com/wegpiraten/billing-cli/internal/fetcher"
	"github.com/wegpiraten/billing-cli/internal/masterdata"
	"github.com/wegpiraten/billing-cli/internal/model"
	"github.com/wegpiraten/billing-cli/internal/store"
	"github.com/wegpiraten/billing-cli/internal/timesheet"
)

// setupWorkspace points the configuration at a temp directory and seeds the
// master data the sample sheets refer to.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	dbPath := filepath.Join(dir, "billing.db")
	t.Setenv("BILLING_STORE_DATABASE_URL", dbPath)
	t.Setenv("BILLING_INGEST_IMPORTS_DIR", filepath.Join(dir, "imports"))
	t.Setenv("BILLING_INGEST_ARCHIVE_DIR", filepath.Join(dir, "imports", "importiert"))
	t.Setenv("BILLING_BILLING_EXPORT_DIR", filepath.Join(dir, "exports"))
	t.Setenv("BILLING_LOG_LEVEL", "error")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "imports"), 0o755))

	ctx := context.Background()
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	var records []model.MasterRecord
	for _, m := range []struct {
		kind  model.MasterKind
		code  string
		name  string
		attrs map[string]string
	}{
		{model.KindClient, "K-01", "Meier", map[string]string{
			"ZdNr": "Z-1", "Kürzel": "ME", "MA_ID": "P-7", "Stundensatz": "80", "Stunden pro Monat": "20",
		}},
		{model.KindClient, "K-02", "Alt", map[string]string{"ZdNr": "Z-1", "Kürzel": "AL", "Ende": "31.07.2025"}},
		{model.KindProvider, "P-7", "Schulz", nil},
		{model.KindPayer, "Z-1", "Jugendamt", nil},
	} {
		key := masterdata.NormalizeCode(m.code)
		records = append(records, model.MasterRecord{
			ID: model.MasterID(m.kind, key), Kind: m.kind, DisplayCode: m.code, CodeKey: key, Name: m.name, Attributes: m.attrs,
		})
	}
	_, err = st.UpsertMasterRecords(ctx, records)
	require.NoError(t, err)
	return dir
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestIngestThenBilling(t *testing.T) {
	dir := setupWorkspace(t)

	sheet := filepath.Join(dir, "imports", "meier_2025-08.xlsx")
	require.NoError(t, timesheet.WriteTemplate(sheet, timesheet.Template{
		Period:   model.Period{Year: 2025, Month: 8},
		Provider: "P-7",
		Client:   "K-01",
		Rows: []timesheet.TemplateRow{
			{Date: "04.08.2025", Hours: "2"},
			{Date: "28.07.2025", Hours: "1,5", Notes: "nachgetragen"},
		},
	}))

	require.NoError(t, execute(t, "ingest"))

	_, err := os.Stat(sheet)
	assert.True(t, os.IsNotExist(err), "processed sheet should be archived")
	_, err = os.Stat(filepath.Join(dir, "imports", "importiert", "meier_2025-08.xlsx"))
	require.NoError(t, err)

	require.NoError(t, execute(t, "billing", "--month", "07.2025"))

	out := filepath.Join(dir, "exports", export.BillingFileName(model.Period{Year: 2025, Month: 7}))
	wb, err := fetcher.ReadWorkbook(out)
	require.NoError(t, err)

	hints, ok := wb.Sheet(export.SheetNotes)
	require.True(t, ok)
	assert.Equal(t, 2, hints.Len(), "header plus the cross-month entry")

	entries, ok := wb.Sheet(export.SheetBilling)
	require.True(t, ok)
	assert.Equal(t, 2, entries.Len())
}

func TestIngest_RejectedFileFails(t *testing.T) {
	dir := setupWorkspace(t)

	sheet := filepath.Join(dir, "imports", "unbekannt_2025-08.xlsx")
	require.NoError(t, timesheet.WriteTemplate(sheet, timesheet.Template{
		Period:   model.Period{Year: 2025, Month: 8},
		Provider: "P-7",
		Client:   "ZZZ",
		Rows:     []timesheet.TemplateRow{{Date: "04.08.2025", Hours: "2"}},
	}))

	err := execute(t, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 rejected")

	_, statErr := os.Stat(sheet)
	assert.NoError(t, statErr, "rejected sheet stays in the imports directory")
}

func TestBilling_InvalidMonth(t *testing.T) {
	setupWorkspace(t)

	err := execute(t, "billing", "--month", "13.2025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing: --month")
}

func TestTemplateCommand_WritesReadableSheet(t *testing.T) {
	setupWorkspace(t)
	path := filepath.Join(t.TempDir(), "vorlage.xlsx")

	require.NoError(t, execute(t, "template", path, "--month", "2025-09", "--client", "K-01", "--provider", "P-7"))

	ext := timesheet.NewExtractor(timesheet.DefaultProfile(), nil)
	x, err := ext.Extract(context.Background(), timesheet.ArtifactRef{ID: "vorlage", Path: path})
	require.NoError(t, err)
	assert.Equal(t, model.Period{Year: 2025, Month: 9}, x.Period)

	err = execute(t, "template", path, "--month", "2025-09")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exists")
}

func TestBilling_PricesEntries(t *testing.T) {
	dir := setupWorkspace(t)

	sheet := filepath.Join(dir, "imports", "meier_2025-08.xlsx")
	require.NoError(t, timesheet.WriteTemplate(sheet, timesheet.Template{
		Period:   model.Period{Year: 2025, Month: 8},
		Provider: "P-7",
		Client:   "K-01",
		Rows:     []timesheet.TemplateRow{{Date: "04.08.2025", Direct: "1,5", Indirect: "0,5"}},
	}))
	require.NoError(t, execute(t, "ingest"))
	require.NoError(t, execute(t, "billing", "--month", "2025-08"))

	out := filepath.Join(dir, "exports", export.BillingFileName(model.Period{Year: 2025, Month: 8}))
	g, err := fetcher.ReadGrid(out, fetcher.XLSXOptions{SheetName: export.SheetTotals})
	require.NoError(t, err)
	assert.Equal(t, "Kosten", g.At(0, 8))
	cost, err := model.ParseDecimal(g.At(1, 8))
	require.NoError(t, err)
	assert.Equal(t, "160", cost.String())
}

func TestTemplateCommand_AllActiveClients(t *testing.T) {
	setupWorkspace(t)
	out := filepath.Join(t.TempDir(), "boegen")
	t.Cleanup(func() {
		_ = templateCmd.Flags().Set("all", "false")
		_ = templateCmd.Flags().Set("out", ".")
	})

	require.NoError(t, execute(t, "template", "--month", "2025-08", "--all", "--out", out))

	path := filepath.Join(out, "Aufwandserfassung_2025-08_ME.xlsx")
	_, err := os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "Aufwandserfassung_2025-08_AL.xlsx"))
	assert.True(t, os.IsNotExist(err), "client ended in July gets no August sheet")

	x, err := timesheet.NewExtractor(timesheet.DefaultProfile(), nil).
		Extract(context.Background(), timesheet.ArtifactRef{ID: "me", Path: path})
	require.NoError(t, err)
	assert.Equal(t, "K-01", x.Header.Client)
	assert.Equal(t, "P-7", x.Header.Provider)

	err = execute(t, "template", "--month", "2025-08", "--all", "--out", out, "extra.xlsx")
	require.Error(t, err)
}
