// Package export writes billing and ingestion results to xlsx workbooks.
package export

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"

	"github.com/wegpiraten/billing-cli/internal/billing"
	"github.com/wegpiraten/billing-cli/internal/model"
)

// Sheet names of the billing hand-off workbook.
const (
	SheetBilling = "Abrechnung"
	SheetNotes   = "Hinweise"
	SheetTotals  = "Summen"
	SheetImports = "Importiert"
)

// Labels maps master record ids to their records for display.
type Labels map[string]model.MasterRecord

// LabelsFrom indexes records by id.
func LabelsFrom(records []model.MasterRecord) Labels {
	l := make(Labels, len(records))
	for _, r := range records {
		l[r.ID] = r
	}
	return l
}

// Code returns the display code for id, or id itself when unknown.
func (l Labels) Code(id string) string {
	if r, ok := l[id]; ok {
		return r.DisplayCode
	}
	return id
}

// Name returns the record name for id, or "".
func (l Labels) Name(id string) string {
	return l[id].Name
}

// BillingFileName is the default name of the hand-off workbook.
func BillingFileName(p model.Period) string {
	return fmt.Sprintf("abrechnung_%s.xlsx", p)
}

// IngestSummaryFileName names the summary of rows imported for a sheet period.
func IngestSummaryFileName(p model.Period) string {
	return fmt.Sprintf("importierte_daten_%s.xlsx", p)
}

var entryHeader = []any{
	"Datum", "Klient", "Name", "Leistungserbringer", "Kostenträger", "Leistungsart",
	"Stunden", "Fahrtzeit", "Direkt", "Indirekt", "Bemerkung", "Bogen", "Zeile", "Hinweis",
}

func entryCells(e model.ServiceEntry, labels Labels) []any {
	return []any{
		e.ServiceDate, labels.Code(e.ClientRef), labels.Name(e.ClientRef),
		labels.Code(e.ProviderRef), labels.Code(e.PayerRef), e.ServiceType,
		e.Hours, e.TravelHours, e.DirectHours, e.IndirectHours, e.Notes,
		e.SheetPeriod.String(), e.SourceRowIndex, e.AnomalyNote,
	}
}

// priceCells are the rate and cost of e, blank when its client has no rate.
func priceCells(e model.ServiceEntry, rates billing.Rates) []any {
	cost, ok := rates.Cost(e)
	if !ok {
		return []any{"", ""}
	}
	return []any{rates[e.ClientRef], cost}
}

// WriteBilling writes the billing selection: all entries priced at their
// client's rate, the flagged ones with their notes, and per-client totals.
func WriteBilling(path string, res *billing.Result, labels Labels) error {
	f := xlsx.NewFile()

	entries, err := addSheet(f, SheetBilling)
	if err != nil {
		return err
	}
	entries.row(append(entryHeader[:len(entryHeader):len(entryHeader)], "Stundensatz", "Kosten")...)
	for _, e := range res.Entries() {
		entries.row(append(entryCells(e, labels), priceCells(e, res.Rates)...)...)
	}

	notes, err := addSheet(f, SheetNotes)
	if err != nil {
		return err
	}
	notes.row("Datum", "Klient", "Bogen", "Zeile", "Stunden", "Hinweis")
	for _, fl := range res.Flagged {
		e := fl.Entry
		notes.row(e.ServiceDate, labels.Code(e.ClientRef), e.SheetPeriod.String(), e.SourceRowIndex, e.Hours, fl.Note)
	}

	totals, err := addSheet(f, SheetTotals)
	if err != nil {
		return err
	}
	totals.row("Klient", "Name", "Einträge", "davon mit Hinweis", "Stunden regulär", "Stunden mit Hinweis", "Stunden gesamt",
		"Stundensatz", "Kosten")
	for _, s := range res.Summaries() {
		var rate, cost any = "", ""
		if s.HasRate {
			rate, cost = s.Rate, s.Cost
		}
		totals.row(labels.Code(s.ClientRef), labels.Name(s.ClientRef), s.Entries, s.Flagged,
			s.CleanHours, s.FlaggedHours, s.TotalHours(), rate, cost)
	}
	totals.row("Summe", res.Period.String(), res.Len(), len(res.Flagged), "", "", res.TotalHours(), "", res.TotalCost())

	return save(f, path)
}

// Imported is one ingested artifact with the entries it wrote.
type Imported struct {
	Artifact model.SheetArtifact
	Entries  []model.ServiceEntry
}

// WriteIngestSummary lists the rows of the given artifacts.
func WriteIngestSummary(path string, imported []Imported, labels Labels) error {
	f := xlsx.NewFile()
	w, err := addSheet(f, SheetImports)
	if err != nil {
		return err
	}
	w.row(append([]any{"Datei"}, entryHeader...)...)
	for _, imp := range imported {
		name := filepath.Base(imp.Artifact.FilePath)
		for _, e := range imp.Entries {
			w.row(append([]any{name}, entryCells(e, labels)...)...)
		}
	}
	return save(f, path)
}

type sheetWriter struct {
	sheet *xlsx.Sheet
}

func addSheet(f *xlsx.File, name string) (sheetWriter, error) {
	sh, err := f.AddSheet(name)
	if err != nil {
		return sheetWriter{}, eris.Wrapf(err, "export: add sheet %s", name)
	}
	return sheetWriter{sheet: sh}, nil
}

func (w sheetWriter) row(values ...any) {
	r := w.sheet.AddRow()
	for _, v := range values {
		c := r.AddCell()
		switch v := v.(type) {
		case string:
			c.SetString(v)
		case int:
			c.SetInt(v)
		case decimal.Decimal:
			c.SetFloat(v.InexactFloat64())
		case time.Time:
			c.SetDate(v)
		default:
			c.SetValue(v)
		}
	}
}

func save(f *xlsx.File, path string) error {
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}
