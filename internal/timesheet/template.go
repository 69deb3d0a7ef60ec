package timesheet

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// TemplateSheetName is the sheet written by WriteTemplate.
const TemplateSheetName = "Erfassungsbogen"

// The entry block spans rows 10 to 28.
const (
	templateFirstRow = 10
	templateDataRows = 19
)

// TemplateRow is one pre-filled entry row, columns A..H.
type TemplateRow struct {
	Time     string
	Date     string
	Travel   string
	Distance string
	Direct   string
	Indirect string
	Hours    string
	Notes    string
}

// Template holds the header values of a monthly timesheet.
type Template struct {
	Period       model.Period
	ProviderName string
	Provider     string
	AllowedHours string
	ServiceType  string
	ClientShort  string
	Client       string
	Rows         []TemplateRow
}

// WriteTemplate writes a timesheet in the layout DefaultProfile reads. The
// entry block holds rows 10 to 28; row 29 carries the totals.
func WriteTemplate(path string, tpl Template) error {
	if len(tpl.Rows) > templateDataRows {
		return eris.Errorf("timesheet: %d rows do not fit the %d entry rows of the template", len(tpl.Rows), templateDataRows)
	}

	grid := make([][]string, 9)
	for i := range grid {
		grid[i] = make([]string, 8)
	}
	grid[0][0] = TemplateSheetName
	put := func(row int, labelCol int, label string, valueCol int, value string) {
		grid[row][labelCol] = label
		grid[row][valueCol] = value
	}
	period := ""
	if tpl.Period.Valid() {
		period = tpl.Period.String()
	}
	put(4, 0, "Mitarbeiter:", 2, tpl.ProviderName)
	put(4, 4, "Leistungserbringer:", 6, tpl.Provider)
	put(5, 0, "Monat:", 2, period)
	put(6, 0, "Sollstunden:", 2, tpl.AllowedHours)
	put(6, 4, "Leistungsart:", 6, tpl.ServiceType)
	put(7, 0, "Kürzel:", 2, tpl.ClientShort)
	put(7, 4, "Klient:", 6, tpl.Client)
	grid[8] = []string{"Uhrzeit", "Datum", "Fahrtzeit", "km", "Direkt", "Indirekt", "Stunden", "Bemerkung"}

	for i := 0; i < templateDataRows; i++ {
		var r TemplateRow
		if i < len(tpl.Rows) {
			r = tpl.Rows[i]
		}
		grid = append(grid, []string{r.Time, r.Date, r.Travel, r.Distance, r.Direct, r.Indirect, r.Hours, r.Notes})
	}
	grid = append(grid, []string{"Summe", "", "", "", "", "", "", ""})

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(TemplateSheetName)
	if err != nil {
		return eris.Wrap(err, "timesheet: add sheet")
	}
	for _, cells := range grid {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}
	totals := sheet.Rows[len(grid)-1]
	for _, col := range []int{2, 4, 5, 6} {
		letter := xlsx.ColIndexToLetters(col)
		totals.Cells[col].SetFormula(fmt.Sprintf("SUM(%s%d:%s%d)", letter, templateFirstRow, letter, templateFirstRow+templateDataRows-1))
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "timesheet: save template %s", path)
	}
	return nil
}
