package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the sheet to read.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// Workbook holds every sheet of an XLSX file, in file order.
type Workbook struct {
	Names  []string
	sheets map[string]*Grid
}

// Sheet returns the named sheet.
func (w *Workbook) Sheet(name string) (*Grid, bool) {
	g, ok := w.sheets[name]
	return g, ok
}

// ReadXLSX reads a single sheet of an XLSX file.
func ReadXLSX(path string, opts XLSXOptions) (*Grid, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	return sheetToGrid(sheet), nil
}

// ReadWorkbook reads all sheets of an XLSX file.
func ReadWorkbook(path string) (*Workbook, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	wb := &Workbook{sheets: make(map[string]*Grid, len(f.Sheets))}
	for _, sheet := range f.Sheets {
		wb.Names = append(wb.Names, sheet.Name)
		wb.sheets[sheet.Name] = sheetToGrid(sheet)
	}
	return wb, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func sheetToGrid(sheet *xlsx.Sheet) *Grid {
	g := &Grid{Sheet: sheet.Name, Rows: make([][]string, len(sheet.Rows))}
	for i, row := range sheet.Rows {
		g.Rows[i] = rowToStrings(row)
	}
	return g
}

// rowToStrings keeps the stored cell value rather than the display format, so
// dates arrive as serial numbers and decimals keep full precision.
func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if cell == nil {
			continue
		}
		cells[j] = cell.Value
	}
	return cells
}
