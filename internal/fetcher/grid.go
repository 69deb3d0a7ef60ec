// Package fetcher reads spreadsheet files into plain string grids.
package fetcher

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Grid is one worksheet as rows of raw cell text. Row and column indexes are
// zero-based; missing cells read as "".
type Grid struct {
	Sheet string
	Rows  [][]string
}

// At returns the cell at (row, col) or "" outside the grid.
func (g *Grid) At(row, col int) string {
	if g == nil || row < 0 || row >= len(g.Rows) || col < 0 || col >= len(g.Rows[row]) {
		return ""
	}
	return g.Rows[row][col]
}

var cellRefRe = regexp.MustCompile(`^([A-Z]{1,3})([1-9][0-9]*)$`)

// ParseCellRef converts an A1 reference into zero-based row and column.
func ParseCellRef(ref string) (row, col int, err error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	if !cellRefRe.MatchString(ref) {
		return 0, 0, eris.Errorf("grid: bad cell reference %q", ref)
	}
	col, row, err = xlsx.GetCoordsFromCellIDString(ref)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "grid: bad cell reference %q", ref)
	}
	return row, col, nil
}

// Cell returns the cell addressed in A1 notation.
func (g *Grid) Cell(ref string) (string, error) {
	row, col, err := ParseCellRef(ref)
	if err != nil {
		return "", err
	}
	return g.At(row, col), nil
}

// Len is the number of rows.
func (g *Grid) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Rows)
}

// ReadGrid reads one sheet of a spreadsheet file. XLSX is the primary format;
// a .csv file is read as a single sheet.
func ReadGrid(path string, opts XLSXOptions) (*Grid, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSVGrid(path, CSVOptions{TrimSpace: true})
	default:
		return ReadXLSX(path, opts)
	}
}
