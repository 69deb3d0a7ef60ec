// Package timesheet turns a monthly timesheet workbook into row candidates.
package timesheet

import (
	"context"
	"iter"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wegpiraten/billing-cli/internal/fetcher"
	"github.com/wegpiraten/billing-cli/internal/model"
)

// GridReader loads one sheet of a spreadsheet as raw strings.
type GridReader interface {
	ReadGrid(path string, opts fetcher.XLSXOptions) (*fetcher.Grid, error)
}

// GridReaderFunc adapts a function to GridReader.
type GridReaderFunc func(path string, opts fetcher.XLSXOptions) (*fetcher.Grid, error)

// ReadGrid calls f.
func (f GridReaderFunc) ReadGrid(path string, opts fetcher.XLSXOptions) (*fetcher.Grid, error) {
	return f(path, opts)
}

// ArtifactRef identifies the file to extract. A zero Period means the period
// is read from the sheet.
type ArtifactRef struct {
	ID     string
	Path   string
	Period model.Period
}

// Header holds the sheet-level values read from the header cells.
type Header struct {
	Client      string
	Provider    string
	Payer       string
	ServiceType string
	Period      string
}

// Extractor reads timesheets laid out according to a Profile.
type Extractor struct {
	profile Profile
	reader  GridReader
}

// NewExtractor creates an extractor. A nil reader uses fetcher.ReadGrid.
func NewExtractor(profile Profile, reader GridReader) *Extractor {
	if reader == nil {
		reader = GridReaderFunc(fetcher.ReadGrid)
	}
	return &Extractor{profile: profile, reader: reader}
}

// Extraction is a parsed sheet ready to be walked row by row.
type Extraction struct {
	ArtifactID string
	Path       string
	Period     model.Period
	Header     Header

	grid  *fetcher.Grid
	cols  map[string]int
	first int
	last  int
}

// Extract reads the artifact and validates its structure. Any failure here is
// a *model.StructuralError and nothing from the artifact may be persisted.
func (e *Extractor) Extract(ctx context.Context, ref ArtifactRef) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "timesheet: extract")
	}
	if ref.ID == "" {
		ref.ID = model.ArtifactIDForPath(ref.Path)
	}

	structural := func(reason string, err error) error {
		return &model.StructuralError{ArtifactID: ref.ID, Path: ref.Path, Reason: reason, Err: err}
	}

	grid, err := e.reader.ReadGrid(ref.Path, fetcher.XLSXOptions{SheetName: e.profile.SheetName})
	if err != nil {
		if e.profile.SheetName != "" && strings.Contains(err.Error(), "not found") {
			return nil, structural("sheet "+e.profile.SheetName+" missing", err)
		}
		return nil, structural("file unreadable", err)
	}
	if grid.Len() == 0 {
		return nil, structural("sheet is empty", nil)
	}

	x := &Extraction{ArtifactID: ref.ID, Path: ref.Path, grid: grid}
	x.Header = e.readHeader(grid)

	x.cols, err = e.resolveColumns(grid)
	if err != nil {
		return nil, structural(err.Error(), nil)
	}

	// The payer is optional here: normalization falls back to the client's
	// master record.
	for _, code := range []struct {
		col, cell, value string
	}{
		{ColClient, e.profile.Header.Client, x.Header.Client},
		{ColProvider, e.profile.Header.Provider, x.Header.Provider},
	} {
		if _, ok := x.cols[code.col]; ok || code.value != "" {
			continue
		}
		if code.cell != "" {
			return nil, structural("no "+code.col+" column and header cell "+code.cell+" is empty", nil)
		}
		return nil, structural("no "+code.col+" column", nil)
	}

	switch {
	case ref.Period.Valid():
		x.Period = ref.Period
	case x.Header.Period == "":
		return nil, structural("no period: header cell "+e.profile.Header.Period+" is empty", nil)
	default:
		p, err := model.ParsePeriod(x.Header.Period)
		if err != nil {
			return nil, structural("unparseable period "+x.Header.Period, err)
		}
		x.Period = p
	}

	x.first = e.profile.FirstDataRow - 1
	x.last = grid.Len() - 1
	if e.profile.LastDataRow > 0 && e.profile.LastDataRow-1 < x.last {
		x.last = e.profile.LastDataRow - 1
	}

	return x, nil
}

func (e *Extractor) readHeader(grid *fetcher.Grid) Header {
	cell := func(ref string) string {
		if ref == "" {
			return ""
		}
		v, err := grid.Cell(ref)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(v)
	}
	h := e.profile.Header
	return Header{
		Client:      cell(h.Client),
		Provider:    cell(h.Provider),
		Payer:       cell(h.Payer),
		ServiceType: cell(h.ServiceType),
		Period:      cell(h.Period),
	}
}

// resolveColumns maps logical columns to indexes, first from fixed letters,
// then from captions in the header row: exact matches before prefix matches.
func (e *Extractor) resolveColumns(grid *fetcher.Grid) (map[string]int, error) {
	cols := make(map[string]int, len(Columns))
	for col, letter := range e.profile.Letters {
		idx, err := columnIndex(letter)
		if err != nil {
			return nil, err
		}
		cols[col] = idx
	}

	if e.profile.HeaderRow > 0 {
		hr := e.profile.HeaderRow - 1
		if hr >= grid.Len() || isBlank(grid.Rows[hr]) {
			return nil, eris.Errorf("header row %d missing", e.profile.HeaderRow)
		}
		captions := make([]string, len(grid.Rows[hr]))
		for i, c := range grid.Rows[hr] {
			captions[i] = normalizeCaption(c)
		}

		taken := make(map[int]bool, len(cols))
		for _, idx := range cols {
			taken[idx] = true
		}
		match := func(prefix bool) {
			for _, col := range Columns {
				if _, ok := cols[col]; ok {
					continue
				}
				for _, alias := range e.profile.Captions[col] {
					alias = normalizeCaption(alias)
					if idx, ok := findCaption(captions, alias, prefix, taken); ok {
						cols[col] = idx
						taken[idx] = true
						break
					}
				}
			}
		}
		match(false)
		match(true)
	}

	if _, ok := cols[ColDate]; !ok {
		return nil, eris.New("no date column")
	}
	_, hasHours := cols[ColHours]
	_, hasDirect := cols[ColDirect]
	if !hasHours && !hasDirect {
		return nil, eris.New("no hours column")
	}
	return cols, nil
}

func findCaption(captions []string, alias string, prefix bool, taken map[int]bool) (int, bool) {
	for i, c := range captions {
		if taken[i] || c == "" {
			continue
		}
		if c == alias || (prefix && strings.HasPrefix(c, alias+" ")) {
			return i, true
		}
	}
	return 0, false
}

// Rows walks the data rows. Each call to the returned sequence starts again
// from the first data row.
func (x *Extraction) Rows() iter.Seq[model.RowCandidate] {
	return func(yield func(model.RowCandidate) bool) {
		for r := x.first; r <= x.last; r++ {
			cand, ok := x.row(r)
			if !ok {
				continue
			}
			if !yield(cand) {
				return
			}
		}
	}
}

// Candidates collects Rows into a slice.
func (x *Extraction) Candidates() []model.RowCandidate {
	var out []model.RowCandidate
	for c := range x.Rows() {
		out = append(out, c)
	}
	return out
}

// row builds the candidate for grid row r (zero-based). The reported row
// index is the 1-based spreadsheet row number.
func (x *Extraction) row(r int) (model.RowCandidate, bool) {
	cells := x.grid.Rows[r]
	if isBlank(cells) {
		return model.RowCandidate{}, false
	}

	get := func(col string) string {
		idx, ok := x.cols[col]
		if !ok || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	f := model.RawFields{
		Client:      get(ColClient),
		Provider:    get(ColProvider),
		Payer:       get(ColPayer),
		ServiceDate: get(ColDate),
		Hours:       get(ColHours),
		Travel:      get(ColTravel),
		Direct:      get(ColDirect),
		Indirect:    get(ColIndirect),
		ServiceType: get(ColServiceType),
		Notes:       get(ColNotes),
	}

	if f.Client == "" && f.Hours == "" && f.Travel == "" && f.Direct == "" && f.Indirect == "" {
		return model.RowCandidate{}, false
	}

	f.Client = orDefault(f.Client, x.Header.Client)
	f.Provider = orDefault(f.Provider, x.Header.Provider)
	f.Payer = orDefault(f.Payer, x.Header.Payer)
	f.ServiceType = orDefault(f.ServiceType, x.Header.ServiceType)

	rowNum := r + 1
	if f.ServiceDate == "" {
		return model.CandidateError(x.ArtifactID, rowNum, ColDate, "", "missing service date"), true
	}
	if _, err := model.ParseDate(f.ServiceDate); err != nil {
		return model.CandidateError(x.ArtifactID, rowNum, ColDate, f.ServiceDate, "unparseable date"), true
	}
	for _, h := range []struct{ col, raw string }{
		{ColHours, f.Hours}, {ColTravel, f.Travel}, {ColDirect, f.Direct}, {ColIndirect, f.Indirect},
	} {
		if h.raw == "" {
			continue
		}
		if _, err := model.ParseHours(h.raw); err != nil {
			return model.CandidateError(x.ArtifactID, rowNum, h.col, h.raw, "unparseable number"), true
		}
	}

	return model.CandidateFields(x.ArtifactID, rowNum, f), true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
