package masterdata

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegpiraten/billing-cli/internal/fetcher"
	"github.com/wegpiraten/billing-cli/internal/model"
)

// SheetNames names the worksheet holding each kind.
type SheetNames struct {
	Client   string
	Provider string
	Payer    string
}

// DefaultSheetNames returns the sheet names of the master data workbook.
func DefaultSheetNames() SheetNames {
	return SheetNames{Client: "Klienten", Provider: "Leistungserbringer", Payer: "Kostentraeger"}
}

func (s SheetNames) forKind(kind model.MasterKind) string {
	switch kind {
	case model.KindClient:
		return s.Client
	case model.KindProvider:
		return s.Provider
	default:
		return s.Payer
	}
}

// codeCaptions lists accepted key column captions per kind, most specific first.
var codeCaptions = map[model.MasterKind][]string{
	model.KindClient:   {"klientnr", "klient-nr", "klient-id", "klientid"},
	model.KindProvider: {"persnr", "pers-nr", "personalnummer", "mitarbeiter-id", "leistungserbringer-id"},
	model.KindPayer:    {"zdnr", "zd-nr", "kostenträger-nr", "kostentraeger-nr"},
}

var genericCodeCaptions = []string{"code", "kürzel", "kuerzel", "nr", "nummer", "id"}

// Upserter persists master records and reports how many were written.
type Upserter interface {
	UpsertMasterRecords(ctx context.Context, records []model.MasterRecord) (int, error)
}

// ImportResult summarizes a workbook import.
type ImportResult struct {
	Written       map[model.MasterKind]int
	Skipped       int
	MissingSheets []string
}

// ImportWorkbook reads the client, provider and payer sheets of path and
// upserts their records keyed by (kind, normalized code). Missing sheets are
// reported, not fatal, unless none is present.
func ImportWorkbook(ctx context.Context, path string, sheets SheetNames, up Upserter) (*ImportResult, error) {
	log := zap.L().With(zap.String("component", "masterdata"), zap.String("path", path))

	wb, err := fetcher.ReadWorkbook(path)
	if err != nil {
		return nil, eris.Wrap(err, "masterdata: read workbook")
	}

	res := &ImportResult{Written: make(map[model.MasterKind]int)}
	var all []model.MasterRecord
	for _, kind := range model.MasterKinds {
		name := sheets.forKind(kind)
		grid, ok := wb.Sheet(name)
		if !ok {
			res.MissingSheets = append(res.MissingSheets, name)
			log.Warn("master data sheet missing", zap.String("sheet", name), zap.String("kind", string(kind)))
			continue
		}
		recs, skipped, err := ParseSheet(kind, grid)
		if err != nil {
			return nil, eris.Wrapf(err, "masterdata: sheet %s", name)
		}
		res.Skipped += skipped
		res.Written[kind] = len(recs)
		all = append(all, recs...)
	}
	if len(res.MissingSheets) == len(model.MasterKinds) {
		return nil, eris.Errorf("masterdata: workbook %s has none of the sheets %s, %s, %s",
			path, sheets.Client, sheets.Provider, sheets.Payer)
	}

	if _, err := up.UpsertMasterRecords(ctx, all); err != nil {
		return nil, eris.Wrap(err, "masterdata: upsert records")
	}
	log.Info("master data imported",
		zap.Int("clients", res.Written[model.KindClient]),
		zap.Int("providers", res.Written[model.KindProvider]),
		zap.Int("payers", res.Written[model.KindPayer]),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// ParseSheet turns one master sheet into records. The first row holds the
// captions; rows without a code are skipped. A later row with the same
// normalized code replaces an earlier one.
func ParseSheet(kind model.MasterKind, grid *fetcher.Grid) ([]model.MasterRecord, int, error) {
	if grid.Len() == 0 {
		return nil, 0, nil
	}
	header := grid.Rows[0]
	idx := mapColumns(header)

	codeCol := -1
	for _, c := range append(append([]string{}, codeCaptions[kind]...), genericCodeCaptions...) {
		if i, ok := idx[c]; ok {
			codeCol = i
			break
		}
	}
	if codeCol < 0 {
		return nil, 0, eris.Errorf("no code column for %s in %v", kind, header)
	}

	now := time.Now().UTC()
	var (
		out     []model.MasterRecord
		pos     = make(map[string]int)
		skipped int
	)
	for r := 1; r < grid.Len(); r++ {
		row := grid.Rows[r]
		code := strings.TrimSpace(grid.At(r, codeCol))
		if code == "" {
			if !blank(row) {
				skipped++
			}
			continue
		}
		key := NormalizeCode(code)

		rec := model.MasterRecord{
			ID:          model.MasterID(kind, key),
			Kind:        kind,
			DisplayCode: code,
			CodeKey:     key,
			Name:        recordName(grid, r, idx),
			Attributes:  make(map[string]string),
			UpdatedAt:   now,
		}
		for i, caption := range header {
			caption = strings.TrimSpace(caption)
			v := strings.TrimSpace(grid.At(r, i))
			if i == codeCol || caption == "" || v == "" {
				continue
			}
			if c := captionKey(caption); c == "name" {
				continue
			}
			rec.Attributes[caption] = v
		}

		if p, dup := pos[key]; dup {
			zap.L().Warn("duplicate master code, later row wins",
				zap.String("kind", string(kind)), zap.String("code", code), zap.Int("row", r+1))
			out[p] = rec
			continue
		}
		pos[key] = len(out)
		out = append(out, rec)
	}
	return out, skipped, nil
}

func recordName(grid *fetcher.Grid, r int, idx map[string]int) string {
	get := func(c string) string {
		i, ok := idx[c]
		if !ok {
			return ""
		}
		return strings.TrimSpace(grid.At(r, i))
	}
	if n := get("name"); n != "" {
		return n
	}
	if n := get("bezeichnung"); n != "" {
		return n
	}
	return strings.TrimSpace(get("vorname") + " " + get("nachname"))
}

func captionKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func mapColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		k := captionKey(col)
		if _, seen := m[k]; !seen && k != "" {
			m[k] = i
		}
	}
	return m
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
