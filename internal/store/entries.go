package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// entryColumns is the column order shared by inserts and scanEntry.
const entryColumns = `id, source_sheet_id, source_row_index, client_ref, provider_ref, payer_ref,
	service_date, hours, travel_hours, direct_hours, indirect_hours, service_type, notes,
	sheet_period, classification, anomaly_note`

// entryOrder is the deterministic order of billing reads.
const entryOrder = `client_ref, service_date, source_sheet_id, source_row_index`

// pgEntrySelect renders dates and numerics as text so both dialects scan
// through scanEntry.
const pgEntrySelect = `id, source_sheet_id, source_row_index, client_ref, provider_ref, payer_ref,
	service_date::text, hours::text, travel_hours::text, direct_hours::text, indirect_hours::text,
	service_type, notes, sheet_period, classification, anomaly_note`

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (model.ServiceEntry, error) {
	var (
		e              model.ServiceEntry
		date, period   string
		classification string
		h              entryHours
	)
	if err := row.Scan(&e.ID, &e.SourceSheetID, &e.SourceRowIndex, &e.ClientRef, &e.ProviderRef, &e.PayerRef,
		&date, &h.hours, &h.travel, &h.direct, &h.indirect, &e.ServiceType, &e.Notes,
		&period, &classification, &e.AnomalyNote); err != nil {
		return e, err
	}

	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return e, eris.Wrapf(err, "entry %s: bad service date %q", e.ID, date)
	}
	e.ServiceDate = d
	if e.SheetPeriod, err = model.ParsePeriod(period); err != nil {
		return e, eris.Wrapf(err, "entry %s", e.ID)
	}
	e.Classification = model.Classification(classification)
	if err := h.apply(&e); err != nil {
		return e, err
	}
	return e, nil
}

func scanArtifact(row scannable) (*model.SheetArtifact, error) {
	var a model.SheetArtifact
	var period string
	if err := row.Scan(&a.ID, &period, &a.FilePath, &a.Checksum, &a.IngestedAt, &a.RowCount); err != nil {
		return nil, err
	}
	p, err := model.ParsePeriod(period)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact %s", a.ID)
	}
	a.Period = p
	return &a, nil
}

func marshalAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal attributes")
	}
	return b, nil
}

func updatedAt(r model.MasterRecord) time.Time {
	if r.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return r.UpdatedAt.UTC()
}

// entryHours keeps the decimal columns together for scanning.
type entryHours struct {
	hours, travel, direct, indirect string
}

func (h entryHours) apply(e *model.ServiceEntry) error {
	for _, p := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{h.hours, &e.Hours}, {h.travel, &e.TravelHours}, {h.direct, &e.DirectHours}, {h.indirect, &e.IndirectHours},
	} {
		d, err := decimal.NewFromString(p.raw)
		if err != nil {
			return eris.Wrapf(err, "entry %s: bad decimal %q", e.ID, p.raw)
		}
		*p.dst = d
	}
	return nil
}
