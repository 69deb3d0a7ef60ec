package model

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Classification records how a service date relates to its sheet period.
type Classification string

const (
	ClassificationUnset      Classification = ""
	ClassificationMatching   Classification = "matching"
	ClassificationCrossMonth Classification = "cross_month"
)

// Valid reports whether c is one of the assigned classifications.
func (c Classification) Valid() bool {
	return c == ClassificationMatching || c == ClassificationCrossMonth
}

// ServiceEntry is one consolidated service record.
type ServiceEntry struct {
	ID             string          `json:"id"`
	ClientRef      string          `json:"client_ref"`
	ProviderRef    string          `json:"provider_ref"`
	PayerRef       string          `json:"payer_ref"`
	ServiceDate    time.Time       `json:"service_date"`
	Hours          decimal.Decimal `json:"hours"`
	TravelHours    decimal.Decimal `json:"travel_hours"`
	DirectHours    decimal.Decimal `json:"direct_hours"`
	IndirectHours  decimal.Decimal `json:"indirect_hours"`
	ServiceType    string          `json:"service_type,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	SheetPeriod    Period          `json:"sheet_period"`
	SourceSheetID  string          `json:"source_sheet_id"`
	SourceRowIndex int             `json:"source_row_index"`
	Classification Classification  `json:"classification"`
	AnomalyNote    string          `json:"anomaly_note,omitempty"`
}

// Validate checks the invariants an entry must hold before it is persisted.
func (e ServiceEntry) Validate() error {
	switch {
	case e.ClientRef == "" || e.ProviderRef == "" || e.PayerRef == "":
		return eris.New("missing master reference")
	case e.ServiceDate.IsZero():
		return eris.New("missing service date")
	case !e.Hours.IsPositive():
		return eris.Errorf("hours must be positive, got %s", e.Hours.String())
	case e.TravelHours.IsNegative() || e.DirectHours.IsNegative() || e.IndirectHours.IsNegative():
		return eris.New("hour breakdown must not be negative")
	case !e.SheetPeriod.Valid():
		return eris.New("missing sheet period")
	case !e.Classification.Valid():
		return eris.New("classification not set")
	case (e.Classification == ClassificationCrossMonth) != (e.AnomalyNote != ""):
		return eris.New("anomaly note does not match classification")
	}
	return nil
}

// TotalHours is travel plus direct plus indirect time.
func (e ServiceEntry) TotalHours() decimal.Decimal {
	return e.TravelHours.Add(e.DirectHours).Add(e.IndirectHours)
}

// Equal compares by value. Decimals compare numerically and dates by
// instant, so entries read back from a store equal the ones written.
func (e ServiceEntry) Equal(o ServiceEntry) bool {
	return e.ID == o.ID &&
		e.ClientRef == o.ClientRef &&
		e.ProviderRef == o.ProviderRef &&
		e.PayerRef == o.PayerRef &&
		e.ServiceDate.Equal(o.ServiceDate) &&
		e.Hours.Equal(o.Hours) &&
		e.TravelHours.Equal(o.TravelHours) &&
		e.DirectHours.Equal(o.DirectHours) &&
		e.IndirectHours.Equal(o.IndirectHours) &&
		e.ServiceType == o.ServiceType &&
		e.Notes == o.Notes &&
		e.SheetPeriod.Equal(o.SheetPeriod) &&
		e.SourceSheetID == o.SourceSheetID &&
		e.SourceRowIndex == o.SourceRowIndex &&
		e.Classification == o.Classification &&
		e.AnomalyNote == o.AnomalyNote
}

// SheetArtifact is one ingested spreadsheet file.
type SheetArtifact struct {
	ID         string    `json:"id"`
	Period     Period    `json:"period"`
	FilePath   string    `json:"file_path"`
	Checksum   string    `json:"checksum"`
	IngestedAt time.Time `json:"ingested_at"`
	RowCount   int       `json:"row_count"`
}

// RawFields holds the untyped cell text of one timesheet row.
type RawFields struct {
	Client      string `json:"client"`
	Provider    string `json:"provider"`
	Payer       string `json:"payer"`
	ServiceDate string `json:"service_date"`
	Hours       string `json:"hours"`
	Travel      string `json:"travel"`
	Direct      string `json:"direct"`
	Indirect    string `json:"indirect"`
	ServiceType string `json:"service_type"`
	Notes       string `json:"notes"`
}

// RowCandidate is either parsed raw fields or a row error, never both.
type RowCandidate struct {
	SheetID  string     `json:"sheet_id"`
	RowIndex int        `json:"row_index"`
	Fields   *RawFields `json:"fields,omitempty"`
	Err      *RowError  `json:"error,omitempty"`
}

// CandidateFields builds a successful candidate.
func CandidateFields(sheetID string, row int, f RawFields) RowCandidate {
	return RowCandidate{SheetID: sheetID, RowIndex: row, Fields: &f}
}

// CandidateError builds a failed candidate.
func CandidateError(sheetID string, row int, field, raw, reason string) RowCandidate {
	return RowCandidate{
		SheetID:  sheetID,
		RowIndex: row,
		Err:      &RowError{SheetID: sheetID, RowIndex: row, Field: field, Raw: raw, Reason: reason},
	}
}

// Batch is the unit of work handed to the store for one artifact.
type Batch struct {
	Artifact SheetArtifact  `json:"artifact"`
	Entries  []ServiceEntry `json:"entries"`
	Errors   []RowError     `json:"errors,omitempty"`
}
