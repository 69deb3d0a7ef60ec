package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEntry() ServiceEntry {
	return ServiceEntry{
		ID:             EntryID("sheet-1", 10),
		ClientRef:      "c1",
		ProviderRef:    "p1",
		PayerRef:       "k1",
		ServiceDate:    time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC),
		Hours:          decimal.RequireFromString("2.5"),
		DirectHours:    decimal.RequireFromString("2"),
		IndirectHours:  decimal.RequireFromString("0.5"),
		SheetPeriod:    Period{2025, 8},
		SourceSheetID:  "sheet-1",
		SourceRowIndex: 10,
		Classification: ClassificationMatching,
	}
}

func TestServiceEntry_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validEntry().Validate())

	tests := []struct {
		name   string
		mutate func(e *ServiceEntry)
	}{
		{"zero hours", func(e *ServiceEntry) { e.Hours = decimal.Zero }},
		{"negative hours", func(e *ServiceEntry) { e.Hours = decimal.NewFromInt(-1) }},
		{"negative travel", func(e *ServiceEntry) { e.TravelHours = decimal.NewFromInt(-1) }},
		{"unset classification", func(e *ServiceEntry) { e.Classification = ClassificationUnset }},
		{"note without cross month", func(e *ServiceEntry) { e.AnomalyNote = "x" }},
		{"cross month without note", func(e *ServiceEntry) { e.Classification = ClassificationCrossMonth }},
		{"missing client", func(e *ServiceEntry) { e.ClientRef = "" }},
		{"missing date", func(e *ServiceEntry) { e.ServiceDate = time.Time{} }},
		{"missing period", func(e *ServiceEntry) { e.SheetPeriod = Period{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := validEntry()
			tt.mutate(&e)
			assert.Error(t, e.Validate())
		})
	}
}

func TestServiceEntry_TotalHours(t *testing.T) {
	t.Parallel()

	e := validEntry()
	e.TravelHours = decimal.RequireFromString("0.25")
	assert.Equal(t, "2.75", e.TotalHours().String())
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	ok := CandidateFields("s", 10, RawFields{Client: "A"})
	assert.NotNil(t, ok.Fields)
	assert.Nil(t, ok.Err)

	bad := CandidateError("s", 11, "hours", "abc", "not a number")
	assert.Nil(t, bad.Fields)
	require.NotNil(t, bad.Err)
	assert.Equal(t, 11, bad.Err.RowIndex)
	assert.Equal(t, "s", bad.Err.SheetID)
}

func TestIDs_Deterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ArtifactIDForPath("/a/Bogen_08.xlsx"), ArtifactIDForPath("/b/bogen_08.xlsx"))
	assert.NotEqual(t, ArtifactIDForPath("bogen_08.xlsx"), ArtifactIDForPath("bogen_09.xlsx"))
	assert.Equal(t, EntryID("s", 10), EntryID("s", 10))
	assert.NotEqual(t, EntryID("s", 10), EntryID("s", 11))
	assert.Equal(t, MasterID(KindClient, "a"), MasterID(KindClient, "a"))
	assert.NotEqual(t, MasterID(KindClient, "a"), MasterID(KindPayer, "a"))
}

func TestErrors(t *testing.T) {
	t.Parallel()

	var err error = &ConflictError{ArtifactID: "x"}
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Contains(t, err.Error(), "x")

	inner := errors.New("disk full")
	se := &StoreError{Op: "upsert artifact", Err: inner}
	assert.ErrorIs(t, se, inner)
	assert.Equal(t, "store: upsert artifact: disk full", se.Error())

	be := &BatchError{ArtifactID: "a", Rows: []RowError{{RowIndex: 12, Field: "client", Raw: "ZZZ", Reason: "unknown client code \"ZZZ\""}}}
	assert.Contains(t, be.Error(), "row 12")
	assert.Contains(t, be.Error(), "ZZZ")

	st := &StructuralError{Path: "f.xlsx", Reason: "sheet missing"}
	assert.Equal(t, "structural error in f.xlsx: sheet missing", st.Error())
}

func TestParseMasterKind(t *testing.T) {
	t.Parallel()

	k, err := ParseMasterKind("payer")
	require.NoError(t, err)
	assert.Equal(t, KindPayer, k)

	_, err = ParseMasterKind("vendor")
	assert.Error(t, err)
}
