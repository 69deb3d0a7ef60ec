package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/wegpiraten/billing-cli/internal/billing"
	"github.com/wegpiraten/billing-cli/internal/export"
	"github.com/wegpiraten/billing-cli/internal/ingest"
	"github.com/wegpiraten/billing-cli/internal/model"
)

func TestFormatIngestLog(t *testing.T) {
	now := time.Date(2025, 8, 31, 10, 30, 0, 0, time.UTC)
	done := now.Add(1500 * time.Millisecond)
	runs := []model.IngestRun{
		{
			ID:          2,
			FilePath:    "/data/imports/meier_2025-08.xlsx",
			Status:      model.IngestComplete,
			StartedAt:   now,
			CompletedAt: &done,
			RowsWritten: 12,
			CrossMonth:  1,
		},
		{
			ID:        1,
			FilePath:  "/data/imports/kaputt.xlsx",
			Status:    model.IngestRejected,
			StartedAt: now.Add(-time.Hour),
			Error:     "row 14: unknown client code",
		},
	}

	var buf bytes.Buffer
	formatIngestLog(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "CROSS_MONTH")
	assert.Contains(t, output, "meier_2025-08.xlsx")
	assert.NotContains(t, output, "/data/imports")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "rejected")
	assert.Contains(t, output, "unknown client code")
	assert.Contains(t, output, "2025-08-31 10:30")
}

func TestFormatOutcomes(t *testing.T) {
	outcomes := []*ingest.Outcome{
		{Path: "/in/b.xlsx", Status: model.IngestRejected, Err: errors.New("row 10: bad date")},
		{Path: "/in/a.xlsx", Period: model.Period{Year: 2025, Month: 8}, Status: model.IngestComplete, Entries: 3, CrossMonth: 1},
	}

	var buf bytes.Buffer
	formatOutcomes(&buf, outcomes)

	output := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("a.xlsx")), bytes.Index(buf.Bytes(), []byte("b.xlsx")))
	assert.Contains(t, output, "2025-08")
	assert.Contains(t, output, "row 10: bad date")
	// Caller order is preserved.
	assert.Equal(t, "/in/b.xlsx", outcomes[0].Path)
}

func TestFormatBillingSummary(t *testing.T) {
	client := "c0ffee00-0000-5000-8000-000000000001"
	res := &billing.Result{
		Period: model.Period{Year: 2025, Month: 7},
		Clean: []model.ServiceEntry{
			{ClientRef: client, Hours: decimal.RequireFromString("2")},
		},
		Flagged: []billing.FlaggedEntry{
			{Entry: model.ServiceEntry{ClientRef: client, Hours: decimal.RequireFromString("1.5")}, Note: "Leistung vom 28.07.2025 in Bogen 2025-08"},
		},
		Rates: billing.Rates{client: decimal.NewFromInt(80)},
	}
	labels := export.LabelsFrom([]model.MasterRecord{
		{ID: client, Kind: model.KindClient, DisplayCode: "K-01", Name: "Meier"},
	})

	var buf bytes.Buffer
	formatBillingSummary(&buf, res, labels)

	output := buf.String()
	assert.Contains(t, output, "2025-07")
	assert.Contains(t, output, "3.50")
	assert.Contains(t, output, "K-01")
	assert.Contains(t, output, "Meier")
	assert.Contains(t, output, "280.00")
}

func TestFormatArtifactsList(t *testing.T) {
	arts := []model.SheetArtifact{{
		ID:         "5f1d3c2a-0000-5000-8000-000000000000",
		Period:     model.Period{Year: 2025, Month: 8},
		FilePath:   "/data/imports/meier_2025-08.xlsx",
		Checksum:   "9b74c9897bac770ffc029102a200c5de",
		IngestedAt: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC),
		RowCount:   12,
	}}

	var buf bytes.Buffer
	formatArtifactsList(&buf, arts)

	output := buf.String()
	assert.Contains(t, output, "5f1d3c2a-0000-5000-8000-000000000000")
	assert.Contains(t, output, "meier_2025-08.xlsx")
	assert.Contains(t, output, "9b74c989")
	assert.NotContains(t, output, "9b74c9897bac")
}

func TestFormatMasterList(t *testing.T) {
	var buf bytes.Buffer
	formatMasterList(&buf, []model.MasterRecord{
		{ID: "abc12345-6789", Kind: model.KindProvider, DisplayCode: "P-7", Name: "Schulz"},
	})
	assert.Contains(t, buf.String(), "provider")
	assert.Contains(t, buf.String(), "P-7")
	assert.Contains(t, buf.String(), "abc12345")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "kurz", truncate("kurz", 10))
	assert.Equal(t, "Leis...", truncate("Leistungserbringer", 7))
	assert.Equal(t, "Käs...", truncate("Käsebrötchen", 6))
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "abc", truncateID("abc"))
}
