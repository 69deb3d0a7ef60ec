// Package store persists sheet artifacts, service entries, master data and
// the ingest log.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ArtifactFilter specifies criteria for listing artifacts.
type ArtifactFilter struct {
	Period *model.Period `json:"period,omitempty"`
	Limit  int           `json:"limit,omitempty"`
	Offset int           `json:"offset,omitempty"`
}

// IngestFilter specifies criteria for listing the ingest log.
type IngestFilter struct {
	ArtifactID string             `json:"artifact_id,omitempty"`
	Status     model.IngestStatus `json:"status,omitempty"`
	Limit      int                `json:"limit,omitempty"`
}

// Store defines the persistence interface of the consolidation store.
type Store interface {
	// Artifacts and entries
	UpsertArtifact(ctx context.Context, batch model.Batch) error
	GetArtifact(ctx context.Context, id string) (*model.SheetArtifact, error)
	ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.SheetArtifact, error)
	EntriesByArtifact(ctx context.Context, sheetID string) ([]model.ServiceEntry, error)
	EntriesByServiceMonth(ctx context.Context, period model.Period) ([]model.ServiceEntry, error)

	// Master data
	UpsertMasterRecords(ctx context.Context, records []model.MasterRecord) (int, error)
	ListMasterRecords(ctx context.Context, kind model.MasterKind) ([]model.MasterRecord, error)
	GetMasterRecord(ctx context.Context, id string) (*model.MasterRecord, error)
	ResolveMaster(ctx context.Context, kind model.MasterKind, codeKey string) (string, bool, error)

	// Ingest log
	StartIngest(ctx context.Context, artifactID, path string) (int64, error)
	CompleteIngest(ctx context.Context, id int64, status model.IngestStatus, rows, crossMonth int) error
	FailIngest(ctx context.Context, id int64, status model.IngestStatus, msg string) error
	ListIngestLog(ctx context.Context, filter IngestFilter) ([]model.IngestRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// ValidateBatch checks a batch before any write. It returns a
// *model.BatchError listing every row error carried by the batch and every
// entry that breaks an invariant, or nil.
func ValidateBatch(b model.Batch) error {
	var rows []model.RowError
	if b.Artifact.ID == "" || !b.Artifact.Period.Valid() {
		rows = append(rows, model.RowError{
			SheetID: b.Artifact.ID,
			Field:   "artifact",
			Raw:     b.Artifact.FilePath,
			Reason:  "artifact needs an id and a valid period",
		})
	}
	rows = append(rows, b.Errors...)

	seen := make(map[int]bool, len(b.Entries))
	for _, e := range b.Entries {
		bad := func(reason string) {
			rows = append(rows, model.RowError{
				SheetID:  e.SourceSheetID,
				RowIndex: e.SourceRowIndex,
				Field:    "entry",
				Raw:      e.ID,
				Reason:   reason,
			})
		}
		switch {
		case e.SourceSheetID != b.Artifact.ID:
			bad(fmt.Sprintf("entry belongs to sheet %s", e.SourceSheetID))
		case seen[e.SourceRowIndex]:
			bad("duplicate row")
		case e.ID != model.EntryID(e.SourceSheetID, e.SourceRowIndex):
			bad("entry id does not match its source row")
		default:
			if err := e.Validate(); err != nil {
				bad(err.Error())
			}
		}
		seen[e.SourceRowIndex] = true
	}

	if len(rows) > 0 {
		return &model.BatchError{ArtifactID: b.Artifact.ID, Rows: rows}
	}
	return nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *model.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &model.StoreError{Op: op, Err: err}
}
