package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConflict is matched by errors.Is for concurrent writes to the same artifact.
var ErrConflict = errors.New("artifact is being ingested concurrently")

// StructuralError means an artifact cannot be read at all; nothing is persisted.
type StructuralError struct {
	ArtifactID string
	Path       string
	Reason     string
	Err        error
}

func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("structural error in %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StructuralError) Unwrap() error { return e.Err }

// RowError describes one rejected spreadsheet row.
type RowError struct {
	SheetID  string `json:"sheet_id"`
	RowIndex int    `json:"row_index"`
	Field    string `json:"field"`
	Raw      string `json:"raw"`
	Reason   string `json:"reason"`
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s %q: %s", e.RowIndex, e.Field, e.Raw, e.Reason)
}

// BatchError rejects a whole artifact and lists every offending row.
type BatchError struct {
	ArtifactID string
	Rows       []RowError
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "artifact %s rejected: %d invalid row(s)", e.ArtifactID, len(e.Rows))
	for i := range e.Rows {
		b.WriteString("; ")
		b.WriteString(e.Rows[i].Error())
	}
	return b.String()
}

// ConflictError names the artifact whose ingestion collided.
type ConflictError struct {
	ArtifactID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("artifact %s: %s", e.ArtifactID, ErrConflict.Error())
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StoreError wraps an infrastructure failure of the consolidation store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
