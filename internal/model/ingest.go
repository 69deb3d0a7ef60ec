package model

import "time"

// IngestStatus is the state of one ingestion attempt.
type IngestStatus string

const (
	IngestRunning   IngestStatus = "running"
	IngestComplete  IngestStatus = "complete"
	IngestUnchanged IngestStatus = "unchanged"
	IngestRejected  IngestStatus = "rejected"
	IngestFailed    IngestStatus = "failed"
)

// IngestRun is a row of the ingest log.
type IngestRun struct {
	ID          int64        `json:"id"`
	ArtifactID  string       `json:"artifact_id"`
	FilePath    string       `json:"file_path"`
	Status      IngestStatus `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	RowsWritten int          `json:"rows_written"`
	CrossMonth  int          `json:"cross_month"`
	Error       string       `json:"error,omitempty"`
}
