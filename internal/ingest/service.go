// Package ingest runs timesheet files through extraction, normalization and
// reconciliation into the consolidation store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegpiraten/billing-cli/internal/masterdata"
	"github.com/wegpiraten/billing-cli/internal/model"
	"github.com/wegpiraten/billing-cli/internal/normalize"
	"github.com/wegpiraten/billing-cli/internal/reconcile"
	"github.com/wegpiraten/billing-cli/internal/store"
	"github.com/wegpiraten/billing-cli/internal/timesheet"
)

// Store is the part of the consolidation store ingestion writes to.
type Store interface {
	UpsertArtifact(ctx context.Context, batch model.Batch) error
	GetArtifact(ctx context.Context, id string) (*model.SheetArtifact, error)
	EntriesByArtifact(ctx context.Context, sheetID string) ([]model.ServiceEntry, error)
	StartIngest(ctx context.Context, artifactID, path string) (int64, error)
	CompleteIngest(ctx context.Context, id int64, status model.IngestStatus, rows, crossMonth int) error
	FailIngest(ctx context.Context, id int64, status model.IngestStatus, msg string) error
}

// Options configures a Service.
type Options struct {
	Profile     timesheet.Profile
	Reader      timesheet.GridReader // nil reads xlsx and csv from disk
	Concurrency int                  // files ingested in parallel by RunBatch
	ArchiveDir  string               // processed files move here; "" leaves them in place
	Period      model.Period         // overrides the sheet's own period when valid
}

// Outcome reports what happened to one file.
type Outcome struct {
	Path       string             `json:"path"`
	ArtifactID string             `json:"artifact_id"`
	Period     model.Period       `json:"period"`
	Status     model.IngestStatus `json:"status"`
	Entries    int                `json:"entries"`
	CrossMonth int                `json:"cross_month"`
	ArchivedTo string             `json:"archived_to,omitempty"`
	Err        error              `json:"-"`
}

// Service ingests timesheet files. It is safe for concurrent use.
type Service struct {
	store      Store
	extractor  *timesheet.Extractor
	normalizer *normalize.Normalizer
	opts       Options
	guard      *keyedGuard
	now        func() time.Time
}

// NewService creates a Service.
func NewService(st Store, resolver masterdata.Resolver, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Service{
		store:      st,
		extractor:  timesheet.NewExtractor(opts.Profile, opts.Reader),
		normalizer: normalize.New(resolver),
		opts:       opts,
		guard:      newKeyedGuard(),
		now:        time.Now,
	}
}

// IngestFile ingests one file as a single all-or-nothing unit. The returned
// error is a *model.StructuralError, *model.BatchError, *model.ConflictError
// or *model.StoreError; the outcome is filled in every case.
func (s *Service) IngestFile(ctx context.Context, path string) (*Outcome, error) {
	id := model.ArtifactIDForPath(path)
	out := &Outcome{Path: path, ArtifactID: id, Status: model.IngestFailed}
	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("file", path),
		zap.String("artifact_id", id),
	)

	release, ok := s.guard.acquire(id)
	if !ok {
		out.Err = &model.ConflictError{ArtifactID: id}
		log.Warn("artifact is being ingested by another worker")
		return out, out.Err
	}
	defer release()

	runID, err := s.store.StartIngest(ctx, id, path)
	if err != nil {
		out.Err = err
		return out, err
	}

	fail := func(status model.IngestStatus, err error) (*Outcome, error) {
		out.Status = status
		out.Err = err
		if ferr := s.store.FailIngest(ctx, runID, status, err.Error()); ferr != nil {
			log.Error("record failed ingest", zap.Error(ferr))
		}
		return out, err
	}

	checksum, err := fileChecksum(path)
	if err != nil {
		return fail(model.IngestFailed, &model.StructuralError{ArtifactID: id, Path: path, Reason: "file unreadable", Err: err})
	}

	batch, err := s.buildBatch(ctx, id, path, checksum)
	if batch != nil {
		out.Period = batch.Artifact.Period
	}
	if err != nil {
		log.Warn("timesheet rejected", zap.Error(err))
		return fail(statusFor(err), err)
	}
	if len(batch.Errors) > 0 {
		err := store.ValidateBatch(*batch)
		for _, re := range batch.Errors {
			log.Warn("row error",
				zap.Int("row", re.RowIndex),
				zap.String("field", re.Field),
				zap.String("raw", re.Raw),
				zap.String("reason", re.Reason),
			)
		}
		return fail(model.IngestRejected, err)
	}

	out.Entries = len(batch.Entries)
	for _, e := range batch.Entries {
		if e.Classification == model.ClassificationCrossMonth {
			out.CrossMonth++
		}
	}

	unchanged, err := s.unchanged(ctx, batch)
	if err != nil {
		return fail(model.IngestFailed, err)
	}
	if unchanged {
		out.Status = model.IngestUnchanged
		log.Info("timesheet unchanged, nothing written", zap.Int("entries", out.Entries))
		if err := s.store.CompleteIngest(ctx, runID, out.Status, 0, out.CrossMonth); err != nil {
			return out, err
		}
		s.archive(out, log)
		return out, nil
	}

	if err := s.store.UpsertArtifact(ctx, *batch); err != nil {
		log.Error("store write failed", zap.Error(err))
		return fail(statusFor(err), err)
	}

	for _, e := range batch.Entries {
		if e.Classification == model.ClassificationCrossMonth {
			log.Info(e.AnomalyNote, zap.Int("row", e.SourceRowIndex), zap.String("entry_id", e.ID))
		}
	}

	out.Status = model.IngestComplete
	if err := s.store.CompleteIngest(ctx, runID, out.Status, out.Entries, out.CrossMonth); err != nil {
		return out, err
	}
	log.Info("timesheet ingested",
		zap.String("period", out.Period.String()),
		zap.Int("entries", out.Entries),
		zap.Int("cross_month", out.CrossMonth),
	)
	s.archive(out, log)
	return out, nil
}

// buildBatch extracts and normalizes every row. Row problems are collected
// in the batch; the error result is structural or infrastructure.
func (s *Service) buildBatch(ctx context.Context, id, path, checksum string) (*model.Batch, error) {
	x, err := s.extractor.Extract(ctx, timesheet.ArtifactRef{ID: id, Path: path, Period: s.opts.Period})
	if err != nil {
		return nil, err
	}

	batch := &model.Batch{Artifact: model.SheetArtifact{
		ID:         id,
		Period:     x.Period,
		FilePath:   path,
		Checksum:   checksum,
		IngestedAt: s.now().UTC(),
	}}

	for cand := range x.Rows() {
		if err := ctx.Err(); err != nil {
			return batch, eris.Wrap(err, "ingest: build batch")
		}
		entry, rowErr, err := s.normalizer.Normalize(ctx, cand, x.Period)
		if err != nil {
			return batch, err
		}
		if rowErr != nil {
			batch.Errors = append(batch.Errors, *rowErr)
			continue
		}
		reconcile.Apply(&entry)
		batch.Entries = append(batch.Entries, entry)
	}
	return batch, nil
}

// unchanged reports whether the stored artifact already holds this exact
// file and entry set.
func (s *Service) unchanged(ctx context.Context, b *model.Batch) (bool, error) {
	prev, err := s.store.GetArtifact(ctx, b.Artifact.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if prev.Checksum != b.Artifact.Checksum || !prev.Period.Equal(b.Artifact.Period) {
		return false, nil
	}

	stored, err := s.store.EntriesByArtifact(ctx, b.Artifact.ID)
	if err != nil {
		return false, err
	}
	if len(stored) != len(b.Entries) {
		return false, nil
	}
	byID := make(map[string]model.ServiceEntry, len(stored))
	for _, e := range stored {
		byID[e.ID] = e
	}
	for _, e := range b.Entries {
		if prev, ok := byID[e.ID]; !ok || !prev.Equal(e) {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) archive(out *Outcome, log *zap.Logger) {
	if s.opts.ArchiveDir == "" {
		return
	}
	dest, err := archiveFile(out.Path, s.opts.ArchiveDir, s.now())
	if err != nil {
		log.Warn("archive processed file", zap.Error(err))
		return
	}
	out.ArchivedTo = dest
	log.Debug("file archived", zap.String("dest", dest))
}

func statusFor(err error) model.IngestStatus {
	var be *model.BatchError
	var se *model.StructuralError
	if errors.As(err, &be) || errors.As(err, &se) {
		return model.IngestRejected
	}
	return model.IngestFailed
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "ingest: read %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
