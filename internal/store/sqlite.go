package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied on every pooled connection. Transactions start
// IMMEDIATE so concurrent writers queue on busy_timeout instead of failing
// on lock upgrade.
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+sqlitePragmas)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return storeErr("sqlite: ping", s.db.PingContext(ctx))
}

// Migrate applies pending embedded migrations in one transaction.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	files, err := migrations("sqlite")
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("sqlite: migrate begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return storeErr("sqlite: ensure migration table", err)
	}

	applied := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return storeErr("sqlite: query applied migrations", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return storeErr("sqlite: scan migration row", err)
		}
		applied[name] = true
	}
	rows.Close()

	for _, m := range files {
		if applied[m.name] {
			continue
		}
		zap.L().Info("applying migration", zap.String("component", "store"), zap.String("file", m.name))
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return storeErr("sqlite: apply migration "+m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`, m.name, time.Now().UTC(),
		); err != nil {
			return storeErr("sqlite: record migration "+m.name, err)
		}
	}
	return storeErr("sqlite: migrate commit", tx.Commit())
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertArtifact replaces the artifact and all of its entries in one
// transaction.
func (s *SQLiteStore) UpsertArtifact(ctx context.Context, b model.Batch) error {
	if err := ValidateBatch(b); err != nil {
		return err
	}
	a := b.Artifact
	a.RowCount = len(b.Entries)
	if a.IngestedAt.IsZero() {
		a.IngestedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("sqlite: begin upsert artifact", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM service_entries WHERE source_sheet_id = ?`, a.ID); err != nil {
		return storeErr("sqlite: delete entries", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sheet_artifacts WHERE id = ?`, a.ID); err != nil {
		return storeErr("sqlite: delete artifact", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sheet_artifacts (id, period, file_path, checksum, ingested_at, row_count) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Period.String(), a.FilePath, a.Checksum, a.IngestedAt, a.RowCount,
	); err != nil {
		return storeErr("sqlite: insert artifact", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO service_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storeErr("sqlite: prepare insert entry", err)
	}
	defer stmt.Close()

	for _, e := range b.Entries {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.SourceSheetID, e.SourceRowIndex, e.ClientRef, e.ProviderRef, e.PayerRef,
			e.ServiceDate.Format(time.DateOnly), e.Hours.String(), e.TravelHours.String(),
			e.DirectHours.String(), e.IndirectHours.String(), e.ServiceType, e.Notes,
			e.SheetPeriod.String(), string(e.Classification), e.AnomalyNote,
		); err != nil {
			return storeErr("sqlite: insert entry", err)
		}
	}

	return storeErr("sqlite: commit upsert artifact", tx.Commit())
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (*model.SheetArtifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, period, file_path, checksum, ingested_at, row_count FROM sheet_artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: artifact %s", id)
	}
	if err != nil {
		return nil, storeErr("sqlite: get artifact", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.SheetArtifact, error) {
	query := `SELECT id, period, file_path, checksum, ingested_at, row_count FROM sheet_artifacts`
	var args []any
	if filter.Period != nil {
		query += ` WHERE period = ?`
		args = append(args, filter.Period.String())
	}
	query += ` ORDER BY period DESC, file_path`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("sqlite: list artifacts", err)
	}
	defer rows.Close()

	var out []model.SheetArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, storeErr("sqlite: scan artifact", err)
		}
		out = append(out, *a)
	}
	return out, storeErr("sqlite: list artifacts", rows.Err())
}

func (s *SQLiteStore) EntriesByArtifact(ctx context.Context, sheetID string) ([]model.ServiceEntry, error) {
	return s.queryEntries(ctx, "sqlite: entries by artifact",
		`SELECT `+entryColumns+` FROM service_entries WHERE source_sheet_id = ? ORDER BY source_row_index`,
		sheetID)
}

// EntriesByServiceMonth selects by service date alone in a single statement,
// which SQLite evaluates against one snapshot.
func (s *SQLiteStore) EntriesByServiceMonth(ctx context.Context, period model.Period) ([]model.ServiceEntry, error) {
	return s.queryEntries(ctx, "sqlite: entries by service month",
		`SELECT `+entryColumns+` FROM service_entries
		 WHERE service_date >= ? AND service_date < ?
		 ORDER BY `+entryOrder,
		period.Start().Format(time.DateOnly), period.End().Format(time.DateOnly))
}

func (s *SQLiteStore) queryEntries(ctx context.Context, op, query string, args ...any) ([]model.ServiceEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []model.ServiceEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, e)
	}
	return out, storeErr(op, rows.Err())
}

func (s *SQLiteStore) UpsertMasterRecords(ctx context.Context, records []model.MasterRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("sqlite: begin upsert master", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO master_records
		(id, kind, display_code, code_key, name, attributes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, code_key) DO UPDATE SET
			display_code = excluded.display_code,
			name = excluded.name,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, storeErr("sqlite: prepare upsert master", err)
	}
	defer stmt.Close()

	for _, r := range records {
		attrs, err := marshalAttributes(r.Attributes)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, string(r.Kind), r.DisplayCode, r.CodeKey, r.Name, string(attrs), updatedAt(r)); err != nil {
			return 0, storeErr("sqlite: upsert master "+r.DisplayCode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("sqlite: commit upsert master", err)
	}
	return len(records), nil
}

func (s *SQLiteStore) ListMasterRecords(ctx context.Context, kind model.MasterKind) ([]model.MasterRecord, error) {
	query := `SELECT id, kind, display_code, code_key, name, attributes, updated_at FROM master_records`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind, code_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("sqlite: list master records", err)
	}
	defer rows.Close()

	var out []model.MasterRecord
	for rows.Next() {
		var r model.MasterRecord
		var attrs string
		if err := rows.Scan(&r.ID, &r.Kind, &r.DisplayCode, &r.CodeKey, &r.Name, &attrs, &r.UpdatedAt); err != nil {
			return nil, storeErr("sqlite: scan master record", err)
		}
		if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal attributes")
		}
		out = append(out, r)
	}
	return out, storeErr("sqlite: list master records", rows.Err())
}

func (s *SQLiteStore) GetMasterRecord(ctx context.Context, id string) (*model.MasterRecord, error) {
	var r model.MasterRecord
	var attrs string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, display_code, code_key, name, attributes, updated_at FROM master_records WHERE id = ?`, id,
	).Scan(&r.ID, &r.Kind, &r.DisplayCode, &r.CodeKey, &r.Name, &attrs, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: master record %s", id)
	}
	if err != nil {
		return nil, storeErr("sqlite: get master record", err)
	}
	if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal attributes")
	}
	return &r, nil
}

func (s *SQLiteStore) ResolveMaster(ctx context.Context, kind model.MasterKind, codeKey string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM master_records WHERE kind = ? AND code_key = ?`, string(kind), codeKey,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("sqlite: resolve master", err)
	}
	return id, true, nil
}

func (s *SQLiteStore) StartIngest(ctx context.Context, artifactID, path string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_log (artifact_id, file_path, status, started_at) VALUES (?, ?, ?, ?)`,
		artifactID, path, string(model.IngestRunning), time.Now().UTC(),
	)
	if err != nil {
		return 0, storeErr("sqlite: start ingest", err)
	}
	id, err := res.LastInsertId()
	return id, storeErr("sqlite: start ingest id", err)
}

func (s *SQLiteStore) CompleteIngest(ctx context.Context, id int64, status model.IngestStatus, rowsWritten, crossMonth int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_log SET status = ?, completed_at = ?, rows_written = ?, cross_month = ? WHERE id = ?`,
		string(status), time.Now().UTC(), rowsWritten, crossMonth, id,
	)
	if err != nil {
		return storeErr("sqlite: complete ingest", err)
	}
	return checkRowsAffected(res, "ingest run", id)
}

func (s *SQLiteStore) FailIngest(ctx context.Context, id int64, status model.IngestStatus, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_log SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), msg, id,
	)
	if err != nil {
		return storeErr("sqlite: fail ingest", err)
	}
	return checkRowsAffected(res, "ingest run", id)
}

func (s *SQLiteStore) ListIngestLog(ctx context.Context, filter IngestFilter) ([]model.IngestRun, error) {
	query := `SELECT id, artifact_id, file_path, status, started_at, completed_at, rows_written, cross_month, error FROM ingest_log WHERE 1=1`
	var args []any
	if filter.ArtifactID != "" {
		query += ` AND artifact_id = ?`
		args = append(args, filter.ArtifactID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("sqlite: list ingest log", err)
	}
	defer rows.Close()

	var out []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var completed sql.NullTime
		if err := rows.Scan(&r.ID, &r.ArtifactID, &r.FilePath, &r.Status, &r.StartedAt, &completed,
			&r.RowsWritten, &r.CrossMonth, &r.Error); err != nil {
			return nil, storeErr("sqlite: scan ingest run", err)
		}
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, storeErr("sqlite: list ingest log", rows.Err())
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}
