package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegpiraten/billing-cli/internal/db"
	"github.com/wegpiraten/billing-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// migrationLockKey serializes concurrent Migrate calls across processes.
const migrationLockKey int64 = 0x62696c6c

const (
	sqlResolveMaster = `SELECT id FROM master_records WHERE kind = $1 AND code_key = $2`
	sqlGetMaster     = `SELECT id, kind, display_code, code_key, name, attributes, updated_at FROM master_records WHERE id = $1`
	sqlGetArtifact   = `SELECT id, period, file_path, checksum, ingested_at, row_count FROM sheet_artifacts WHERE id = $1`
	sqlStartIngest   = `INSERT INTO ingest_log (artifact_id, file_path, status, started_at) VALUES ($1, $2, $3, $4) RETURNING id`
	sqlInsertEntry   = `INSERT INTO service_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
)

// preparedStatements lists queries to prepare on each new connection.
// Ingest resolves every code of every row through sqlResolveMaster.
var preparedStatements = map[string]string{
	"resolve_master": sqlResolveMaster,
	"get_master":     sqlGetMaster,
	"get_artifact":   sqlGetArtifact,
	"start_ingest":   sqlStartIngest,
	"insert_entry":   sqlInsertEntry,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return storeErr("postgres: ping", s.pool.Ping(ctx))
}

// Migrate applies pending embedded migrations. The transaction holds an
// advisory lock so concurrent CLI invocations apply each file once.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	files, err := migrations("postgres")
	if err != nil {
		return err
	}

	err = db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return eris.Wrap(err, "postgres: migration lock")
		}
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
			return eris.Wrap(err, "postgres: ensure migration table")
		}

		rows, err := tx.Query(ctx, `SELECT filename FROM schema_migrations`)
		if err != nil {
			return eris.Wrap(err, "postgres: query applied migrations")
		}
		applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return eris.Wrap(err, "postgres: scan applied migrations")
		}
		done := make(map[string]bool, len(applied))
		for _, name := range applied {
			done[name] = true
		}

		for _, m := range files {
			if done[m.name] {
				continue
			}
			zap.L().Info("applying migration", zap.String("component", "store"), zap.String("file", m.name))
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return eris.Wrapf(err, "postgres: apply migration %s", m.name)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, m.name); err != nil {
				return eris.Wrapf(err, "postgres: record migration %s", m.name)
			}
		}
		return nil
	})
	return storeErr("postgres: migrate", err)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertArtifact replaces the artifact and all of its entries in one
// transaction. A concurrent writer for the same artifact holds the advisory
// lock, and this call fails with a *model.ConflictError instead of waiting.
func (s *PostgresStore) UpsertArtifact(ctx context.Context, b model.Batch) error {
	if err := ValidateBatch(b); err != nil {
		return err
	}
	a := b.Artifact
	a.RowCount = len(b.Entries)
	if a.IngestedAt.IsZero() {
		a.IngestedAt = time.Now().UTC()
	}

	err := db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, a.ID).Scan(&locked); err != nil {
			return eris.Wrap(err, "postgres: artifact lock")
		}
		if !locked {
			return &model.ConflictError{ArtifactID: a.ID}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM service_entries WHERE source_sheet_id = $1`, a.ID); err != nil {
			return eris.Wrap(err, "postgres: delete entries")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sheet_artifacts WHERE id = $1`, a.ID); err != nil {
			return eris.Wrap(err, "postgres: delete artifact")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO sheet_artifacts (id, period, file_path, checksum, ingested_at, row_count) VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ID, a.Period.String(), a.FilePath, a.Checksum, a.IngestedAt, a.RowCount,
		); err != nil {
			return eris.Wrap(err, "postgres: insert artifact")
		}

		for _, e := range b.Entries {
			if _, err := tx.Exec(ctx, sqlInsertEntry,
				e.ID, e.SourceSheetID, e.SourceRowIndex, e.ClientRef, e.ProviderRef, e.PayerRef,
				e.ServiceDate, e.Hours.String(), e.TravelHours.String(),
				e.DirectHours.String(), e.IndirectHours.String(), e.ServiceType, e.Notes,
				e.SheetPeriod.String(), string(e.Classification), e.AnomalyNote,
			); err != nil {
				return eris.Wrapf(err, "postgres: insert entry row %d", e.SourceRowIndex)
			}
		}
		return nil
	})

	var conflict *model.ConflictError
	if errors.As(err, &conflict) {
		return conflict
	}
	return storeErr("postgres: upsert artifact", err)
}

func (s *PostgresStore) GetArtifact(ctx context.Context, id string) (*model.SheetArtifact, error) {
	a, err := scanArtifact(s.pool.QueryRow(ctx, sqlGetArtifact, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: artifact %s", id)
	}
	if err != nil {
		return nil, storeErr("postgres: get artifact", err)
	}
	return a, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.SheetArtifact, error) {
	query := `SELECT id, period, file_path, checksum, ingested_at, row_count FROM sheet_artifacts WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Period != nil {
		query += fmt.Sprintf(` AND period = $%d`, argIdx)
		args = append(args, filter.Period.String())
		argIdx++
	}
	query += ` ORDER BY period DESC, file_path`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("postgres: list artifacts", err)
	}
	defer rows.Close()

	var out []model.SheetArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, storeErr("postgres: scan artifact", err)
		}
		out = append(out, *a)
	}
	return out, storeErr("postgres: list artifacts", rows.Err())
}

func (s *PostgresStore) EntriesByArtifact(ctx context.Context, sheetID string) ([]model.ServiceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgEntrySelect+` FROM service_entries WHERE source_sheet_id = $1 ORDER BY source_row_index`,
		sheetID)
	if err != nil {
		return nil, storeErr("postgres: entries by artifact", err)
	}
	return collectEntries(rows, "postgres: entries by artifact")
}

// EntriesByServiceMonth reads inside a repeatable-read, read-only
// transaction so the result never mixes two versions of an artifact.
func (s *PostgresStore) EntriesByServiceMonth(ctx context.Context, period model.Period) ([]model.ServiceEntry, error) {
	var out []model.ServiceEntry
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := db.WithTx(ctx, s.pool, opts, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+pgEntrySelect+` FROM service_entries
			 WHERE service_date >= $1 AND service_date < $2
			 ORDER BY `+entryOrder,
			period.Start(), period.End())
		if err != nil {
			return err
		}
		out, err = collectEntries(rows, "postgres: entries by service month")
		return err
	})
	if err != nil {
		return nil, storeErr("postgres: entries by service month", err)
	}
	return out, nil
}

func collectEntries(rows pgx.Rows, op string) ([]model.ServiceEntry, error) {
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

var masterUpsert = db.UpsertConfig{
	Table:        "master_records",
	Columns:      []string{"id", "kind", "display_code", "code_key", "name", "attributes", "updated_at"},
	ConflictKeys: []string{"kind", "code_key"},
	UpdateCols:   []string{"display_code", "name", "attributes", "updated_at"},
}

func (s *PostgresStore) UpsertMasterRecords(ctx context.Context, records []model.MasterRecord) (int, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		attrs, err := marshalAttributes(r.Attributes)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{r.ID, string(r.Kind), r.DisplayCode, r.CodeKey, r.Name, attrs, updatedAt(r)})
	}
	n, err := db.BulkUpsert(ctx, s.pool, masterUpsert, rows)
	if err != nil {
		return 0, storeErr("postgres: upsert master records", err)
	}
	return int(n), nil
}

func (s *PostgresStore) ListMasterRecords(ctx context.Context, kind model.MasterKind) ([]model.MasterRecord, error) {
	query := `SELECT id, kind, display_code, code_key, name, attributes, updated_at FROM master_records`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind, code_key`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("postgres: list master records", err)
	}
	defer rows.Close()

	var out []model.MasterRecord
	for rows.Next() {
		var r model.MasterRecord
		var kindStr string
		var attrs []byte
		if err := rows.Scan(&r.ID, &kindStr, &r.DisplayCode, &r.CodeKey, &r.Name, &attrs, &r.UpdatedAt); err != nil {
			return nil, storeErr("postgres: scan master record", err)
		}
		r.Kind = model.MasterKind(kindStr)
		if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attributes")
		}
		out = append(out, r)
	}
	return out, storeErr("postgres: list master records", rows.Err())
}

func (s *PostgresStore) GetMasterRecord(ctx context.Context, id string) (*model.MasterRecord, error) {
	var r model.MasterRecord
	var kindStr string
	var attrs []byte
	err := s.pool.QueryRow(ctx, sqlGetMaster, id).
		Scan(&r.ID, &kindStr, &r.DisplayCode, &r.CodeKey, &r.Name, &attrs, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: master record %s", id)
	}
	if err != nil {
		return nil, storeErr("postgres: get master record", err)
	}
	r.Kind = model.MasterKind(kindStr)
	if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal attributes")
	}
	return &r, nil
}

func (s *PostgresStore) ResolveMaster(ctx context.Context, kind model.MasterKind, codeKey string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, sqlResolveMaster, string(kind), codeKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("postgres: resolve master", err)
	}
	return id, true, nil
}

func (s *PostgresStore) StartIngest(ctx context.Context, artifactID, path string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, sqlStartIngest,
		artifactID, path, string(model.IngestRunning), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, storeErr("postgres: start ingest", err)
	}
	return id, nil
}

func (s *PostgresStore) CompleteIngest(ctx context.Context, id int64, status model.IngestStatus, rowsWritten, crossMonth int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_log SET status = $1, completed_at = $2, rows_written = $3, cross_month = $4 WHERE id = $5`,
		string(status), time.Now().UTC(), rowsWritten, crossMonth, id,
	)
	if err != nil {
		return storeErr("postgres: complete ingest", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "ingest run %d", id)
	}
	return nil
}

func (s *PostgresStore) FailIngest(ctx context.Context, id int64, status model.IngestStatus, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_log SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(status), time.Now().UTC(), msg, id,
	)
	if err != nil {
		return storeErr("postgres: fail ingest", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "ingest run %d", id)
	}
	return nil
}

func (s *PostgresStore) ListIngestLog(ctx context.Context, filter IngestFilter) ([]model.IngestRun, error) {
	query := `SELECT id, artifact_id, file_path, status, started_at, completed_at, rows_written, cross_month, error FROM ingest_log WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ArtifactID != "" {
		query += fmt.Sprintf(` AND artifact_id = $%d`, argIdx)
		args = append(args, filter.ArtifactID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("postgres: list ingest log", err)
	}
	defer rows.Close()

	var out []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var status string
		if err := rows.Scan(&r.ID, &r.ArtifactID, &r.FilePath, &status, &r.StartedAt, &r.CompletedAt,
			&r.RowsWritten, &r.CrossMonth, &r.Error); err != nil {
			return nil, storeErr("postgres: scan ingest run", err)
		}
		r.Status = model.IngestStatus(status)
		out = append(out, r)
	}
	return out, storeErr("postgres: list ingest log", rows.Err())
}
