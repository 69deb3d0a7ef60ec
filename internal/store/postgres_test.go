package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var entryColumnNames = []string{
	"id", "source_sheet_id", "source_row_index", "client_ref", "provider_ref", "payer_ref",
	"service_date", "hours", "travel_hours", "direct_hours", "indirect_hours", "service_type", "notes",
	"sheet_period", "classification", "anomaly_note",
}

func entryRowValues(e model.ServiceEntry) []any {
	return []any{
		e.ID, e.SourceSheetID, e.SourceRowIndex, e.ClientRef, e.ProviderRef, e.PayerRef,
		e.ServiceDate.Format(time.DateOnly), e.Hours.StringFixed(4), e.TravelHours.StringFixed(4),
		e.DirectHours.StringFixed(4), e.IndirectHours.StringFixed(4), e.ServiceType, e.Notes,
		e.SheetPeriod.String(), string(e.Classification), e.AnomalyNote,
	}
}

func TestPostgresStore_UpsertArtifact(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	b := sheetBatch("meier_2025-08.xlsx", august,
		row(10, clientA, date(2025, 8, 4), "2.5"),
		row(11, clientA, date(2025, 7, 28), "1"),
	)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs(b.Artifact.ID).
		WillReturnRows(pgxmock.NewRows([]string{"locked"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM service_entries WHERE source_sheet_id = \$1`).
		WithArgs(b.Artifact.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM sheet_artifacts WHERE id = \$1`).
		WithArgs(b.Artifact.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO sheet_artifacts`).
		WithArgs(b.Artifact.ID, "2025-08", b.Artifact.FilePath, b.Artifact.Checksum, pgxmock.AnyArg(), 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for _, e := range b.Entries {
		mock.ExpectExec(`INSERT INTO service_entries`).
			WithArgs(e.ID, e.SourceSheetID, e.SourceRowIndex, e.ClientRef, e.ProviderRef, e.PayerRef,
				e.ServiceDate, e.Hours.String(), "0", e.DirectHours.String(), "0", "", "",
				"2025-08", string(e.Classification), e.AnomalyNote).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, s.UpsertArtifact(context.Background(), b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertArtifact_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	b := sheetBatch("meier_2025-08.xlsx", august, row(10, clientA, date(2025, 8, 4), "2"))

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(b.Artifact.ID).
		WillReturnRows(pgxmock.NewRows([]string{"locked"}).AddRow(false))
	mock.ExpectRollback()

	err := s.UpsertArtifact(context.Background(), b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConflict))
	var ce *model.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, b.Artifact.ID, ce.ArtifactID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertArtifact_InsertFailsRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	b := sheetBatch("meier_2025-08.xlsx", august, row(10, clientA, date(2025, 8, 4), "2"))

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(b.Artifact.ID).
		WillReturnRows(pgxmock.NewRows([]string{"locked"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM service_entries`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM sheet_artifacts`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO sheet_artifacts`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO service_entries`).WillReturnError(errors.New("violates foreign key constraint"))
	mock.ExpectRollback()

	err := s.UpsertArtifact(context.Background(), b)
	var se *model.StoreError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, err.Error(), "insert entry row 10")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertArtifact_InvalidBatchSkipsDatabase(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	b := sheetBatch("meier_2025-08.xlsx", august, row(10, clientA, date(2025, 8, 4), "2"))
	b.Errors = []model.RowError{{RowIndex: 11, Field: "client", Raw: "ZZZ", Reason: `unknown client code "ZZZ"`}}

	err := s.UpsertArtifact(context.Background(), b)
	var be *model.BatchError
	require.ErrorAs(t, err, &be)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EntriesByServiceMonth(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	b := sheetBatch("meier_2025-08.xlsx", august, row(11, clientA, date(2025, 7, 28), "1.5"))
	want := b.Entries[0]

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`(?s)SELECT .*service_date::text.* FROM service_entries\s+WHERE service_date >= \$1 AND service_date < \$2\s+ORDER BY client_ref, service_date, source_sheet_id, source_row_index`).
		WithArgs(july.Start(), july.End()).
		WillReturnRows(pgxmock.NewRows(entryColumnNames).AddRow(entryRowValues(want)...))
	mock.ExpectCommit()

	got, err := s.EntriesByServiceMonth(context.Background(), july)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, want.Equal(got[0]), "got %+v", got[0])
	assert.Equal(t, model.ClassificationCrossMonth, got[0].Classification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetArtifact_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, period, file_path, checksum, ingested_at, row_count FROM sheet_artifacts WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetArtifact(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListArtifacts_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM sheet_artifacts WHERE true AND period = \$1 ORDER BY period DESC, file_path LIMIT \$2`).
		WithArgs("2025-08", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "period", "file_path", "checksum", "ingested_at", "row_count"}).
			AddRow("a1", "2025-08", "/imports/a.xlsx", "abc", now, 4))

	p := august
	arts, err := s.ListArtifacts(context.Background(), ArtifactFilter{Period: &p, Limit: 5})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, august, arts[0].Period)
	assert.Equal(t, 4, arts[0].RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveMaster(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM master_records WHERE kind = \$1 AND code_key = \$2`).
		WithArgs("client", "k-01").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(clientA))
	mock.ExpectQuery(`SELECT id FROM master_records`).
		WithArgs("client", "zzz").
		WillReturnError(pgx.ErrNoRows)

	id, ok, err := s.ResolveMaster(context.Background(), model.KindClient, "k-01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, clientA, id)

	_, ok, err = s.ResolveMaster(context.Background(), model.KindClient, "zzz")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMasterRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	cols := []string{"id", "kind", "display_code", "code_key", "name", "attributes", "updated_at"}
	mock.ExpectQuery(`SELECT id, kind, display_code, code_key, name, attributes, updated_at FROM master_records WHERE id = \$1`).
		WithArgs(clientA).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(clientA, "client", "K-01", "k-01", "Meier", []byte(`{"ZdNr":"Z-1"}`), now))
	mock.ExpectQuery(`FROM master_records WHERE id`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetMasterRecord(context.Background(), clientA)
	require.NoError(t, err)
	assert.Equal(t, model.KindClient, rec.Kind)
	assert.Equal(t, "Z-1", rec.Attributes["ZdNr"])

	_, err = s.GetMasterRecord(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertMasterRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_master_records"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_master_records"}, masterUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("kind", "code_key"\) DO UPDATE SET "display_code" = EXCLUDED."display_code", "name" = EXCLUDED."name", "attributes" = EXCLUDED."attributes", "updated_at" = EXCLUDED."updated_at"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertMasterRecords(context.Background(), []model.MasterRecord{
		{ID: clientA, Kind: model.KindClient, DisplayCode: "K-01", CodeKey: "k-01", Name: "Meier"},
		{ID: payer, Kind: model.KindPayer, DisplayCode: "Z-1", CodeKey: "z-1", Name: "Jugendamt"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IngestLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`INSERT INTO ingest_log .* RETURNING id`).
		WithArgs("art", "/imports/a.xlsx", "running", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(`UPDATE ingest_log SET status = \$1, completed_at = \$2, rows_written = \$3, cross_month = \$4 WHERE id = \$5`).
		WithArgs("complete", pgxmock.AnyArg(), 12, 1, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE ingest_log SET status = \$1, completed_at = \$2, error = \$3 WHERE id = \$4`).
		WithArgs("failed", pgxmock.AnyArg(), "boom", int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	id, err := s.StartIngest(ctx, "art", "/imports/a.xlsx")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, s.CompleteIngest(ctx, id, model.IngestComplete, 12, 1))

	err = s.FailIngest(ctx, 8, model.IngestFailed, "boom")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	files, err := migrations("postgres")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(migrationLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, f := range files {
		mock.ExpectExec(`CREATE TABLE`).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mock.ExpectExec(`INSERT INTO schema_migrations`).
			WithArgs(f.name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_SkipsApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	files, err := migrations("postgres")
	require.NoError(t, err)

	applied := pgxmock.NewRows([]string{"filename"})
	for _, f := range files {
		applied.AddRow(f.name)
	}

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(migrationLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).WillReturnRows(applied)
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
