package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/shotam27/souchiJohoKanri/internal/config"
	"github.com/shotam27/souchiJohoKanri/internal/storage/sqldb"
	"github.com/shotam27/souchiJohoKanri/internal/storage/sqlite"
)

func TestIngest_EndToEnd(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	res := mustIngest(t, s, "devices.csv", csvLines(
		testHeader+",port",
		"Alpha,Gateway,dev1,10.0.0.1,admin,pw,22",
	))

	assert.True(t, res.Committed)
	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, EncodingUTF8, res.Encoding)
	assert.Equal(t, 1, res.TotalRows)
	assert.Equal(t, 1, res.AcceptedCount)
	assert.Empty(t, res.RejectedRows)
	assert.Equal(t, []string{"Alpha_Gateway"}, res.CreatedTables)
	assert.Equal(t, 1, res.CanonicalApplied)
	assert.Equal(t, 1, res.ExtendedApplied)
	assert.Empty(t, res.CatalogWarnings)
	assert.NotEmpty(t, res.BatchID)

	page, err := s.SearchCanonical(ctx, SearchFilter{IncludeSecret: true}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	got := page.Rows[0]
	assert.Equal(t, "Alpha_Gateway_dev1_admin", got.PrimaryKey)
	assert.Equal(t, "10.0.0.1", got.Address)
	assert.Equal(t, "pw", got.Secret)
	assert.False(t, got.CreatedAt.IsZero(), "created_at should be set by the default")

	desc, err := s.DescribeTable(ctx, "Alpha_Gateway")
	require.NoError(t, err)
	assert.Equal(t, []string{ColPrimaryKey, "port", ColCreatedAt, ColUpdatedAt}, desc.Columns)
	assert.EqualValues(t, 1, desc.RowCount)

	rels, err := s.ListRelations(ctx)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "CSV自動登録: 2025-04-01 09:30:00 - devices.csv", rels[0].Description)
	assert.True(t, rels[0].IsActive)
}

func TestIngest_Idempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	data := csvLines(
		testHeader+",port",
		"Alpha,Gateway,dev1,10.0.0.1,admin,pw,22",
		"Alpha,Gateway,dev2,10.0.0.2,admin,pw,22",
	)

	mustIngest(t, s, "a.csv", data)
	second := mustIngest(t, s, "a.csv", data)
	assert.Empty(t, second.CreatedTables, "tables exist after the first batch")
	assert.Equal(t, 2, second.CanonicalApplied)

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalCanonicalRows)

	desc, err := s.DescribeTable(ctx, "Alpha_Gateway")
	require.NoError(t, err)
	assert.EqualValues(t, 2, desc.RowCount)
}

func TestIngest_UpsertReplacesValues(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	mustIngest(t, s, "a.csv", csvLines(testHeader+",port", "Alpha,Gateway,dev1,10.0.0.1,admin,old,22"))
	mustIngest(t, s, "b.csv", csvLines(testHeader+",port", "Alpha,Gateway,dev1,10.0.0.9,admin,new,2222"))

	page, err := s.SearchCanonical(ctx, SearchFilter{IncludeSecret: true}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "new", page.Rows[0].Secret)
	assert.Equal(t, "10.0.0.9", page.Rows[0].Address)

	exp, err := s.ExportCategory(ctx, "Alpha", "Gateway", ExportOptions{})
	require.NoError(t, err)
	require.Len(t, exp.Rows, 1)
	assert.Equal(t, "2222", exp.Rows[0][len(exp.Rows[0])-1])
}

func TestIngest_RejectedRowsDoNotFailBatch(t *testing.T) {
	s := newTestService(t)

	res := mustIngest(t, s, "mixed.csv", csvLines(
		testHeader,
		"Alpha,Gateway,dev1,10.0.0.1,admin,",
		"Alpha,Gateway,dev2,999.999.999.999,admin,",
		"Alpha,Gateway,dev3,,admin,",
	))

	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 2, res.AcceptedCount)
	require.Len(t, res.RejectedRows, 1)
	assert.Equal(t, 3, res.RejectedRows[0].Line)
	assert.Equal(t, ReasonInvalidAddress, res.RejectedRows[0].Reason)
}

func TestIngest_RecreatesTableDroppedOutsideService(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	batch := csvLines(testHeader+",port", "Alpha,Gateway,dev1,,admin,,22")

	mustIngest(t, s, "a.csv", batch)
	_, err := s.db.Exec(ctx, `DROP TABLE "Alpha_Gateway"`)
	require.NoError(t, err)

	// The cached schema is stale: this batch fails and evicts it.
	res, err := s.Ingest(ctx, IngestRequest{Name: "b.csv", Data: batch})
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, res.State)
	assert.NotContains(t, s.registry.Cached(), "Alpha_Gateway")

	res = mustIngest(t, s, "c.csv", batch)
	assert.True(t, res.Committed)
	assert.Equal(t, []string{"Alpha_Gateway"}, res.CreatedTables)

	exp, err := s.ExportCategory(ctx, "Alpha", "Gateway", ExportOptions{})
	require.NoError(t, err)
	require.Len(t, exp.Rows, 1)
	assert.Equal(t, "22", exp.Rows[0][len(exp.Rows[0])-1])
}

func TestIngest_ShiftJISWithJapaneseHeaders(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	data := encodeWith(t, japanese.ShiftJIS,
		"サービス名,装置種別,装置名称,装置IP,ユーザー名,パスワード,設置場所\n"+
			"基幹系,ルーター,東京本社ルーター,10.0.0.1,管理者,pw,東京都千代田区\n")

	res := mustIngest(t, s, "devices_sjis.csv", data)
	assert.Equal(t, EncodingShiftJIS, res.Encoding)
	assert.Equal(t, 1, res.AcceptedCount)
	assert.Equal(t, []string{CategoryTableName("基幹系", "ルーター")}, res.CreatedTables)

	page, err := s.SearchCanonical(ctx, SearchFilter{Service: "基幹系", IncludeSecret: true}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	got := page.Rows[0]
	assert.Equal(t, PrimaryKey("基幹系", "ルーター", "東京本社ルーター", "管理者"), got.PrimaryKey)
	assert.Equal(t, "10.0.0.1", got.Address)
	assert.Equal(t, "pw", got.Secret)

	exp, err := s.ExportCategory(ctx, "基幹系", "ルーター", ExportOptions{})
	require.NoError(t, err)
	assert.Contains(t, exp.Columns, "設置場所")
	require.Len(t, exp.Rows, 1)
	assert.Equal(t, "東京都千代田区", exp.Rows[0][len(exp.Rows[0])-1])
}

func TestIngest_EmptyOptionalValuesAreNull(t *testing.T) {
	s := newTestService(t)
	mustIngest(t, s, "a.csv", csvLines(testHeader, "Alpha,Gateway,dev1,,admin,"))

	var n int64
	err := s.db.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM "device_info" WHERE "address" IS NULL AND "secret" IS NULL`).Scan(&n)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestIngest_RejectsBatch(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrEmptyBatch},
		{"every row rejected", csvLines(testHeader, "Alpha,,dev1,,admin,"), ErrNoAcceptedRows},
		{"duplicate key", csvLines(testHeader,
			"Alpha,Gateway,dev1,,admin,",
			"Alpha,Gateway,dev1,,admin,",
		), ErrDuplicatePrimaryKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t)
			res, err := s.Ingest(context.Background(), IngestRequest{Name: tt.name, Data: tt.data})
			require.ErrorIs(t, err, tt.wantErr)
			require.NotNil(t, res)
			assert.Equal(t, StateRejected, res.State)
			assert.False(t, res.Committed)
			assert.NotEmpty(t, res.Error)

			tables, err := s.ListCategoryTables(context.Background())
			require.NoError(t, err)
			assert.Empty(t, tables)
		})
	}
}

func TestIngest_DuplicateReportsBothLines(t *testing.T) {
	s := newTestService(t)
	res, err := s.Ingest(context.Background(), IngestRequest{Data: csvLines(testHeader,
		"Alpha,Gateway,dev1,,admin,",
		"Alpha,Gateway,dev2,,admin,",
		"Alpha,Gateway,dev1,,admin,",
	)})

	var rve *RowValidationError
	require.ErrorAs(t, err, &rve)
	assert.Equal(t, 4, rve.Line)
	assert.Equal(t, 2, rve.FirstLine)
	require.Len(t, res.RejectedRows, 1)
	assert.Equal(t, ReasonDuplicateKey, res.RejectedRows[0].Reason)
}

func TestIngest_ExistingTableIgnoresNewAttributes(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	mustIngest(t, s, "a.csv", csvLines(testHeader+",port", "Alpha,Gateway,dev1,,admin,,22"))
	res := mustIngest(t, s, "b.csv", csvLines(testHeader+",OS,PORT", "Alpha,Gateway,dev2,,admin,,linux,23"))

	assert.Empty(t, res.CreatedTables)
	assert.Equal(t, map[string][]string{"Alpha_Gateway": {"OS"}}, res.IgnoredAttributes)
	assert.Equal(t, 1, res.ExtendedApplied)

	desc, err := s.DescribeTable(ctx, "Alpha_Gateway")
	require.NoError(t, err)
	assert.Equal(t, []string{ColPrimaryKey, "port", ColCreatedAt, ColUpdatedAt}, desc.Columns, "schema is frozen")

	exp, err := s.ExportCategory(ctx, "Alpha", "Gateway", ExportOptions{})
	require.NoError(t, err)
	require.Len(t, exp.Rows, 2)
	assert.Equal(t, "23", exp.Rows[1][len(exp.Rows[1])-1], "PORT matched port case-insensitively")
}

func TestIngest_NoExtendedColumns(t *testing.T) {
	s := newTestService(t)
	res := mustIngest(t, s, "a.csv", csvLines(testHeader, "Alpha,Gateway,dev1,,admin,"))
	assert.Equal(t, []string{"Alpha_Gateway"}, res.CreatedTables)
	assert.Zero(t, res.ExtendedApplied)
}

func TestIngest_RollbackOnStorageFailure(t *testing.T) {
	data := csvLines(
		testHeader+",port",
		"Alpha,Gateway,dev1,,admin,,22",
		"Beta,Switch,sw1,,ops,,23",
	)

	tests := []struct {
		name        string
		failOn      string
		wantOp      string
		failedState BatchState
	}{
		{"second table create", `CREATE TABLE IF NOT EXISTS "Beta_Switch"`, "create_table", StateTransactionOpen},
		{"extended upsert", `INSERT INTO "Beta_Switch"`, "upsert", StateTablesProvisioned},
		{"canonical upsert", `INSERT INTO "device_info"`, "upsert", StateTablesProvisioned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			s := newTestServiceWith(t, &faultDB{DB: db, failOn: tt.failOn}, nil)
			ctx := context.Background()

			res, err := s.Ingest(ctx, IngestRequest{Name: "x.csv", Data: data})

			var se *StorageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantOp, se.Op)
			assert.ErrorIs(t, err, errInjected)
			assert.Equal(t, StateRolledBack, res.State)
			assert.Equal(t, tt.failedState, res.FailedState)
			assert.False(t, res.Committed)
			assert.Zero(t, res.AcceptedCount)
			assert.Zero(t, res.CanonicalApplied)
			assert.Empty(t, res.CreatedTables)

			tables, err := s.registry.ListTables(ctx, db)
			require.NoError(t, err)
			assert.Equal(t, []string{HistoryTable}, tables, "only the batch history survives the rollback")
			assert.Empty(t, s.registry.Cached())
		})
	}
}

func TestIngest_CatalogFailureIsWarning(t *testing.T) {
	db := openTestDB(t)
	s := newTestServiceWith(t, &faultDB{DB: db, failOn: `INSERT INTO "service_category_relations"`}, nil)

	res, err := s.Ingest(context.Background(), IngestRequest{Data: csvLines(
		testHeader,
		"Alpha,Gateway,dev1,,admin,",
		"Beta,Switch,sw1,,ops,",
	)})
	require.NoError(t, err)
	assert.True(t, res.Committed)
	require.Len(t, res.CatalogWarnings, 2)
	assert.Equal(t, "Alpha", res.CatalogWarnings[0].Service)
	assert.Contains(t, res.CatalogWarnings[0].Message, "injected failure")
}

func TestIngest_TooManyUploads(t *testing.T) {
	cfg := &config.Config{Upload: config.UploadConfig{MaxConcurrent: 1, MaxWaitTime: 10 * time.Millisecond}}
	s := newTestServiceWith(t, openTestDB(t), cfg)

	require.True(t, s.limiter.TryAcquire())
	defer s.limiter.Release()

	res, err := s.Ingest(context.Background(), IngestRequest{Data: csvLines(testHeader, "A,B,C,,D,")})
	require.ErrorIs(t, err, ErrTooManyUploads)
	assert.Equal(t, StateRejected, res.State)
}

func TestIngest_ClientContextIsAccepted(t *testing.T) {
	s := newTestService(t)
	ctx := ContextWithClient(context.Background(), "192.0.2.1", "curl/8")
	_, err := s.Ingest(ctx, IngestRequest{Data: csvLines(testHeader, "A,B,C,,D,")})
	require.NoError(t, err)

	addr, ua := ClientFromContext(ctx)
	assert.Equal(t, "192.0.2.1", addr)
	assert.Equal(t, "curl/8", ua)
}

func TestIngest_SQLMockRollback(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := NewService(sqldb.New(mockDB, sqlite.Dialect{}), nil)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "device_info"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "idx_device_info_service_category"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sqlite_master`).
		WithArgs("Alpha_Gateway").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "Alpha_Gateway"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	res, err := s.Ingest(context.Background(), IngestRequest{Data: csvLines(testHeader+",port", "Alpha,Gateway,dev1,,admin,,22")})

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Alpha_Gateway", se.Table)
	assert.Equal(t, StateRolledBack, res.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_SQLMockCommitFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := NewService(sqldb.New(mockDB, sqlite.Dialect{}), nil)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "device_info"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`sqlite_master`).
		WithArgs("Alpha_Gateway").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`pragma_table_info`).
		WithArgs("Alpha_Gateway").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("primary_key").AddRow("port").AddRow("created_at").AddRow("updated_at"))
	mock.ExpectExec(`INSERT INTO "device_info"`).
		WithArgs("Alpha_Gateway_dev1_admin", "Alpha", "Gateway", "dev1", nil, "admin", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "Alpha_Gateway"`).
		WithArgs("Alpha_Gateway_dev1_admin", "22").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	res, err := s.Ingest(context.Background(), IngestRequest{Data: csvLines(testHeader+",port", "Alpha,Gateway,dev1,,admin,,22")})

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "commit", se.Op)
	assert.Equal(t, StateRolledBack, res.State)
	assert.Equal(t, StateRowsApplied, res.FailedState)
	assert.Empty(t, s.registry.Cached(), "schemas seen in a failed transaction are not published")
	assert.NoError(t, mock.ExpectationsWereMet())
}
