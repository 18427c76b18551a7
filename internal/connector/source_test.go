package connector

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSQLiteFixture writes a small recorder-like database to a temp file
func newSQLiteFixture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "home-assistant_v2.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE events (event_id INTEGER PRIMARY KEY, event_type VARCHAR(64), context_id_bin BLOB)`,
		`INSERT INTO events VALUES (1, 'state_changed', x'0102')`,
		`INSERT INTO events VALUES (2, 'call_service', NULL)`,
		`CREATE TABLE "odd ""name""" (id INTEGER PRIMARY KEY, "select" TEXT)`,
		`INSERT INTO "odd ""name""" VALUES (1, 'quoted')`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func TestSQLiteSourceColumnsAndRows(t *testing.T) {
	ctx := context.Background()
	sc := NewSourceConnector(DriverSQLite, newSQLiteFixture(t), createTestLogger())
	require.NoError(t, sc.Connect(ctx))
	defer sc.Disconnect()

	columns, err := sc.Columns(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, []string{"event_id", "event_type", "context_id_bin"}, columns)

	rows, err := sc.ReadRows(ctx, "events", columns)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []interface{}{int64(1), "state_changed", []byte{0x01, 0x02}}, rows[0])
	assert.Equal(t, []interface{}{int64(2), "call_service", nil}, rows[1])
}

func TestSQLiteSourceQuotesIdentifiers(t *testing.T) {
	ctx := context.Background()
	sc := NewSourceConnector(DriverSQLite, newSQLiteFixture(t), createTestLogger())
	require.NoError(t, sc.Connect(ctx))
	defer sc.Disconnect()

	columns, err := sc.Columns(ctx, `odd "name"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "select"}, columns)

	rows, err := sc.ReadRows(ctx, `odd "name"`, columns)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(1), "quoted"}}, rows)
}

func TestSQLiteSourceMissingTable(t *testing.T) {
	ctx := context.Background()
	sc := NewSourceConnector(DriverSQLite, newSQLiteFixture(t), createTestLogger())
	require.NoError(t, sc.Connect(ctx))
	defer sc.Disconnect()

	columns, err := sc.Columns(ctx, "statistics")
	require.NoError(t, err)
	assert.Empty(t, columns)

	_, err = sc.ReadRows(ctx, "statistics", columns)
	assert.Error(t, err)
}

func TestSQLiteSourceMissingFile(t *testing.T) {
	sc := NewSourceConnector(DriverSQLite, filepath.Join(t.TempDir(), "absent.db"), createTestLogger())
	assert.Error(t, sc.Connect(context.Background()))
}

func TestMySQLSourceColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sc := &SourceConnector{Driver: DriverMySQL, DB: db, Logger: createTestLogger()}

	mock.ExpectQuery("SELECT column_name\\s+FROM information_schema.columns").
		WithArgs("recorder_runs").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("run_id").
			AddRow("start").
			AddRow("closed_incorrect"))

	columns, err := sc.Columns(context.Background(), "recorder_runs")
	require.NoError(t, err)
	assert.Equal(t, []string{"run_id", "start", "closed_incorrect"}, columns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSourceReadRowsKeepsBinaryColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sc := &SourceConnector{Driver: DriverMySQL, DB: db, Logger: createTestLogger()}

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("event_id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("event_type").OfType("VARCHAR", ""),
		sqlmock.NewColumn("context_id_bin").OfType("VARBINARY", []byte{}),
	).
		AddRow(int64(1), []byte("state_changed"), []byte{0xDE, 0xAD}).
		AddRow(int64(2), []byte("call_service"), nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `event_id`, `event_type`, `context_id_bin` FROM `events`")).
		WillReturnRows(rows)

	got, err := sc.ReadRows(context.Background(), "events", []string{"event_id", "event_type", "context_id_bin"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []interface{}{int64(1), "state_changed", []byte{0xDE, 0xAD}}, got[0])
	assert.Equal(t, []interface{}{int64(2), "call_service", nil}, got[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSourceReadRowsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sc := &SourceConnector{Driver: DriverMySQL, DB: db, Logger: createTestLogger()}
	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrConnDone)

	_, err = sc.ReadRows(context.Background(), "events", []string{"event_id"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestIsBinaryType(t *testing.T) {
	for _, name := range []string{"BLOB", "LONGBLOB", "varbinary", "BINARY", "BIT"} {
		assert.True(t, isBinaryType(name), name)
	}
	for _, name := range []string{"VARCHAR", "TEXT", "DATETIME", "JSON", "BIGINT"} {
		assert.False(t, isBinaryType(name), name)
	}
}
