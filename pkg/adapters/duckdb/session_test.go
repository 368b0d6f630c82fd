package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-datachat/pkg/apperrors"
)

// fakeOpener hands out prepared handles in order and fails once they run out
// or while failuresLeft is positive.
type fakeOpener struct {
	mu           sync.Mutex
	handles      []*sql.DB
	failuresLeft int
	calls        int
}

func (f *fakeOpener) open(ctx context.Context, path string) (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("IO Error: Could not set lock on file")
	}
	if len(f.handles) == 0 {
		return nil, errors.New("no handle available")
	}
	db := f.handles[0]
	f.handles = f.handles[1:]
	return db, nil
}

func (f *fakeOpener) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func tempDatabaseFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.duckdb")
	require.NoError(t, os.WriteFile(path, []byte("duckdb"), 0o600))
	return path
}

func newTestSession(t *testing.T, opener *fakeOpener, profile bool) *Session {
	t.Helper()
	s, err := NewSession(tempDatabaseFile(t), SessionOptions{
		ID:             "test-session",
		RetryCount:     3,
		ProfileColumns: profile,
		Opener:         opener.open,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSession_MissingFile(t *testing.T) {
	_, err := NewSession(filepath.Join(t.TempDir(), "missing.duckdb"), SessionOptions{}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Contains(t, err.Error(), "database file not found")
}

func TestNewSession_Directory(t *testing.T) {
	_, err := NewSession(t.TempDir(), SessionOptions{}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestNewSession_GeneratesID(t *testing.T) {
	s, err := NewSession(tempDatabaseFile(t), SessionOptions{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
}

func TestConnection_GivesUpAfterRetryCount(t *testing.T) {
	opener := &fakeOpener{failuresLeft: 10}
	s := newTestSession(t, opener, false)

	db, err := s.Connection(context.Background())
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Equal(t, 3, opener.Calls(), "should make exactly RetryCount attempts")

	var sessErr *SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, 3, sessErr.Attempts)
	assert.Contains(t, err.Error(), "failed to establish connection after 3 attempts")
}

func TestConnection_SucceedsOnLastAttempt(t *testing.T) {
	db, _ := newMock(t)
	opener := &fakeOpener{failuresLeft: 2, handles: []*sql.DB{db}}
	s := newTestSession(t, opener, false)

	got, err := s.Connection(context.Background())
	require.NoError(t, err)
	assert.Same(t, db, got)
	assert.Equal(t, 3, opener.Calls())
}

func TestConnection_ReusesHealthyHandle(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(probeQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	opener := &fakeOpener{handles: []*sql.DB{db}}
	s := newTestSession(t, opener, false)

	first, err := s.Connection(context.Background())
	require.NoError(t, err)
	second, err := s.Connection(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, opener.Calls())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnection_ReplacesHandleWhenProbeFails(t *testing.T) {
	db1, mock1 := newMock(t)
	mock1.ExpectExec(probeQuery).WillReturnError(errors.New("connection lost"))
	db2, _ := newMock(t)
	opener := &fakeOpener{handles: []*sql.DB{db1, db2}}
	s := newTestSession(t, opener, false)

	_, err := s.Connection(context.Background())
	require.NoError(t, err)
	got, err := s.Connection(context.Background())
	require.NoError(t, err)

	assert.Same(t, db2, got)
	assert.Equal(t, 2, opener.Calls())
}

func TestConnection_ConcurrentCallersShareOneHandle(t *testing.T) {
	db, mock := newMock(t)
	mock.MatchExpectationsInOrder(false)
	const callers = 8
	for i := 0; i < callers-1; i++ {
		mock.ExpectExec(probeQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	opener := &fakeOpener{handles: []*sql.DB{db}}
	s := newTestSession(t, opener, false)

	got := make([]*sql.DB, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = s.Connection(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, db, got[i])
	}
	assert.Equal(t, 1, opener.Calls(), "only one connection may be opened")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnection_ClosedSession(t *testing.T) {
	s := newTestSession(t, &fakeOpener{}, false)
	require.NoError(t, s.Close())

	_, err := s.Connection(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
}

func TestExecuteQuery_Success(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT region, SUM(amount) AS total FROM sales GROUP BY region").
		WillReturnRows(sqlmock.NewRows([]string{"region", "total"}).
			AddRow("north", 120.5).
			AddRow("south", 80.0))
	s := newTestSession(t, &fakeOpener{handles: []*sql.DB{db}}, false)

	result := s.ExecuteQuery(context.Background(), "SELECT region, SUM(amount) AS total FROM sales GROUP BY region", false)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"region", "total"}, result.Columns)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, "north", result.Rows[0]["region"])
	assert.Equal(t, 120.5, result.Rows[0]["total"])
	assert.Empty(t, result.Error)

	history := s.QueryHistory()
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, 2, history[0].RowCount)
}

func TestExecuteQuery_CategorizesFailure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT * FROM nope").
		WillReturnError(errors.New("no such table: nope"))
	s := newTestSession(t, &fakeOpener{handles: []*sql.DB{db}}, false)

	result := s.ExecuteQuery(context.Background(), "SELECT * FROM nope", false)

	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindNotFound, result.ErrorKind)
	assert.Equal(t, "Table not found in database: no such table: nope", result.Error)
	assert.Equal(t, 0, result.RowCount)
	assert.NotNil(t, result.Rows)
}

func TestExecuteQuery_RetryAttemptNotRecorded(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT 42").WillReturnRows(sqlmock.NewRows([]string{"answer"}).AddRow(42))
	s := newTestSession(t, &fakeOpener{handles: []*sql.DB{db}}, false)

	result := s.ExecuteQuery(context.Background(), "SELECT 42", true)
	require.True(t, result.Success)
	assert.Empty(t, s.QueryHistory())
}

func TestExecuteQueryWithRetry_ReconnectsOnConnectionError(t *testing.T) {
	db1, mock1 := newMock(t)
	mock1.ExpectQuery("SELECT COUNT(*) FROM sales").
		WillReturnError(errors.New("Invalid Input Error: database function error"))
	db2, mock2 := newMock(t)
	mock2.ExpectQuery("SELECT COUNT(*) FROM sales").
		WillReturnRows(sqlmock.NewRows([]string{"count_star()"}).AddRow(7))
	opener := &fakeOpener{handles: []*sql.DB{db1, db2}}
	s := newTestSession(t, opener, false)

	result := s.ExecuteQueryWithRetry(context.Background(), "SELECT COUNT(*) FROM sales")

	require.True(t, result.Success, result.Error)
	assert.Equal(t, int64(7), result.Rows[0]["count_star()"])
	assert.Equal(t, 2, opener.Calls(), "connection should be re-established once")
	assert.NoError(t, mock1.ExpectationsWereMet())
	assert.NoError(t, mock2.ExpectationsWereMet())
	assert.Len(t, s.QueryHistory(), 1, "retry attempts must not duplicate history entries")
}

func TestExecuteQueryWithRetry_DoesNotRetrySyntaxError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELEC 1").
		WillReturnError(errors.New(`Parser Error: syntax error at or near "SELEC"`))
	opener := &fakeOpener{handles: []*sql.DB{db}}
	s := newTestSession(t, opener, false)

	result := s.ExecuteQueryWithRetry(context.Background(), "SELEC 1")

	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindSyntax, result.ErrorKind)
	assert.Contains(t, result.Error, "SQL syntax error: ")
	assert.Equal(t, 1, opener.Calls())
}

func TestExecuteQueryWithRetry_Exhausted(t *testing.T) {
	var handles []*sql.DB
	for i := 0; i < 3; i++ {
		db, mock := newMock(t)
		mock.ExpectQuery("SELECT 1 FROM t").WillReturnError(errors.New("database function error"))
		handles = append(handles, db)
	}
	opener := &fakeOpener{handles: handles}
	s := newTestSession(t, opener, false)

	result := s.ExecuteQueryWithRetry(context.Background(), "SELECT 1 FROM t")

	assert.False(t, result.Success)
	assert.Equal(t, ExhaustedRetriesMessage, result.Error)
	assert.Equal(t, 3, opener.Calls())
}

func TestExecuteQueries_SessionErrorNotRetried(t *testing.T) {
	opener := &fakeOpener{failuresLeft: 100}
	s := newTestSession(t, opener, false)

	results := s.ExecuteQueries(context.Background(), []string{"SELECT 1", "SELECT 2"})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, ErrorKindSession, results[0].ErrorKind)
	assert.Contains(t, results[0].Error, "failed to establish connection after 3 attempts")
	assert.NotEqual(t, ExhaustedRetriesMessage, results[0].Error)
	assert.Equal(t, 3, opener.Calls(), "connect attempts must not be multiplied by query retries")
}

func TestExecuteQueries_StopsAtFirstFailure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT 1 AS a FROM t").WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(1))
	mock.ExpectExec(probeQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT missing FROM t").WillReturnError(errors.New("syntax error at end of input"))
	s := newTestSession(t, &fakeOpener{handles: []*sql.DB{db}}, false)

	results := s.ExecuteQueries(context.Background(), []string{
		"SELECT 1 AS a FROM t",
		"SELECT missing FROM t",
		"SELECT 3 AS c FROM t",
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NoError(t, mock.ExpectationsWereMet(), "third query must never run")

	history := s.QueryHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "SELECT 1 AS a FROM t", history[0].SQL)
	assert.Equal(t, "SELECT missing FROM t", history[1].SQL)
}

func expectSalesSchema(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SHOW TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("customers").AddRow("orders"))

	describeCols := []string{"column_name", "column_type", "null", "key", "default", "extra"}
	mock.ExpectQuery(`DESCRIBE "customers"`).
		WillReturnRows(sqlmock.NewRows(describeCols).
			AddRow("id", "INTEGER", "NO", nil, nil, nil).
			AddRow("name", "VARCHAR", "YES", nil, nil, nil))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "customers"`).
		WillReturnRows(sqlmock.NewRows([]string{"count_star()"}).AddRow(3))

	mock.ExpectQuery(`DESCRIBE "orders"`).
		WillReturnRows(sqlmock.NewRows(describeCols).
			AddRow("id", "INTEGER", "NO", nil, nil, nil).
			AddRow("customer_id", "INTEGER", "YES", nil, nil, nil).
			AddRow("amount", "DOUBLE", "YES", nil, nil, nil))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"count_star()"}).AddRow(10))
}

func TestSchemaInfo_ComputedOnce(t *testing.T) {
	db, mock := newMock(t)
	expectSalesSchema(mock)
	opener := &fakeOpener{handles: []*sql.DB{db}}
	s := newTestSession(t, opener, false)

	first := s.SchemaInfo(context.Background())
	second := s.SchemaInfo(context.Background())

	assert.Same(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"customers", "orders"}, first.Tables)
	assert.Equal(t, int64(10), first.RowCounts["orders"])
	assert.Equal(t, "orders", first.PrimaryTable)
	assert.Equal(t, []string{"id", "customer_id", "amount"}, first.ColumnNames("orders"))
	assert.False(t, first.Schemas["customers"][0].Nullable)
	assert.True(t, first.Schemas["customers"][1].Nullable)

	require.Len(t, first.Relationships, 1)
	rel := first.Relationships[0]
	assert.Equal(t, "orders", rel.FromTable)
	assert.Equal(t, "customer_id", rel.FromColumn)
	assert.Equal(t, "customers", rel.ToTable)
	assert.Equal(t, "id", rel.ToColumn)

	assert.True(t, s.Info().SchemaCached)
}

func TestSchemaInfo_DegradesToEmpty(t *testing.T) {
	opener := &fakeOpener{failuresLeft: 10}
	s := newTestSession(t, opener, false)

	schema := s.SchemaInfo(context.Background())

	require.NotNil(t, schema)
	assert.True(t, schema.IsEmpty())
	assert.NotNil(t, schema.Schemas)
	assert.NotNil(t, schema.RowCounts)
	assert.Equal(t, "No schema information available", schema.FormatForPrompt())
	assert.False(t, s.Info().SchemaCached, "failed extraction should not be cached")
}

func TestSchemaInfo_ProfilesColumns(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SHOW TABLES").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("sales"))
	mock.ExpectQuery(`DESCRIBE "sales"`).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "null"}).
			AddRow("amount", "DOUBLE", "YES"))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "sales"`).
		WillReturnRows(sqlmock.NewRows([]string{"count_star()"}).AddRow(4))
	mock.ExpectQuery(`SELECT DISTINCT "amount" FROM "sales" WHERE "amount" IS NOT NULL LIMIT 5`).
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(10.0).AddRow(20.0).AddRow(30.0).AddRow(40.0))
	mock.ExpectQuery(`SELECT COUNT(DISTINCT "amount") FROM "sales"`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(4))
	mock.ExpectQuery(`SELECT MIN("amount") AS min_value, MAX("amount") AS max_value FROM "sales" WHERE "amount" IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"min_value", "max_value"}).AddRow(10.0, 40.0))
	s := newTestSession(t, &fakeOpener{handles: []*sql.DB{db}}, true)

	schema := s.SchemaInfo(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())

	col := schema.Schemas["sales"][0]
	assert.Len(t, col.SampleValues, 4)
	require.NotNil(t, col.UniqueCount)
	assert.Equal(t, int64(4), *col.UniqueCount)
	assert.Equal(t, 10.0, col.MinValue)
	assert.Equal(t, 40.0, col.MaxValue)

	prompt := schema.FormatForPrompt()
	assert.Contains(t, prompt, "Table: sales (PRIMARY)")
	assert.Contains(t, prompt, "* amount: DOUBLE (nullable) [unique; range: 10 to 40; examples: 10, 20, 30...]")
}

func TestSession_InfoAndClose(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT 1 AS ok").WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectExec(probeQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT bogus").WillReturnError(errors.New("Binder Error: Referenced column bogus not found"))
	s := newTestSession(t, &fakeOpener{handles: []*sql.DB{db}}, false)

	s.ExecuteQuery(context.Background(), "SELECT 1 AS ok", false)
	s.ExecuteQuery(context.Background(), "SELECT bogus", false)

	info := s.Info()
	assert.Equal(t, "test-session", info.SessionID)
	assert.Equal(t, 2, info.QueryCount)
	assert.Equal(t, 1, info.SuccessfulQueries)
	assert.Equal(t, 1, info.FailedQueries)
	assert.True(t, info.Connected)

	s.Close()
	s.Close()

	info = s.Info()
	assert.False(t, info.Connected)
	assert.Equal(t, 0, info.QueryCount)
}
