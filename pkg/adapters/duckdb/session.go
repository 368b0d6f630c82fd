package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
	"github.com/ekaya-inc/ekaya-datachat/pkg/retry"
)

const (
	DefaultRetryCount     = 3
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultConnectTimeout = 30 * time.Second

	probeQuery = "SELECT 1"
)

// SessionOptions configures a Session. A zero RetryCount or ConnectTimeout
// falls back to the default; a zero RetryDelay retries without waiting.
type SessionOptions struct {
	ID             string
	RetryCount     int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	// ProfileColumns adds sample values, distinct counts and ranges to the schema.
	ProfileColumns bool
	Opener         Opener
	Now            func() time.Time
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.RetryCount <= 0 {
		o.RetryCount = DefaultRetryCount
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Opener == nil {
		o.Opener = OpenReadOnly
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// QueryResult is the structured outcome of one statement.
type QueryResult struct {
	SQL             string           `json:"sql"`
	Success         bool             `json:"success"`
	Rows            []map[string]any `json:"data"`
	Columns         []string         `json:"columns"`
	RowCount        int              `json:"row_count"`
	ExecutionTimeMs float64          `json:"execution_time_ms"`
	Error           string           `json:"error,omitempty"`
	ErrorKind       ErrorKind        `json:"error_kind,omitempty"`
}

// QueryRecord is one entry of a session's query history.
type QueryRecord struct {
	SQL       string    `json:"sql"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	RowCount  int       `json:"row_count"`
	Error     string    `json:"error,omitempty"`
}

// SessionInfo summarizes a session for diagnostics endpoints.
type SessionInfo struct {
	SessionID         string    `json:"session_id"`
	DBPath            string    `json:"db_path"`
	CreatedAt         time.Time `json:"created_at"`
	LastAccessed      time.Time `json:"last_accessed"`
	QueryCount        int       `json:"query_count"`
	SuccessfulQueries int       `json:"successful_queries"`
	FailedQueries     int       `json:"failed_queries"`
	Connected         bool      `json:"connected"`
	SchemaCached      bool      `json:"schema_cached"`
}

// Session owns at most one read-only connection to one DuckDB file, its
// cached schema and its query history.
type Session struct {
	id     string
	path   string
	opts   SessionOptions
	logger *zap.Logger

	// connMu serializes every read and write of db and closed.
	connMu sync.Mutex
	db     *sql.DB
	closed bool

	// mu guards the schema cache, history and timestamps.
	mu           sync.Mutex
	schema       *SchemaInfo
	history      []QueryRecord
	createdAt    time.Time
	lastAccessed time.Time
}

// NewSession validates that path is an existing regular file and returns
// an unconnected session for it.
func NewSession(path string, opts SessionOptions, logger *zap.Logger) (*Session, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("database file not found: %s: %w", path, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat database file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path is not a file: %s: %w", path, apperrors.ErrInvalidInput)
	}

	opts = opts.withDefaults()
	now := opts.Now()
	return &Session{
		id:           opts.ID,
		path:         path,
		opts:         opts,
		logger:       logger.Named("duckdb-session").With(zap.String("session_id", opts.ID)),
		createdAt:    now,
		lastAccessed: now,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Path returns the database file the session reads.
func (s *Session) Path() string { return s.path }

// LastAccessed returns the time of the most recent use.
func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccessed = s.opts.Now()
	s.mu.Unlock()
}

// Connection returns a healthy connection, reusing the current one when
// its probe succeeds. It makes at most RetryCount attempts, waiting
// RetryDelay, 2*RetryDelay, ... between them, and returns a *SessionError
// once they are exhausted.
func (s *Session) Connection(ctx context.Context) (*sql.DB, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("session %s: %w", s.id, apperrors.ErrSessionClosed)
	}

	cfg := retry.LinearConfig(s.opts.RetryCount, s.opts.RetryDelay)
	cfg.OnRetry = func(attempt int, err error) {
		s.logger.Warn("Connection attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.opts.RetryCount),
			zap.String("error", logging.SanitizeError(err)),
		)
	}

	attempts := 0
	db, err := retry.DoWithResult(ctx, cfg, func() (*sql.DB, error) {
		attempts++
		return s.connectLocked(ctx)
	})
	if err != nil {
		s.logger.Error("Failed to establish connection",
			zap.String("db", logging.SanitizePath(s.path)),
			zap.Int("attempts", attempts),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, &SessionError{SessionID: s.id, Path: s.path, Attempts: attempts, Err: err}
	}

	s.touch()
	return db, nil
}

// connectLocked performs one attempt. Caller must hold connMu.
func (s *Session) connectLocked(ctx context.Context) (*sql.DB, error) {
	if s.db != nil {
		if _, err := s.db.ExecContext(ctx, probeQuery); err == nil {
			return s.db, nil
		}
		s.logger.Debug("Existing connection failed probe, reconnecting")
		s.db.Close()
		s.db = nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	db, err := s.opts.Opener(connectCtx, s.path)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.logger.Debug("Opened read-only connection", zap.String("db", logging.SanitizePath(s.path)))
	return db, nil
}

// ResetConnection closes the live connection; the next call reconnects.
func (s *Session) ResetConnection() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("Error closing connection during reset", zap.Error(err))
		}
		s.db = nil
	}
}

// Connected reports whether a connection handle is currently held.
func (s *Session) Connected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.db != nil
}

// ExecuteQuery runs one statement and returns a structured result. Failures
// are reported in the result, never as a Go error. The attempt is appended
// to the history unless isRetry is set.
func (s *Session) ExecuteQuery(ctx context.Context, query string, isRetry bool) *QueryResult {
	start := time.Now()
	result := &QueryResult{SQL: query, Rows: []map[string]any{}, Columns: []string{}}

	columns, rows, err := s.runQuery(ctx, query)
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		result.ErrorKind, result.Error = classifyError(err)
		s.logger.Warn("Query failed",
			zap.String("sql", logging.SanitizeQuery(query)),
			zap.String("kind", string(result.ErrorKind)),
			zap.String("error", logging.SanitizeError(err)),
		)
	} else {
		result.Success = true
		result.Columns = columns
		result.Rows = rows
		result.RowCount = len(rows)
		s.logger.Debug("Query succeeded",
			zap.String("sql", logging.SanitizeQuery(query)),
			zap.Int("rows", result.RowCount),
			zap.Float64("ms", result.ExecutionTimeMs),
		)
	}

	s.mu.Lock()
	s.lastAccessed = s.opts.Now()
	if !isRetry {
		s.history = append(s.history, QueryRecord{
			SQL:       query,
			Timestamp: s.lastAccessed,
			Success:   result.Success,
			RowCount:  result.RowCount,
			Error:     result.Error,
		})
	}
	s.mu.Unlock()

	return result
}

func (s *Session) runQuery(ctx context.Context, query string) ([]string, []map[string]any, error) {
	db, err := s.Connection(ctx)
	if err != nil {
		return nil, nil, err
	}
	return queryMaps(ctx, db, query)
}

// queryMaps runs query and returns its column names and rows keyed by column.
func queryMaps(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, []map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	dbTypes := make([]string, len(columns))
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			dbTypes[i] = ct.DatabaseTypeName()
		}
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i], dbTypes[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// ExecuteQueryWithRetry retries only connection-class failures, resetting
// the connection before each new attempt, for at most RetryCount attempts.
// Any other failure is returned immediately.
func (s *Session) ExecuteQueryWithRetry(ctx context.Context, query string) *QueryResult {
	cfg := retry.LinearConfig(s.opts.RetryCount, 0)
	cfg.OnRetry = func(attempt int, err error) {
		s.logger.Warn("Connection-class query failure, resetting connection and retrying",
			zap.Int("attempt", attempt),
			zap.String("sql", logging.SanitizeQuery(query)),
		)
		s.ResetConnection()
	}

	attempt := 0
	result, err := retry.DoWithResultIf(ctx, cfg, isReconnectable, func() (*QueryResult, error) {
		r := s.ExecuteQuery(ctx, query, attempt > 0)
		attempt++
		if r.Success {
			return r, nil
		}
		return r, &queryFailure{result: r}
	})
	if err == nil || !isReconnectable(err) {
		return result
	}

	return &QueryResult{
		SQL:       query,
		Rows:      []map[string]any{},
		Columns:   []string{},
		Error:     ExhaustedRetriesMessage,
		ErrorKind: ErrorKindConnection,
	}
}

// queryFailure adapts a failed QueryResult to the retry helpers.
type queryFailure struct {
	result *QueryResult
}

func (f *queryFailure) Error() string { return f.result.Error }

func isReconnectable(err error) bool {
	var qf *queryFailure
	return errors.As(err, &qf) && qf.result.ErrorKind == ErrorKindConnection
}

// ExecuteQueries runs queries in order and stops at the first failure.
// The returned slice holds every result produced, including that failure.
func (s *Session) ExecuteQueries(ctx context.Context, queries []string) []*QueryResult {
	results := make([]*QueryResult, 0, len(queries))
	for i, q := range queries {
		r := s.ExecuteQueryWithRetry(ctx, q)
		results = append(results, r)
		if !r.Success {
			s.logger.Info("Stopping batch at first failed query",
				zap.Int("failed_index", i),
				zap.Int("skipped", len(queries)-i-1),
			)
			break
		}
	}
	return results
}

// QueryHistory returns a copy of the executed statements in order.
func (s *Session) QueryHistory() []QueryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueryRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Info returns a diagnostic summary.
func (s *Session) Info() SessionInfo {
	connected := s.Connected()

	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		SessionID:    s.id,
		DBPath:       s.path,
		CreatedAt:    s.createdAt,
		LastAccessed: s.lastAccessed,
		QueryCount:   len(s.history),
		Connected:    connected,
		SchemaCached: s.schema != nil,
	}
	for _, h := range s.history {
		if h.Success {
			info.SuccessfulQueries++
		} else {
			info.FailedQueries++
		}
	}
	return info
}

// Close releases the connection and clears cached state. It is safe to
// call more than once; later calls to Connection fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.connMu.Lock()
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	alreadyClosed := s.closed
	s.closed = true
	s.connMu.Unlock()

	s.mu.Lock()
	s.schema = nil
	s.history = nil
	s.mu.Unlock()

	if !alreadyClosed {
		s.logger.Debug("Session closed")
	}
	return err
}
