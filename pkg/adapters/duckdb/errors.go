package duckdb

import (
	"errors"
	"fmt"
	"strings"

	duckdbgo "github.com/duckdb/duckdb-go/v2"
)

// ErrorKind tags a failed query so callers can branch without parsing messages.
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindSyntax     ErrorKind = "syntax"
	ErrorKindPermission ErrorKind = "permission"
	// ErrorKindConnection marks failures that a fresh connection may fix.
	// Only this kind is retried by ExecuteQueryWithRetry.
	ErrorKindConnection ErrorKind = "connection"
	// ErrorKindSession marks a session that exhausted its own connect
	// attempts. It is never retried again.
	ErrorKindSession    ErrorKind = "session"
	ErrorKindOther      ErrorKind = "other"
)

// Message prefixes shown to users for categorized failures.
const (
	prefixTableNotFound  = "Table not found in database: "
	prefixColumnNotFound = "Column not found: "
	prefixSyntax         = "SQL syntax error: "
	prefixAccess         = "Database access error: "
)

// reconnectMarker is the message fragment that identifies a broken
// connection when the driver error carries no type.
const reconnectMarker = "database function error"

// ExhaustedRetriesMessage is reported when every reconnect attempt failed.
const ExhaustedRetriesMessage = "All retry attempts failed for database function error."

// SessionError reports that a session could not obtain a connection.
type SessionError struct {
	SessionID string
	Path      string
	Attempts  int
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("failed to establish connection after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// classifyError decides the kind of a query failure and the message shown
// for it. Typed driver errors are classified by their ErrorType; anything
// else falls back to message inspection.
func classifyError(err error) (ErrorKind, string) {
	if err == nil {
		return ErrorKindNone, ""
	}
	msg := err.Error()

	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return ErrorKindSession, msg
	}

	var dbErr *duckdbgo.Error
	if errors.As(err, &dbErr) {
		switch dbErr.Type {
		case duckdbgo.ErrorTypeCatalog:
			return ErrorKindNotFound, prefixTableNotFound + msg
		case duckdbgo.ErrorTypeBinder:
			if strings.Contains(strings.ToLower(msg), "column") {
				return ErrorKindNotFound, prefixColumnNotFound + msg
			}
			return ErrorKindOther, msg
		case duckdbgo.ErrorTypeParser, duckdbgo.ErrorTypeSyntax:
			return ErrorKindSyntax, prefixSyntax + msg
		case duckdbgo.ErrorTypePermission, duckdbgo.ErrorTypeIO:
			return ErrorKindPermission, prefixAccess + msg
		case duckdbgo.ErrorTypeConnection, duckdbgo.ErrorTypeFatal,
			duckdbgo.ErrorTypeInternal, duckdbgo.ErrorTypeInterrupt:
			return ErrorKindConnection, msg
		}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, reconnectMarker),
		strings.Contains(lower, "bad connection"),
		strings.Contains(lower, "database is closed"),
		strings.Contains(lower, "connection is closed"):
		return ErrorKindConnection, msg
	case strings.Contains(lower, "no such table"),
		strings.Contains(lower, "table with name") && strings.Contains(lower, "does not exist"):
		return ErrorKindNotFound, prefixTableNotFound + msg
	case strings.Contains(lower, "no such column"),
		strings.Contains(lower, "referenced column") && strings.Contains(lower, "not found"):
		return ErrorKindNotFound, prefixColumnNotFound + msg
	case strings.Contains(lower, "syntax error"):
		return ErrorKindSyntax, prefixSyntax + msg
	case strings.Contains(lower, "permission"):
		return ErrorKindPermission, prefixAccess + msg
	}
	return ErrorKindOther, msg
}
