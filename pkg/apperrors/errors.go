package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrCapacityReached = errors.New("capacity reached")
	ErrSessionClosed   = errors.New("session closed")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrNoTables        = errors.New("no tables found in database")
	ErrNoValidQueries  = errors.New("no valid SQL queries generated")
)
