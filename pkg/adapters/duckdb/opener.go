// Package duckdb owns read-only sessions against uploaded DuckDB files.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "duckdb" database/sql driver.
	_ "github.com/duckdb/duckdb-go/v2"
)

// DriverName is the database/sql driver name registered by duckdb-go.
const DriverName = "duckdb"

// Opener opens a handle to the database file at path. Sessions call it
// with a context bounded by their connect timeout.
type Opener func(ctx context.Context, path string) (*sql.DB, error)

// OpenReadOnly opens path in read-only access mode and verifies it with a
// ping. The handle is limited to a single connection so a session never
// holds more than one live connection to its file.
func OpenReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, ReadOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	return db, nil
}

// ReadOnlyDSN returns the connection string for a read-only attachment.
func ReadOnlyDSN(path string) string {
	return path + "?access_mode=READ_ONLY"
}
