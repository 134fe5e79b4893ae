// Package driver provides database driver abstraction for SQLite and PostgreSQL.
//
// Both adapters expose the same Querier contract, so stores are written once
// against `?` placeholders; the Postgres adapter rewrites them to $1..$n.
package driver

import (
	"context"
	"fmt"
)

// Dialect represents the database dialect.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// Result reports the outcome of a mutation.
type Result struct {
	RowsAffected int64
}

// Querier is the storage-agnostic query contract. Every operation may fail
// with a *StorageError wrapping the underlying driver error.
//
// Transaction commits when fn returns nil, rolls back and propagates the
// error otherwise. Nested transactions are not supported: calling
// Transaction on a transaction-scoped handle runs fn against the same
// handle instead of opening a second transaction.
type Querier interface {
	// Query returns zero or more rows.
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	// QueryOne returns the first row, or nil when no row matched.
	// A missing row is never an error.
	QueryOne(ctx context.Context, query string, args ...any) (Row, error)
	// Exec runs an INSERT/UPDATE/DELETE and reports rows changed.
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	// Transaction runs fn with a transaction-scoped Querier.
	Transaction(ctx context.Context, fn func(q Querier) error) error
}

// Driver is a Querier bound to a physical storage engine.
//
// The SQLite adapter performs all work synchronously on the calling
// goroutine; do not assume concurrency there. The Postgres adapter is
// backed by a bounded connection pool.
type Driver interface {
	Querier

	Dialect() Dialect
	Close() error
}

// ParseDialect parses a dialect string.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unknown dialect: %s", s)
	}
}

// StorageError wraps an underlying driver error with the failed operation.
// The cause is reachable through errors.Is/errors.As.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
