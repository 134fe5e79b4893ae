package driver

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite implements Driver on an embedded SQLite database.
//
// The underlying engine is synchronous: every call completes on the calling
// goroutine before returning. Schema setup runs once at construction and is
// idempotent, so constructing two adapters against the same file is safe.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (or creates) a SQLite database at path and applies the
// schema. Use ":memory:" for an isolated in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// WAL allows concurrent readers during writes; busy_timeout keeps
	// writers from failing immediately under contention.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, storageErr("set pragmas", err)
	}

	s := &SQLite{db: db, path: path}

	err = applySchema(context.Background(), DialectSQLite, func(ctx context.Context, stmt string) error {
		_, execErr := db.ExecContext(ctx, stmt)
		return execErr
	})
	if err != nil {
		_ = db.Close()
		return nil, storageErr("init schema", err)
	}

	return s, nil
}

// Query returns zero or more rows.
func (s *SQLite) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return sqlQuery(ctx, s.db, query, args...)
}

// QueryOne returns the first row or nil.
func (s *SQLite) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	return sqlQueryOne(ctx, s.db, query, args...)
}

// Exec runs a mutation and reports rows changed.
func (s *SQLite) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	return sqlExec(ctx, s.db, query, args...)
}

// Transaction runs fn inside a transaction. Commits on nil, rolls back and
// propagates on error.
func (s *SQLite) Transaction(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return storageErr("rollback", fmt.Errorf("%v (original error: %w)", rbErr, err))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

// Dialect returns the SQLite dialect identifier.
func (s *SQLite) Dialect() Dialect {
	return DialectSQLite
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// sqliteTx is the transaction-scoped Querier.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return sqlQuery(ctx, t.tx, query, args...)
}

func (t *sqliteTx) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	return sqlQueryOne(ctx, t.tx, query, args...)
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	return sqlExec(ctx, t.tx, query, args...)
}

// Transaction reuses the open transaction rather than nesting.
func (t *sqliteTx) Transaction(ctx context.Context, fn func(q Querier) error) error {
	return fn(t)
}

// sqlDBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type sqlDBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqlQuery(ctx context.Context, db sqlDBTX, query string, args ...any) ([]Row, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer func() { _ = rows.Close() }()

	result, err := collectSQLRows(rows)
	if err != nil {
		return nil, storageErr("scan rows", err)
	}
	return result, nil
}

func sqlQueryOne(ctx context.Context, db sqlDBTX, query string, args ...any) (Row, error) {
	rows, err := sqlQuery(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func sqlExec(ctx context.Context, db sqlDBTX, query string, args ...any) (Result, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, storageErr("exec", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, storageErr("rows affected", err)
	}
	return Result{RowsAffected: affected}, nil
}

// collectSQLRows converts *sql.Rows into column-keyed maps, normalizing
// []byte values to string.
func collectSQLRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var _ Driver = (*SQLite)(nil)
