package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig bounds the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Postgres implements Driver on a pooled PostgreSQL connection.
//
// Queries are written with `?` placeholders like the SQLite adapter; they
// are rewritten to $1..$n before reaching the wire. Schema setup happens
// lazily on the first operation, guarded by an initialized flag.
type Postgres struct {
	pool *pgxpool.Pool

	initMu      sync.Mutex
	initialized bool
}

// NewPostgres connects a bounded pool to the given DSN and verifies the
// connection. Schema creation is deferred until first use.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, storageErr("parse postgres dsn", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, storageErr("open postgres pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("ping postgres", err)
	}

	return &Postgres{pool: pool}, nil
}

// ensureSchema applies the idempotent schema exactly once per process.
func (p *Postgres) ensureSchema(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.initialized {
		return nil
	}

	err := applySchema(ctx, DialectPostgres, func(ctx context.Context, stmt string) error {
		_, execErr := p.pool.Exec(ctx, stmt)
		return execErr
	})
	if err != nil {
		return storageErr("init schema", err)
	}

	p.initialized = true
	return nil
}

// Query returns zero or more rows.
func (p *Postgres) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return pgxQuery(ctx, p.pool, query, args...)
}

// QueryOne returns the first row or nil.
func (p *Postgres) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return pgxQueryOne(ctx, p.pool, query, args...)
}

// Exec runs a mutation and reports rows changed.
func (p *Postgres) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return Result{}, err
	}
	return pgxExec(ctx, p.pool, query, args...)
}

// Transaction checks out one client from the pool, runs fn against a
// handle routed through it, and commits or rolls back. The client is
// always released.
func (p *Postgres) Transaction(ctx context.Context, fn func(q Querier) error) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	// Release the client even on panic; Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return storageErr("rollback", fmt.Errorf("%v (original error: %w)", rbErr, err))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

// Dialect returns the PostgreSQL dialect identifier.
func (p *Postgres) Dialect() Dialect {
	return DialectPostgres
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// postgresTx routes all calls through the single checked-out client.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return pgxQuery(ctx, t.tx, query, args...)
}

func (t *postgresTx) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	return pgxQueryOne(ctx, t.tx, query, args...)
}

func (t *postgresTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	return pgxExec(ctx, t.tx, query, args...)
}

// Transaction reuses the open transaction rather than opening a second one,
// which would deadlock against the held client.
func (t *postgresTx) Transaction(ctx context.Context, fn func(q Querier) error) error {
	return fn(t)
}

// pgxDB is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type pgxDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func pgxQuery(ctx context.Context, db pgxDB, query string, args ...any) ([]Row, error) {
	rows, err := db.Query(ctx, RewritePlaceholders(query), args...)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	result, err := collectPgxRows(rows)
	if err != nil {
		return nil, storageErr("scan rows", err)
	}
	return result, nil
}

func pgxQueryOne(ctx context.Context, db pgxDB, query string, args ...any) (Row, error) {
	rows, err := pgxQuery(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func pgxExec(ctx context.Context, db pgxDB, query string, args ...any) (Result, error) {
	tag, err := db.Exec(ctx, RewritePlaceholders(query), args...)
	if err != nil {
		return Result{}, storageErr("exec", err)
	}
	return Result{RowsAffected: tag.RowsAffected()}, nil
}

// collectPgxRows converts pgx.Rows into column-keyed maps.
func collectPgxRows(rows pgx.Rows) ([]Row, error) {
	fields := rows.FieldDescriptions()

	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			if b, ok := values[i].([]byte); ok {
				row[f.Name] = string(b)
			} else {
				row[f.Name] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var _ Driver = (*Postgres)(nil)
