// Package db selects and constructs the storage adapter.
//
// A single configuration signal drives the choice: a non-empty connection
// string selects PostgreSQL, otherwise the embedded SQLite engine is used
// with an on-disk file. The adapter is constructed once at process start
// and passed to consumers explicitly; there is no package-level singleton.
package db

import (
	"context"
	"time"

	"taskdeck/internal/db/driver"
)

// Options configures adapter construction.
type Options struct {
	// URL is a PostgreSQL connection string. Empty selects SQLite.
	URL string
	// Path is the SQLite database file path.
	Path string

	// Pool bounds, PostgreSQL only.
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open constructs the adapter described by opts. The caller owns the
// returned driver and must Close it on shutdown.
func Open(ctx context.Context, opts Options) (driver.Driver, error) {
	if opts.URL != "" {
		return driver.NewPostgres(ctx, driver.PostgresConfig{
			DSN:             opts.URL,
			MaxConns:        opts.MaxConns,
			MaxConnLifetime: opts.MaxConnLifetime,
			MaxConnIdleTime: opts.MaxConnIdleTime,
		})
	}

	path := opts.Path
	if path == "" {
		path = "taskdeck.db"
	}
	return driver.NewSQLite(path)
}
