// Package store provides typed persistence for tasks, comments, and the
// audit log on top of the storage driver.
package store

import (
	"context"
	"time"

	"taskdeck/internal/db/driver"
)

// Store wraps a Querier with typed accessors. Bind it to a transaction-scoped
// querier via WithTx to compose multiple writes atomically.
type Store struct {
	q driver.Querier
}

// New returns a Store backed by q.
func New(q driver.Querier) *Store {
	return &Store{q: q}
}

// WithTx returns a Store bound to the given querier, typically the handle
// passed into Driver.Transaction.
func (s *Store) WithTx(q driver.Querier) *Store {
	return &Store{q: q}
}

// Transaction runs fn against a Store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.q.Transaction(ctx, func(q driver.Querier) error {
		return fn(s.WithTx(q))
	})
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
