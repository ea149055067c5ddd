// Package persistence executes ledger persistence requests drained from the
// persistence bus against a database-backed store.
package persistence

import "github.com/jackc/pgx/v5/pgxpool"

// Store holds the shared connection pool ledger implementations build on.
// The concrete SQL lives in subpackages (e.g. postgres).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pgx pool to ledger implementations.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}
