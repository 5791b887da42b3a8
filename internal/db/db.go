// Package db provides a uniform statement-execution layer over two relational
// backends: an embedded SQLite database and a pooled PostgreSQL server.
// Call sites author SQL in the SQLite dialect and never learn which backend
// is active.
package db

import (
	"context"
	"errors"
)

var (
	ErrClosed = errors.New("db: adapter is closed")
	ErrNoRows = errors.New("db: no rows in result set")
)

// Row is one result row keyed by column name. The adapter stays generic over
// row shape; mapping to concrete types happens at the call site.
type Row map[string]any

// Result is the normalized outcome of a mutating statement. HasInsertID is
// set only when the statement was a single-row INSERT that produced a
// generated key, on either backend.
type Result struct {
	LastInsertID int64
	HasInsertID  bool
	Changes      int64
}

// Statement is a prepared, dialect-resolved statement. It carries no per-call
// state; Run, Get, and All may be invoked repeatedly and concurrently with
// different parameters.
type Statement interface {
	// Run executes a mutating statement and reports the change count plus
	// the generated row id, if any.
	Run(ctx context.Context, args ...any) (Result, error)

	// Get returns the first matching row, or ErrNoRows when nothing matches.
	Get(ctx context.Context, args ...any) (Row, error)

	// All returns every matching row. An empty result is a non-nil empty
	// slice, not an error.
	All(ctx context.Context, args ...any) ([]Row, error)
}

// Querier is the statement-execution surface shared by an adapter and a
// transaction scope. Statements prepared from a transaction's Querier run on
// that transaction's connection.
type Querier interface {
	// Exec runs immediate, parameterless SQL (schema DDL, pragmas).
	Exec(ctx context.Context, sql string) error

	// Prepare translates the statement for the active backend once and
	// returns a reusable handle. Translation failures are static errors,
	// independent of parameter data.
	Prepare(sql string) (Statement, error)
}

// Adapter is the backend-agnostic contract. Exactly one concrete adapter is
// configured at startup; all upstream code depends on this interface only.
type Adapter interface {
	Querier

	// Transaction runs fn with all-or-nothing semantics. Every statement
	// issued through fn's Querier commits together or not at all, and the
	// underlying connection is released on every exit path. fn's error
	// aborts the transaction and is returned unchanged.
	Transaction(ctx context.Context, fn func(q Querier) error) error

	// Close releases all held connections. Any further use of the adapter
	// or of statements prepared from it fails with ErrClosed.
	Close() error

	// IsAsync reports whether statement execution is deferred to a remote
	// server. Callers that must support both backends use it to decide how
	// much ordering to assume between independent calls.
	IsAsync() bool
}

// Transact runs fn inside a transaction and returns its value, for call sites
// that need a result out of the scope.
func Transact[T any](ctx context.Context, a Adapter, fn func(q Querier) (T, error)) (T, error) {
	var out T
	err := a.Transaction(ctx, func(q Querier) error {
		var err error
		out, err = fn(q)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
