// Package repository provides typed access to the PostgreSQL job ledger and
// inspection tables. Queries follow the sqlc conventions: a Queries struct
// bound to a DBTX, per-query params structs, and database/sql null types for
// nullable columns.
//
// Every state transition on inspections and processing jobs is a single
// conditional UPDATE ("... WHERE status = ...") so that concurrent writers
// (the in-process completion path and the reconciliation poller) can never
// double-apply a transition. Callers inspect the returned affected-row count
// to learn whether their transition won.
package repository

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds a database handle and exposes all ledger operations.
type Queries struct {
	db DBTX
}

// New creates a Queries bound to the given database handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}
