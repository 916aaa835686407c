// Package store is the pgx-backed persistence layer for the migration
// engine: Job/JobSheet with optimistic-lock updates, the three staging
// tables, and the dependency-ordered master/business upserts the Applier
// runs.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting every store
// method run either standalone or inside a caller-managed transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Tx additionally exposes CopyFrom, satisfied by pgx.Tx, for the staging
// batch-insert COPY fast path.
type Tx interface {
	DBTX
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Beginner is satisfied by *pgxpool.Pool, used by callers that need to open
// their own transaction (the Validator and Applier run each step in one).
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
