package store

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the engine's schema idempotently. Every statement is
// CREATE ... IF NOT EXISTS, so this is safe to call on every process start
// rather than requiring a separate migration-runner dependency.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
