package migration

// applier.go runs the three dependency-ordered apply phases (independent
// masters, dependent masters, business rows) inside a single transaction,
// since a partially applied master/business set would leave case_detail
// referencing half-built rows.

import (
	"context"
	"fmt"

	"github.com/dangthobach/excel-migration-engine/internal/store"
)

// ApplierService promotes a job's staging_valid rows into the master and
// business tables.
type ApplierService struct {
	DB store.Beginner
}

// ApplierResult reports rows inserted per phase.
type ApplierResult struct {
	MasterCounts map[string]int64
	BusinessRows int64
}

// Run executes the master and business upserts in one transaction: a
// failure in the business phase must not leave freshly inserted master rows
// orphaned from rolled-back business rows.
func (a *ApplierService) Run(ctx context.Context, jobID string) (ApplierResult, error) {
	tx, err := a.DB.Begin(ctx)
	if err != nil {
		return ApplierResult{}, fmt.Errorf("migration: applier: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result := ApplierResult{MasterCounts: map[string]int64{}}

	p1, err := store.ApplyIndependentMasters(ctx, tx, jobID)
	if err != nil {
		return result, fmt.Errorf("migration: applier: P1: %w", err)
	}
	for k, v := range p1 {
		result.MasterCounts[k] = v
	}

	p2, err := store.ApplyDependentMasters(ctx, tx, jobID)
	if err != nil {
		return result, fmt.Errorf("migration: applier: P2: %w", err)
	}
	for k, v := range p2 {
		result.MasterCounts[k] = v
	}

	n, err := store.ApplyBusinessRows(ctx, tx, jobID)
	if err != nil {
		return result, fmt.Errorf("migration: applier: P3: %w", err)
	}
	result.BusinessRows = n

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("migration: applier: commit: %w", err)
	}
	return result, nil
}
