package migration

// validator.go drives the seven fixed-order set-based SQL rules, recording
// each step's start and completion in the step tracker and checking for
// per-step timeouts between rules.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dangthobach/excel-migration-engine/internal/migration/steptracker"
	"github.com/dangthobach/excel-migration-engine/internal/store"
)

// ValidatorService drives the seven validate rules against one job's
// staging_raw rows. Status, when set, receives a best-effort current-phase
// label write when each step starts so the job-status endpoint can show
// which rule is running; completing or failing a step writes no label.
type ValidatorService struct {
	DB      store.Beginner
	Status  store.DBTX
	Tracker *steptracker.Tracker
}

// ValidatorResult summarizes each rule's affected-row count.
type ValidatorResult struct {
	ErrorsByStep map[steptracker.StepName]int64
	PromotedRows int64
}

type validateStep struct {
	name StepName
	run  func(ctx context.Context, tx store.DBTX, jobID string) (int64, error)
}

// StepName re-exports steptracker.StepName so callers of this package don't
// need a second import for step identifiers.
type StepName = steptracker.StepName

// Run executes the seven rules in order; later rules skip rows already
// flagged by an earlier rule. Tracker.Init must already have been called for
// jobID by the Orchestrator.
func (v *ValidatorService) Run(ctx context.Context, jobID string) (ValidatorResult, error) {
	steps := []validateStep{
		{steptracker.StepRequiredFields, store.InsertRequiredFieldErrors},
		{steptracker.StepDateFormats, store.InsertDateFormatErrors},
		{steptracker.StepNumerics, store.InsertNumericErrors},
		{steptracker.StepInFileDedup, store.InsertInFileDupErrors},
		{steptracker.StepMasterRefs, store.InsertMasterRefErrors},
		{steptracker.StepDBDedup, store.InsertDBDupErrors},
	}

	result := ValidatorResult{ErrorsByStep: map[steptracker.StepName]int64{}}

	for _, step := range steps {
		if timedOut := v.Tracker.CheckTimeouts(jobID); len(timedOut) > 0 {
			return result, fmt.Errorf("migration: validator: step(s) %v timed out before %s could start", timedOut, step.name)
		}

		if err := v.Tracker.MarkStarted(jobID, step.name); err != nil {
			return result, fmt.Errorf("migration: validator: %w", err)
		}
		v.writePhaseLabel(ctx, jobID, step.name)

		n, err := v.runInTx(ctx, jobID, step.run)
		if err != nil {
			_ = v.Tracker.MarkFailed(jobID, step.name, err.Error())
			return result, fmt.Errorf("migration: validator: step %s: %w", step.name, err)
		}

		if err := v.Tracker.MarkCompleted(jobID, step.name, n); err != nil {
			return result, fmt.Errorf("migration: validator: %w", err)
		}
		result.ErrorsByStep[step.name] = n
	}

	if timedOut := v.Tracker.CheckTimeouts(jobID); len(timedOut) > 0 {
		return result, fmt.Errorf("migration: validator: step(s) %v timed out before %s could start", timedOut, steptracker.StepMoveValidRecords)
	}

	if err := v.Tracker.MarkStarted(jobID, steptracker.StepMoveValidRecords); err != nil {
		return result, fmt.Errorf("migration: validator: %w", err)
	}
	v.writePhaseLabel(ctx, jobID, steptracker.StepMoveValidRecords)
	promoted, err := v.runInTx(ctx, jobID, store.PromoteValidRows)
	if err != nil {
		_ = v.Tracker.MarkFailed(jobID, steptracker.StepMoveValidRecords, err.Error())
		return result, fmt.Errorf("migration: validator: promote: %w", err)
	}
	if err := v.Tracker.MarkCompleted(jobID, steptracker.StepMoveValidRecords, promoted); err != nil {
		return result, fmt.Errorf("migration: validator: %w", err)
	}
	result.PromotedRows = promoted

	return result, nil
}

// writePhaseLabel records the running step on the Job row. Best-effort: a
// failure here is logged and never aborts the step.
func (v *ValidatorService) writePhaseLabel(ctx context.Context, jobID string, step StepName) {
	if v.Status == nil {
		return
	}
	if err := store.UpdateJobPhaseLabel(ctx, v.Status, jobID, "VALIDATE:"+string(step)); err != nil {
		slog.Warn("migration: validator: phase label update", "job_id", jobID, "step", step, "error", err)
	}
}

// runInTx runs one rule in its own transaction; each rule commits
// independently so a later rule sees every earlier rule's errors.
func (v *ValidatorService) runInTx(ctx context.Context, jobID string, fn func(context.Context, store.DBTX, string) (int64, error)) (int64, error) {
	tx, err := v.DB.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := fn(ctx, tx, jobID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}
