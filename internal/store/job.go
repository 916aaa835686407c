package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
)

// ErrVersionConflict is reported when a JobSheet's version no longer matches
// the writer's expectation and the retry budget is exhausted.
var ErrVersionConflict = errors.New("store: job sheet version conflict")

// InsertJob creates the Job row. Only the Orchestrator writes Job rows.
func InsertJob(ctx context.Context, db DBTX, j Job) error {
	_, err := db.Exec(ctx, `
		INSERT INTO migration_job
			(id, source_file_name, created_by, status, current_phase, progress_percent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.SourceFileName, j.CreatedBy, j.Status, j.CurrentPhase, j.ProgressPercent, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus advances a Job's status/phase/progress, optionally setting
// started_at/completed_at/last_error. Called only by the Orchestrator.
func UpdateJobStatus(ctx context.Context, db DBTX, jobID string, status JobStatus, phase string, progress int, lastError string) error {
	_, err := db.Exec(ctx, `
		UPDATE migration_job
		SET status = $2, current_phase = $3, progress_percent = $4, last_error = $5,
		    started_at = COALESCE(started_at, CASE WHEN $2 <> 'STARTED' THEN now() END),
		    completed_at = CASE WHEN $2 IN ('COMPLETED','FAILED') THEN now() ELSE completed_at END
		WHERE id = $1`,
		jobID, status, phase, progress, lastError)
	if err != nil {
		return fmt.Errorf("store: update job status: %w", err)
	}
	return nil
}

// UpdateJobCounters writes the Job's aggregate row counters. They are
// eventually consistent with the sums over the job's sheets; during a phase
// they may lag.
func UpdateJobCounters(ctx context.Context, db DBTX, jobID string, total, processed, valid, errored, inserted int64, processingTimeMs int64) error {
	_, err := db.Exec(ctx, `
		UPDATE migration_job
		SET total_rows = $2, processed_rows = $3, valid_rows = $4, error_rows = $5,
		    inserted_rows = $6, processing_time_ms = $7
		WHERE id = $1`,
		jobID, total, processed, valid, errored, inserted, processingTimeMs)
	if err != nil {
		return fmt.Errorf("store: update job counters: %w", err)
	}
	return nil
}

// UpdateJobPhaseLabel writes only the Job's current-phase label. Step
// transitions call this best-effort; a failure is logged by the caller and
// never aborts the step.
func UpdateJobPhaseLabel(ctx context.Context, db DBTX, jobID, phase string) error {
	_, err := db.Exec(ctx, `UPDATE migration_job SET current_phase = $2 WHERE id = $1`, jobID, phase)
	if err != nil {
		return fmt.Errorf("store: update job phase label: %w", err)
	}
	return nil
}

// GetJob reads back a Job row by id.
func GetJob(ctx context.Context, db DBTX, jobID string) (Job, error) {
	var j Job
	row := db.QueryRow(ctx, `
		SELECT id, source_file_name, created_by, status, current_phase, progress_percent,
		       total_rows, processed_rows, valid_rows, error_rows, inserted_rows,
		       created_at, started_at, completed_at, processing_time_ms, last_error
		FROM migration_job WHERE id = $1`, jobID)
	err := row.Scan(&j.ID, &j.SourceFileName, &j.CreatedBy, &j.Status, &j.CurrentPhase, &j.ProgressPercent,
		&j.TotalRows, &j.ProcessedRows, &j.ValidRows, &j.ErrorRows, &j.InsertedRows,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.ProcessingTimeMs, &j.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, fmt.Errorf("store: job %s not found: %w", jobID, err)
	}
	if err != nil {
		return Job{}, fmt.Errorf("store: get job: %w", err)
	}
	return j, nil
}

// InsertJobSheet creates the per-sheet row, version starting at 0.
func InsertJobSheet(ctx context.Context, db DBTX, s JobSheet) error {
	_, err := db.Exec(ctx, `
		INSERT INTO migration_job_sheet (job_id, sheet_name, sheet_ordinal, status, current_phase, progress_percent, version)
		VALUES ($1, $2, $3, $4, $5, 0, 0)
		ON CONFLICT (job_id, sheet_name) DO NOTHING`,
		s.JobID, s.SheetName, s.SheetOrdinal, s.Status, s.CurrentPhase, s.ProgressPercent)
	if err != nil {
		return fmt.Errorf("store: insert job sheet: %w", err)
	}
	return nil
}

// GetJobSheet reads one (job_id, sheet_name) row, including its version.
func GetJobSheet(ctx context.Context, db DBTX, jobID, sheetName string) (JobSheet, error) {
	var s JobSheet
	row := db.QueryRow(ctx, `
		SELECT id, job_id, sheet_name, sheet_ordinal, status, current_phase, progress_percent,
		       ingest_rows, valid_rows, error_rows, inserted_rows,
		       ingest_duration_ms, validation_duration_ms, insertion_duration_ms, total_duration_ms,
		       last_error, version
		FROM migration_job_sheet WHERE job_id = $1 AND sheet_name = $2`, jobID, sheetName)
	err := row.Scan(&s.ID, &s.JobID, &s.SheetName, &s.SheetOrdinal, &s.Status, &s.CurrentPhase, &s.ProgressPercent,
		&s.IngestRows, &s.ValidRows, &s.ErrorRows, &s.InsertedRows,
		&s.IngestDurationMs, &s.ValidationDurationMs, &s.InsertionDurationMs, &s.TotalDurationMs,
		&s.LastError, &s.Version)
	if err != nil {
		return JobSheet{}, fmt.Errorf("store: get job sheet: %w", err)
	}
	return s, nil
}

// ListJobSheets returns every sheet row for a job, ordered by sheet_ordinal.
func ListJobSheets(ctx context.Context, db DBTX, jobID string) ([]JobSheet, error) {
	rows, err := db.Query(ctx, `
		SELECT id, job_id, sheet_name, sheet_ordinal, status, current_phase, progress_percent,
		       ingest_rows, valid_rows, error_rows, inserted_rows,
		       ingest_duration_ms, validation_duration_ms, insertion_duration_ms, total_duration_ms,
		       last_error, version
		FROM migration_job_sheet WHERE job_id = $1 ORDER BY sheet_ordinal`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list job sheets: %w", err)
	}
	defer rows.Close()

	var out []JobSheet
	for rows.Next() {
		var s JobSheet
		if err := rows.Scan(&s.ID, &s.JobID, &s.SheetName, &s.SheetOrdinal, &s.Status, &s.CurrentPhase, &s.ProgressPercent,
			&s.IngestRows, &s.ValidRows, &s.ErrorRows, &s.InsertedRows,
			&s.IngestDurationMs, &s.ValidationDurationMs, &s.InsertionDurationMs, &s.TotalDurationMs,
			&s.LastError, &s.Version); err != nil {
			return nil, fmt.Errorf("store: scan job sheet: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// JobSheetMutator mutates an in-memory copy of a JobSheet; CompareAndSwapJobSheet
// re-reads and re-applies it on every retry.
type JobSheetMutator func(*JobSheet)

// CompareAndSwapJobSheet reads the current version, applies mutate, and
// updates with version+1 asserting the expected version. A zero-row update
// means a concurrent writer won; the row is re-read and the update retried
// up to maxRetries times with exponential backoff.
func CompareAndSwapJobSheet(ctx context.Context, db DBTX, jobID, sheetName string, maxRetries int, mutate JobSheetMutator) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 10 * time.Millisecond
	exp.Multiplier = 2
	exp.MaxInterval = 200 * time.Millisecond
	exp.Reset()

	for attempt := 0; ; attempt++ {
		s, err := GetJobSheet(ctx, db, jobID, sheetName)
		if err != nil {
			return err
		}
		expectedVersion := s.Version
		mutate(&s)

		tag, err := db.Exec(ctx, `
			UPDATE migration_job_sheet
			SET status = $3, current_phase = $4, progress_percent = $5,
			    ingest_rows = $6, valid_rows = $7, error_rows = $8, inserted_rows = $9,
			    ingest_duration_ms = $10, validation_duration_ms = $11,
			    insertion_duration_ms = $12, total_duration_ms = $13,
			    last_error = $14, version = $15
			WHERE job_id = $1 AND sheet_name = $2 AND version = $16`,
			jobID, sheetName, s.Status, s.CurrentPhase, s.ProgressPercent,
			s.IngestRows, s.ValidRows, s.ErrorRows, s.InsertedRows,
			s.IngestDurationMs, s.ValidationDurationMs, s.InsertionDurationMs, s.TotalDurationMs,
			s.LastError, expectedVersion+1, expectedVersion)
		if err != nil {
			return fmt.Errorf("store: cas job sheet: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		if attempt >= maxRetries {
			return fmt.Errorf("store: cas job sheet %s/%s: %w after %d attempts", jobID, sheetName, ErrVersionConflict, attempt+1)
		}
		select {
		case <-time.After(exp.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
