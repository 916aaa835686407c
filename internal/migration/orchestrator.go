package migration

// orchestrator.go is the single owner of Job-level writes, driving Ingest ->
// Validate -> Apply -> Reconcile synchronously, or scheduling the same
// sequence on a background goroutine for the async upload path.

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dangthobach/excel-migration-engine/internal/migration/steptracker"
	"github.com/dangthobach/excel-migration-engine/internal/store"
)

// Orchestrator owns Job/JobSheet writes and sequences the four phases. It is
// the only component permitted to transition a Job's top-level status.
// Limiter, when set, is the job-slot gate the upload handlers acquired
// against; the async paths take ownership of the caller's slot and release
// it once the background run finishes.
type Orchestrator struct {
	Pool      *pgxpool.Pool
	Ingest    *IngestService
	Validator *ValidatorService
	Applier   *ApplierService
	Reconcile *ReconcilerService
	Tracker   *steptracker.Tracker
	Limiter   *JobLimiter
}

// UploadRequest carries the upload entry point's inputs. JobID is normally
// left empty (the Orchestrator mints one); the multi-sheet by-reference
// entry point supplies its own, since the caller already knows the id it
// wants to poll.
type UploadRequest struct {
	JobID          string
	SourceFileName string
	CreatedBy      string
	MaxRows        int64
	MultiSheet     bool
	SheetNames     []string
}

// startJob inserts the Job row and returns its id, minting one when the
// caller didn't supply one.
func (o *Orchestrator) startJob(ctx context.Context, req UploadRequest) (string, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = NewJobID(time.Now())
	}
	job := Job{
		ID:             jobID,
		SourceFileName: req.SourceFileName,
		CreatedBy:      req.CreatedBy,
		Status:         JobStarted,
		CurrentPhase:   "INGEST",
		CreatedAt:      time.Now(),
	}
	now := time.Now()
	job.StartedAt = &now

	if err := store.InsertJob(ctx, o.Pool, job); err != nil {
		return "", fmt.Errorf("migration: orchestrator: insert job: %w", err)
	}
	return jobID, nil
}

// RunSync drives the whole pipeline for one job and returns the aggregated
// Result.
func (o *Orchestrator) RunSync(ctx context.Context, za *zip.Reader, req UploadRequest, keepErrors bool) (Result, error) {
	jobID, err := o.startJob(ctx, req)
	if err != nil {
		return Result{}, err
	}

	result, err := o.runPhases(ctx, jobID, za, req, keepErrors)
	result.Job.ID = jobID
	return result, err
}

// StartAsync inserts the Job row synchronously, then schedules the full
// phase sequence on a background goroutine and returns immediately. The
// goroutine runs detached from the request context so a client disconnect
// never aborts an in-flight job.
//
// The caller's acquired Limiter slot is handed off here: it is released when
// the background run completes (or on the error paths below), never by the
// caller, so concurrent async jobs stay bounded for their whole lifetime.
func (o *Orchestrator) StartAsync(za *zip.Reader, req UploadRequest, keepErrors bool) (string, error) {
	return o.StartAsyncWithClose(za, nil, req, keepErrors)
}

// StartAsyncWithClose is StartAsync plus an optional closer invoked once the
// background run finishes (used by the multi-sheet-by-reference entry point,
// whose workbook is opened from disk and must outlive the HTTP request).
func (o *Orchestrator) StartAsyncWithClose(za *zip.Reader, closer io.Closer, req UploadRequest, keepErrors bool) (string, error) {
	jobID, err := o.startJob(context.Background(), req)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		o.releaseSlot()
		return "", err
	}
	req.JobID = jobID

	go func() {
		defer o.releaseSlot()
		if closer != nil {
			defer closer.Close()
		}
		if _, err := o.runPhases(context.Background(), jobID, za, req, keepErrors); err != nil {
			slog.Error("migration: async job failed", "job_id", jobID, "error", err)
		}
	}()

	return jobID, nil
}

func (o *Orchestrator) releaseSlot() {
	if o.Limiter != nil {
		o.Limiter.Release()
	}
}

func (o *Orchestrator) runPhases(ctx context.Context, jobID string, za *zip.Reader, req UploadRequest, keepErrors bool) (Result, error) {
	start := time.Now()
	elapsedMs := func() int64 { return time.Since(start).Milliseconds() }

	// Phase 1: Ingest.
	if err := store.UpdateJobStatus(ctx, o.Pool, jobID, JobIngesting, "INGEST", 0, ""); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: mark ingesting: %w", err)
	}
	ingestRes, err := o.Ingest.Run(ctx, jobID, za, req.MultiSheet, req.SheetNames)
	if err != nil {
		o.fail(ctx, jobID, "INGEST", err)
		return o.terminalResult(ctx, jobID, start), err
	}
	o.recordJobSheets(ctx, jobID, ingestRes.PerSheet)
	if err := store.UpdateJobCounters(ctx, o.Pool, jobID, ingestRes.Processed, ingestRes.Processed, 0, ingestRes.Errored, 0, elapsedMs()); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: update ingest counters: %w", err)
	}
	if err := store.UpdateJobStatus(ctx, o.Pool, jobID, JobIngestingCompleted, "INGEST", 25, ""); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: mark ingest complete: %w", err)
	}

	// Phase 2: Validate.
	o.Tracker.Init(jobID)
	defer o.Tracker.Done(jobID)

	if err := store.UpdateJobStatus(ctx, o.Pool, jobID, JobValidating, "VALIDATE", 25, ""); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: mark validating: %w", err)
	}
	validateStart := time.Now()
	validateRes, err := o.Validator.Run(ctx, jobID)
	if err != nil {
		o.fail(ctx, jobID, "VALIDATE", err)
		return o.terminalResult(ctx, jobID, start), err
	}
	var errorRows int64
	for _, n := range validateRes.ErrorsByStep {
		errorRows += n
	}
	if err := store.UpdateJobCounters(ctx, o.Pool, jobID, ingestRes.Processed, ingestRes.Processed, validateRes.PromotedRows, errorRows, 0, elapsedMs()); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: update validate counters: %w", err)
	}
	if err := store.UpdateJobStatus(ctx, o.Pool, jobID, JobValidationCompleted, "VALIDATE", 50, ""); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: mark validate complete: %w", err)
	}
	o.updateSheetsAfterValidate(ctx, jobID, time.Since(validateStart).Milliseconds())

	if validateRes.PromotedRows == 0 {
		// Zero valid rows is a non-error terminal state.
		if err := store.UpdateJobStatus(ctx, o.Pool, jobID, JobCompleted, "RECONCILE", 100, ""); err != nil {
			return Result{}, fmt.Errorf("migration: orchestrator: mark completed (no valid rows): %w", err)
		}
		return o.terminalResult(ctx, jobID, start), nil
	}

	// Phase 3: Apply.
	if err := store.UpdateJobStatus(ctx, o.Pool, jobID, JobApplying, "APPLY", 50, ""); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: mark applying: %w", err)
	}
	applyStart := time.Now()
	applyRes, err := o.Applier.Run(ctx, jobID)
	if err != nil {
		o.fail(ctx, jobID, "APPLY", err)
		return o.terminalResult(ctx, jobID, start), err
	}
	o.updateSheets(ctx, jobID, func(s *JobSheet) {
		s.Status = SheetApplying
		s.CurrentPhase = "APPLY"
		s.ProgressPercent = 75
		s.InsertionDurationMs = time.Since(applyStart).Milliseconds()
	})
	if err := store.UpdateJobCounters(ctx, o.Pool, jobID, ingestRes.Processed, ingestRes.Processed, validateRes.PromotedRows, errorRows, applyRes.BusinessRows, elapsedMs()); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: update apply counters: %w", err)
	}
	if err := store.UpdateJobStatus(ctx, o.Pool, jobID, JobApplyCompleted, "APPLY", 75, ""); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: mark apply complete: %w", err)
	}

	// Phase 4: Reconcile.
	if err := store.UpdateJobStatus(ctx, o.Pool, jobID, JobApplyCompleted, "RECONCILE", 75, ""); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: mark reconciling: %w", err)
	}
	inconsistencies, memReport, repErrors, err := o.Reconcile.Run(ctx, jobID)
	if err != nil {
		o.fail(ctx, jobID, "RECONCILE", err)
		return o.terminalResult(ctx, jobID, start), err
	}

	finalStatus := JobCompleted
	finalSheetStatus := SheetCompleted
	if len(inconsistencies) > 0 {
		finalStatus = JobFailed
		finalSheetStatus = SheetFailed
	}
	if err := store.UpdateJobStatus(ctx, o.Pool, jobID, finalStatus, "RECONCILE", 100, ""); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: mark final status: %w", err)
	}
	o.updateSheets(ctx, jobID, func(s *JobSheet) {
		s.Status = finalSheetStatus
		s.CurrentPhase = "RECONCILE"
		s.ProgressPercent = 100
		s.TotalDurationMs = elapsedMs()
	})

	if err := store.CleanupJob(ctx, o.Pool, jobID, keepErrors); err != nil {
		return Result{}, fmt.Errorf("migration: orchestrator: cleanup: %w", err)
	}

	result := o.terminalResult(ctx, jobID, start)
	result.Inconsistencies = inconsistencies
	result.MemoryReportMB = memReport
	result.RepresentativeErrors = repErrors
	return result, nil
}

// recordJobSheets writes one JobSheet row per ingested sheet and folds its
// ingest count in via optimistic-lock CAS. Best-effort: a JobSheet write
// failure is never fatal to the overall job.
func (o *Orchestrator) recordJobSheets(ctx context.Context, jobID string, perSheet map[string]int64) {
	ordinal := 0
	for sheetName, rows := range perSheet {
		ordinal++
		_ = store.InsertJobSheet(ctx, o.Pool, JobSheet{
			JobID: jobID, SheetName: sheetName, SheetOrdinal: ordinal,
			Status: SheetIngestingCompleted, CurrentPhase: "INGEST",
		})
		_ = store.CompareAndSwapJobSheet(ctx, o.Pool, jobID, sheetName, 3, func(s *JobSheet) {
			s.IngestRows = rows
			s.Status = SheetIngestingCompleted
			s.CurrentPhase = "INGEST"
		})
	}
}

// updateSheets applies one mutation to every JobSheet of the job via CAS.
// Best-effort: sheet bookkeeping never fails the job.
func (o *Orchestrator) updateSheets(ctx context.Context, jobID string, mutate func(*JobSheet)) {
	sheets, err := store.ListJobSheets(ctx, o.Pool, jobID)
	if err != nil {
		slog.Warn("migration: orchestrator: list job sheets for update", "job_id", jobID, "error", err)
		return
	}
	for _, sh := range sheets {
		if err := store.CompareAndSwapJobSheet(ctx, o.Pool, jobID, sh.SheetName, 3, mutate); err != nil {
			slog.Warn("migration: orchestrator: update job sheet", "job_id", jobID, "sheet", sh.SheetName, "error", err)
		}
	}
}

// updateSheetsAfterValidate folds the validation duration and per-sheet
// error counts into each JobSheet once the seven rules have run.
func (o *Orchestrator) updateSheetsAfterValidate(ctx context.Context, jobID string, durMs int64) {
	errsBySheet, err := store.CountErrorsBySheet(ctx, o.Pool, jobID)
	if err != nil {
		slog.Warn("migration: orchestrator: count errors by sheet", "job_id", jobID, "error", err)
		errsBySheet = map[string]int64{}
	}
	sheets, err := store.ListJobSheets(ctx, o.Pool, jobID)
	if err != nil {
		slog.Warn("migration: orchestrator: list job sheets for update", "job_id", jobID, "error", err)
		return
	}
	for _, sh := range sheets {
		name := sh.SheetName
		errCount := errsBySheet[name]
		if err := store.CompareAndSwapJobSheet(ctx, o.Pool, jobID, name, 3, func(s *JobSheet) {
			s.Status = SheetValidating
			s.CurrentPhase = "VALIDATE"
			s.ProgressPercent = 50
			s.ValidationDurationMs = durMs
			s.ErrorRows = errCount
			s.ValidRows = s.IngestRows - errCount
		}); err != nil {
			slog.Warn("migration: orchestrator: update job sheet", "job_id", jobID, "sheet", name, "error", err)
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, jobID, phase string, err error) {
	_ = store.UpdateJobStatus(ctx, o.Pool, jobID, JobFailed, phase, 0, err.Error())
}

func (o *Orchestrator) terminalResult(ctx context.Context, jobID string, start time.Time) Result {
	job, err := store.GetJob(ctx, o.Pool, jobID)
	if err != nil {
		return Result{Job: Job{ID: jobID}}
	}
	sheets, _ := store.ListJobSheets(ctx, o.Pool, jobID)
	snapshot := o.Tracker.Snapshot(jobID)

	steps := make([]StepStatusSnapshot, len(snapshot))
	for i, s := range snapshot {
		steps[i] = StepStatusSnapshot{
			Name: string(s.Name), Ordinal: s.Ordinal, Description: s.Description,
			Status: string(s.Status), StartedAt: s.StartedAt, EndedAt: s.EndedAt,
			DurationMs: s.DurationMs, AffectedRows: s.AffectedRows, LastError: s.LastError,
		}
	}

	job.ProcessingTimeMs = time.Since(start).Milliseconds()
	return Result{Job: job, PerSheet: sheets, StepStatuses: steps}
}

// RunPhase re-runs a single phase against an already-ingested job, for the
// debug endpoints `/migration/job/{jobId}/{validate|apply|reconcile}`.
func (o *Orchestrator) RunPhase(ctx context.Context, jobID, phase string) (any, error) {
	switch phase {
	case "validate":
		o.Tracker.Init(jobID)
		defer o.Tracker.Done(jobID)
		return o.Validator.Run(ctx, jobID)
	case "apply":
		return o.Applier.Run(ctx, jobID)
	case "reconcile":
		inconsistencies, memReport, repErrors, err := o.Reconcile.Run(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return struct {
			Inconsistencies []string
			MemoryReportMB  MemoryReport
			RepresentativeErrors []StagingError
		}{inconsistencies, memReport, repErrors}, nil
	default:
		return nil, fmt.Errorf("migration: orchestrator: unknown phase %q", phase)
	}
}
