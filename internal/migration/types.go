// Package migration implements the four-phase Ingest -> Validate -> Apply ->
// Reconcile pipeline over a streamed workbook upload.
package migration

import (
	"time"

	"github.com/dangthobach/excel-migration-engine/internal/store"
)

// The persisted row types live in store, next to the SQL that reads and
// writes them. They are aliased here so the pipeline's API reads in domain
// terms without a second set of struct definitions to keep in sync.
type (
	Job            = store.Job
	JobStatus      = store.JobStatus
	JobSheet       = store.JobSheet
	JobSheetStatus = store.JobSheetStatus
	StagingRaw     = store.StagingRaw
	StagingValid   = store.StagingValid
	StagingError   = store.StagingError
	ErrorKind      = store.ErrorKind
)

const (
	JobStarted             = store.JobStarted
	JobIngesting           = store.JobIngesting
	JobIngestingCompleted  = store.JobIngestingCompleted
	JobValidating          = store.JobValidating
	JobValidationCompleted = store.JobValidationCompleted
	JobApplying            = store.JobApplying
	JobApplyCompleted      = store.JobApplyCompleted
	JobCompleted           = store.JobCompleted
	JobFailed              = store.JobFailed

	SheetStarted            = store.SheetStarted
	SheetIngesting          = store.SheetIngesting
	SheetIngestingCompleted = store.SheetIngestingCompleted
	SheetValidating         = store.SheetValidating
	SheetApplying           = store.SheetApplying
	SheetCompleted          = store.SheetCompleted
	SheetFailed             = store.SheetFailed
)

// Result is the aggregate outcome of a completed or failed job, returned by
// the Orchestrator's synchronous path and by the job-status endpoint.
type Result struct {
	Job                  Job
	PerSheet             []JobSheet
	StepStatuses         []StepStatusSnapshot
	RepresentativeErrors []StagingError
	MemoryReportMB       MemoryReport
	Inconsistencies      []string
}

// StepStatusSnapshot is the externally visible view of a step tracker entry,
// used by job-status and validation-introspection responses.
type StepStatusSnapshot struct {
	Name         string
	Ordinal      int
	Description  string
	Status       string
	StartedAt    *time.Time
	EndedAt      *time.Time
	DurationMs   int64
	AffectedRows int64
	LastError    string
}

// MemoryReport is the used/total/free MB snapshot the Reconciler attaches to
// its final report.
type MemoryReport struct {
	UsedMB  uint64
	TotalMB uint64
	FreeMB  uint64
}
