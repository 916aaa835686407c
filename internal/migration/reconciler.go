package migration

// reconciler.go runs the four post-apply consistency checks, attaches a
// heap-usage snapshot, and gathers up to 100 representative validation
// errors for the final report.

import (
	"context"
	"fmt"
	"runtime"

	"github.com/dangthobach/excel-migration-engine/internal/store"
)

const representativeErrorLimit = 100

// ReconcilerService runs the post-apply consistency checks for a job.
type ReconcilerService struct {
	DB store.DBTX
}

// Run executes the four checks and returns a human-readable
// inconsistency list; an empty list means the job is fully consistent.
func (r *ReconcilerService) Run(ctx context.Context, jobID string) ([]string, MemoryReport, []StagingError, error) {
	var inconsistencies []string

	stagingCount, matchedCount, err := store.ReconcileCounts(ctx, r.DB, jobID)
	if err != nil {
		return nil, MemoryReport{}, nil, fmt.Errorf("migration: reconciler: check 1: %w", err)
	}
	if stagingCount != matchedCount {
		inconsistencies = append(inconsistencies, fmt.Sprintf(
			"staging_valid count (%d) does not match case_detail rows traced to this job (%d)", stagingCount, matchedCount))
	}

	untreated, err := store.ReconcileUntreatedRefErrors(ctx, r.DB, jobID)
	if err != nil {
		return nil, MemoryReport{}, nil, fmt.Errorf("migration: reconciler: check 2: %w", err)
	}
	if untreated > 0 {
		inconsistencies = append(inconsistencies, fmt.Sprintf(
			"%d row(s) carry an unresolved REF_NOT_FOUND error yet were promoted to staging_valid", untreated))
	}

	dupKeys, err := store.ReconcileDuplicateBusinessKeys(ctx, r.DB, jobID)
	if err != nil {
		return nil, MemoryReport{}, nil, fmt.Errorf("migration: reconciler: check 3: %w", err)
	}
	if dupKeys > 0 {
		inconsistencies = append(inconsistencies, fmt.Sprintf(
			"%d duplicate business key group(s) found in case_detail for this job", dupKeys))
	}

	integrityViolations, err := store.ReconcileIntegrity(ctx, r.DB, jobID)
	if err != nil {
		return nil, MemoryReport{}, nil, fmt.Errorf("migration: reconciler: check 4: %w", err)
	}
	if integrityViolations > 0 {
		inconsistencies = append(inconsistencies, fmt.Sprintf(
			"%d case_detail row(s) violate due_date<=handover_date or quantity>0", integrityViolations))
	}

	errs, err := store.RepresentativeErrors(ctx, r.DB, jobID, representativeErrorLimit)
	if err != nil {
		return inconsistencies, MemoryReport{}, nil, fmt.Errorf("migration: reconciler: representative errors: %w", err)
	}

	return inconsistencies, memoryReport(), errs, nil
}

func memoryReport() MemoryReport {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	const mb = 1024 * 1024
	return MemoryReport{
		UsedMB:  m.HeapAlloc / mb,
		TotalMB: m.Sys / mb,
		FreeMB:  (m.Sys - m.HeapAlloc) / mb,
	}
}
