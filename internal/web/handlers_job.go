package web

// handlers_job.go implements the per-job status, single-phase-debug, and
// cleanup endpoints.

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dangthobach/excel-migration-engine/internal/migration/steptracker"
	"github.com/dangthobach/excel-migration-engine/internal/store"
)

func toStepResponseFromTracker(s steptracker.StepStatus) stepResponse {
	return stepResponse{
		Name: string(s.Name), Ordinal: s.Ordinal, Description: s.Description, Status: string(s.Status),
		StartedAt: s.StartedAt, EndedAt: s.EndedAt, DurationMs: s.DurationMs,
		AffectedRows: s.AffectedRows, LastError: s.LastError,
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	job, err := store.GetJob(r.Context(), s.pool, jobID)
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusNotFound, err)
		return
	}
	sheets, err := store.ListJobSheets(r.Context(), s.pool, jobID)
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusInternalServerError, err)
		return
	}

	resp := resultResponse{Job: toJobResponse(job)}
	for _, sh := range sheets {
		resp.PerSheet = append(resp.PerSheet, toJobSheetResponse(sh))
	}
	snapshot := s.tracker.Snapshot(jobID)
	for _, st := range snapshot {
		resp.StepStatuses = append(resp.StepStatuses, toStepResponseFromTracker(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRunPhase returns a handler that re-runs a single phase against an
// already-ingested job, for debugging a stuck migration.
func (s *Server) handleRunPhase(phase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		out, err := s.orch.RunPhase(r.Context(), jobID, phase)
		if err != nil {
			respondErrorFromErr(r.Context(), w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	keepErrors := parseBoolParam(r, "keepErrors", false)

	if err := store.CleanupJob(r.Context(), s.pool, jobID, keepErrors); err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "status": "CLEANED"})
}
