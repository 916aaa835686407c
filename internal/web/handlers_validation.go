package web

// handlers_validation.go implements the step tracker introspection
// endpoints: the ordered step list, the currently running step, a progress
// summary, a full report, a performance breakdown, one step by ordinal, and
// an on-demand timeout sweep.

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleValidationSteps(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	snapshot := s.tracker.Snapshot(jobID)
	steps := make([]stepResponse, len(snapshot))
	for i, st := range snapshot {
		steps[i] = toStepResponseFromTracker(st)
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) handleValidationCurrent(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	current := s.tracker.Current(jobID)
	writeJSON(w, http.StatusOK, map[string]string{"current": string(current)})
}

func (s *Server) handleValidationSummary(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":    jobID,
		"progress": s.tracker.Progress(jobID),
		"current":  string(s.tracker.Current(jobID)),
	})
}

func (s *Server) handleValidationReport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	snapshot := s.tracker.Snapshot(jobID)
	steps := make([]stepResponse, len(snapshot))
	var failed []string
	for i, st := range snapshot {
		steps[i] = toStepResponseFromTracker(st)
		if st.Status == "FAILED" || st.Status == "TIMEOUT" {
			failed = append(failed, string(st.Name))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":        jobID,
		"steps":        steps,
		"progress":     s.tracker.Progress(jobID),
		"failedSteps":  failed,
	})
}

func (s *Server) handleValidationPerformance(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	snapshot := s.tracker.Snapshot(jobID)
	type stepDuration struct {
		Name         string `json:"name"`
		DurationMs   int64  `json:"durationMs"`
		AffectedRows int64  `json:"affectedRows"`
	}
	var total int64
	durations := make([]stepDuration, 0, len(snapshot))
	for _, st := range snapshot {
		durations = append(durations, stepDuration{Name: string(st.Name), DurationMs: st.DurationMs, AffectedRows: st.AffectedRows})
		total += st.DurationMs
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId": jobID, "steps": durations, "totalDurationMs": total,
	})
}

func (s *Server) handleValidationStepN(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		respondError(r.Context(), w, http.StatusBadRequest, "step ordinal must be a positive integer")
		return
	}
	snapshot := s.tracker.Snapshot(jobID)
	for _, st := range snapshot {
		if st.Ordinal == n {
			writeJSON(w, http.StatusOK, toStepResponseFromTracker(st))
			return
		}
	}
	respondError(r.Context(), w, http.StatusNotFound, "no step with that ordinal for this job")
}

func (s *Server) handleCheckTimeout(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	timedOut := s.tracker.CheckTimeouts(jobID)
	names := make([]string, len(timedOut))
	for i, n := range timedOut {
		names[i] = string(n)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "timedOutSteps": names})
}
