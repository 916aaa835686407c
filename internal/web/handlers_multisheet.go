package web

// handlers_multisheet.go implements the multi-sheet-by-reference entry
// point and its per-sheet observability endpoints. The start endpoint opens an
// already-saved workbook from disk (the zip format needs random access, so
// this is the one entry point that doesn't go through the HTTP multipart
// body) and schedules it exactly like upload-async; everything else reads
// back JobSheet rows for per-sheet progress.

import (
	"archive/zip"
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/dangthobach/excel-migration-engine/internal/migration"
	"github.com/dangthobach/excel-migration-engine/internal/store"
)

func (s *Server) handleMultiSheetStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobID    string `json:"jobId"`
		FilePath string `json:"filePath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.FilePath == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "filePath is required")
		return
	}

	rc, err := zip.OpenReader(body.FilePath)
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusBadRequest, migration.ErrUnsupportedFormat)
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		_ = rc.Close()
		respondErrorFromErr(r.Context(), w, statusFor(err), err)
		return
	}

	req := migration.UploadRequest{
		JobID:          body.JobID,
		SourceFileName: filepath.Base(body.FilePath),
		MultiSheet:     true,
	}
	// The slot is handed off to the orchestrator and released when the
	// background run finishes.
	jobID, err := s.orch.StartAsyncWithClose(&rc.Reader, rc, req, false)
	if err != nil {
		respondErrorFromErr(r.Context(), w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "PROCESSING"})
}

func (s *Server) handleMultiSheetSheets(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	sheets, err := store.ListJobSheets(r.Context(), s.pool, jobID)
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	out := make([]jobSheetResponse, len(sheets))
	for i, sh := range sheets {
		out[i] = toJobSheetResponse(sh)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMultiSheetSheet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	name := chi.URLParam(r, "name")
	sheet, err := store.GetJobSheet(r.Context(), s.pool, jobID, name)
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobSheetResponse(sheet))
}

func (s *Server) handleMultiSheetProgress(w http.ResponseWriter, r *http.Request) {
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
	perSheet := make(map[string]int, len(sheets))
	for _, sh := range sheets {
		perSheet[sh.SheetName] = sh.ProgressPercent
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId": jobID, "overallProgress": job.ProgressPercent, "perSheet": perSheet,
	})
}

func (s *Server) handleMultiSheetInProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	sheets, err := store.ListJobSheets(r.Context(), s.pool, jobID)
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	var inProgress []string
	for _, sh := range sheets {
		switch sh.Status {
		case migration.SheetCompleted, migration.SheetFailed:
		default:
			inProgress = append(inProgress, sh.SheetName)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "sheets": inProgress})
}

func (s *Server) handleMultiSheetPerformance(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	sheets, err := store.ListJobSheets(r.Context(), s.pool, jobID)
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	type sheetDuration struct {
		SheetName            string `json:"sheetName"`
		IngestDurationMs     int64  `json:"ingestDurationMs"`
		ValidationDurationMs int64  `json:"validationDurationMs"`
		InsertionDurationMs  int64  `json:"insertionDurationMs"`
		TotalDurationMs      int64  `json:"totalDurationMs"`
	}
	out := make([]sheetDuration, len(sheets))
	for i, sh := range sheets {
		out[i] = sheetDuration{
			SheetName: sh.SheetName, IngestDurationMs: sh.IngestDurationMs,
			ValidationDurationMs: sh.ValidationDurationMs, InsertionDurationMs: sh.InsertionDurationMs,
			TotalDurationMs: sh.TotalDurationMs,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "sheets": out})
}

func (s *Server) handleMultiSheetIsComplete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := store.GetJob(r.Context(), s.pool, jobID)
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusNotFound, err)
		return
	}
	complete := job.Status == migration.JobCompleted || job.Status == migration.JobFailed
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "complete": complete, "status": string(job.Status)})
}
