package web

// handlers_upload.go implements the two upload entry points: a synchronous
// full-job run and an async variant that schedules the run and returns
// immediately. Both acquire a JobLimiter slot before touching the
// Orchestrator, so an open breaker rejects the request outright.

import (
	"archive/zip"
	"errors"
	"net/http"
	"strconv"

	"github.com/dangthobach/excel-migration-engine/internal/migration"
)

func (s *Server) handleUploadSync(w http.ResponseWriter, r *http.Request) {
	req, za, err := s.parseUploadRequest(r)
	if err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		respondErrorFromErr(r.Context(), w, statusFor(err), err)
		return
	}
	defer s.limiter.Release()

	result, err := s.orch.RunSync(r.Context(), za, req, false)
	if err != nil {
		respondErrorFromErr(r.Context(), w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(result))
}

func (s *Server) handleUploadAsync(w http.ResponseWriter, r *http.Request) {
	req, za, err := s.parseUploadRequest(r)
	if err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		respondErrorFromErr(r.Context(), w, statusFor(err), err)
		return
	}

	// The slot is handed off to the orchestrator: released when the
	// background run finishes, or by StartAsync itself on failure to start.
	jobID, err := s.orch.StartAsync(za, req, false)
	if err != nil {
		respondErrorFromErr(r.Context(), w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "PROCESSING"})
}

// parseUploadRequest reads the multipart file and form fields shared by
// both upload endpoints.
func (s *Server) parseUploadRequest(r *http.Request) (migration.UploadRequest, *zip.Reader, error) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		return migration.UploadRequest{}, nil, errors.New("invalid multipart upload: " + err.Error())
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return migration.UploadRequest{}, nil, errors.New("missing \"file\" form field")
	}
	defer file.Close()

	za, _, err := migration.ReadUploadBytes(file)
	if err != nil {
		return migration.UploadRequest{}, nil, err
	}

	req := migration.UploadRequest{
		SourceFileName: header.Filename,
		CreatedBy:      r.FormValue("createdBy"),
	}
	if v := r.FormValue("maxRows"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.MaxRows = n
		}
	}
	if v := r.FormValue("readAllSheets"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			req.MultiSheet = b
		}
	}

	return req, za, nil
}
