// Package web provides HTTP handlers for the migration engine's job-control
// surface.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dangthobach/excel-migration-engine/internal/migration"
)

// MaxUploadSize bounds the buffered multipart upload body; the zip
// container itself must be buffered for random access.
const MaxUploadSize = 200 * 1024 * 1024

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// parseBoolParam parses a boolean query parameter with a default value.
func parseBoolParam(r *http.Request, name string, defaultVal bool) bool {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// jobResponse is the JSON shape for a Job row.
type jobResponse struct {
	ID               string     `json:"jobId"`
	SourceFileName   string     `json:"sourceFileName"`
	CreatedBy        string     `json:"createdBy"`
	Status           string     `json:"status"`
	CurrentPhase     string     `json:"currentPhase"`
	ProgressPercent  int        `json:"progressPercent"`
	TotalRows        int64      `json:"totalRows"`
	ProcessedRows    int64      `json:"processedRows"`
	ValidRows        int64      `json:"validRows"`
	ErrorRows        int64      `json:"errorRows"`
	InsertedRows     int64      `json:"insertedRows"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ProcessingTimeMs int64      `json:"processingTimeMs"`
	LastError        string     `json:"lastError,omitempty"`
}

func toJobResponse(j migration.Job) jobResponse {
	return jobResponse{
		ID: j.ID, SourceFileName: j.SourceFileName, CreatedBy: j.CreatedBy,
		Status: string(j.Status), CurrentPhase: j.CurrentPhase, ProgressPercent: j.ProgressPercent,
		TotalRows: j.TotalRows, ProcessedRows: j.ProcessedRows, ValidRows: j.ValidRows,
		ErrorRows: j.ErrorRows, InsertedRows: j.InsertedRows,
		CreatedAt: j.CreatedAt, StartedAt: j.StartedAt, CompletedAt: j.CompletedAt,
		ProcessingTimeMs: j.ProcessingTimeMs, LastError: j.LastError,
	}
}

// jobSheetResponse is the JSON shape for one JobSheet row on the
// multi-sheet observability endpoints.
type jobSheetResponse struct {
	SheetName       string `json:"sheetName"`
	SheetOrdinal    int    `json:"sheetOrdinal"`
	Status          string `json:"status"`
	CurrentPhase    string `json:"currentPhase"`
	ProgressPercent int    `json:"progressPercent"`
	IngestRows      int64  `json:"ingestRows"`
	ValidRows       int64  `json:"validRows"`
	ErrorRows       int64  `json:"errorRows"`
	InsertedRows    int64  `json:"insertedRows"`
	IngestDurationMs     int64 `json:"ingestDurationMs"`
	ValidationDurationMs int64 `json:"validationDurationMs"`
	InsertionDurationMs  int64 `json:"insertionDurationMs"`
	TotalDurationMs      int64 `json:"totalDurationMs"`
	LastError       string `json:"lastError,omitempty"`
	Version         int64  `json:"version"`
}

func toJobSheetResponse(s migration.JobSheet) jobSheetResponse {
	return jobSheetResponse{
		SheetName: s.SheetName, SheetOrdinal: s.SheetOrdinal, Status: string(s.Status),
		CurrentPhase: s.CurrentPhase, ProgressPercent: s.ProgressPercent,
		IngestRows: s.IngestRows, ValidRows: s.ValidRows, ErrorRows: s.ErrorRows, InsertedRows: s.InsertedRows,
		IngestDurationMs: s.IngestDurationMs, ValidationDurationMs: s.ValidationDurationMs,
		InsertionDurationMs: s.InsertionDurationMs, TotalDurationMs: s.TotalDurationMs,
		LastError: s.LastError, Version: s.Version,
	}
}

// stepResponse is the JSON shape for one step tracker entry on the
// validation introspection endpoints.
type stepResponse struct {
	Name         string     `json:"name"`
	Ordinal      int        `json:"ordinal"`
	Description  string     `json:"description"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	DurationMs   int64      `json:"durationMs"`
	AffectedRows int64      `json:"affectedRows"`
	LastError    string     `json:"lastError,omitempty"`
}

func toStepResponse(s migration.StepStatusSnapshot) stepResponse {
	return stepResponse{
		Name: s.Name, Ordinal: s.Ordinal, Description: s.Description, Status: s.Status,
		StartedAt: s.StartedAt, EndedAt: s.EndedAt, DurationMs: s.DurationMs,
		AffectedRows: s.AffectedRows, LastError: s.LastError,
	}
}

// stagingErrorResponse is the JSON shape for one representative validation
// error.
type stagingErrorResponse struct {
	RowNum       int64  `json:"rowNum"`
	SheetName    string `json:"sheetName"`
	ErrorType    string `json:"errorType"`
	ErrorField   string `json:"errorField"`
	ErrorValue   string `json:"errorValue"`
	ErrorMessage string `json:"errorMessage"`
}

func toStagingErrorResponse(e migration.StagingError) stagingErrorResponse {
	return stagingErrorResponse{
		RowNum: e.RowNum, SheetName: e.SheetName, ErrorType: string(e.ErrorType),
		ErrorField: e.ErrorField, ErrorValue: e.ErrorValue, ErrorMessage: e.ErrorMessage,
	}
}

// resultResponse wraps an Orchestrator Result for JSON encoding on the
// synchronous upload and job-status responses.
type resultResponse struct {
	Job                  jobResponse             `json:"job"`
	PerSheet             []jobSheetResponse      `json:"perSheet,omitempty"`
	StepStatuses         []stepResponse          `json:"stepStatuses,omitempty"`
	RepresentativeErrors []stagingErrorResponse  `json:"representativeErrors,omitempty"`
	MemoryReportMB       migration.MemoryReport  `json:"memoryReportMb"`
	Inconsistencies      []string                `json:"inconsistencies,omitempty"`
}

func toResultResponse(res migration.Result) resultResponse {
	out := resultResponse{
		Job: toJobResponse(res.Job), MemoryReportMB: res.MemoryReportMB, Inconsistencies: res.Inconsistencies,
	}
	for _, s := range res.PerSheet {
		out.PerSheet = append(out.PerSheet, toJobSheetResponse(s))
	}
	for _, s := range res.StepStatuses {
		out.StepStatuses = append(out.StepStatuses, toStepResponse(s))
	}
	for _, e := range res.RepresentativeErrors {
		out.RepresentativeErrors = append(out.RepresentativeErrors, toStagingErrorResponse(e))
	}
	return out
}
