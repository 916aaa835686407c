package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dangthobach/excel-migration-engine/internal/config"
	"github.com/dangthobach/excel-migration-engine/internal/migration/steptracker"
)

func newTestServer(t *testing.T) (*Server, *steptracker.Tracker) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 30 * time.Second
	cfg.Rate.Enabled = false

	tracker := steptracker.New()
	// The validation endpoints only consult the tracker; no database pool or
	// orchestrator is needed to exercise them.
	return NewServer(cfg, nil, nil, nil, tracker), tracker
}

func TestValidationSteps(t *testing.T) {
	srv, tracker := newTestServer(t)
	tracker.Init("job1")
	tracker.MarkStarted("job1", steptracker.StepRequiredFields)
	tracker.MarkCompleted("job1", steptracker.StepRequiredFields, 42)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migration/validation/job1/steps", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var steps []stepResponse
	if err := json.NewDecoder(rec.Body).Decode(&steps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(steps) != len(steptracker.Steps) {
		t.Fatalf("len(steps) = %d, want %d", len(steps), len(steptracker.Steps))
	}
	if steps[0].Status != "COMPLETED" || steps[0].AffectedRows != 42 {
		t.Errorf("first step = %+v, want COMPLETED with 42 affected rows", steps[0])
	}
	if steps[1].Status != "PENDING" {
		t.Errorf("second step status = %s, want PENDING", steps[1].Status)
	}
}

func TestValidationCurrent(t *testing.T) {
	srv, tracker := newTestServer(t)
	tracker.Init("job1")
	tracker.MarkStarted("job1", steptracker.StepRequiredFields)
	tracker.MarkCompleted("job1", steptracker.StepRequiredFields, 0)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migration/validation/job1/current", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["current"] != string(steptracker.StepDateFormats) {
		t.Errorf("current = %q, want the first unfinished step %q", body["current"], steptracker.StepDateFormats)
	}
}

func TestValidationSummaryProgress(t *testing.T) {
	srv, tracker := newTestServer(t)
	tracker.Init("job1")
	for _, name := range steptracker.Steps {
		tracker.MarkStarted("job1", name)
		tracker.MarkCompleted("job1", name, 0)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migration/validation/job1/summary", nil))
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := body["progress"].(float64); got != 100 {
		t.Errorf("progress = %v, want 100 once every step completed", got)
	}
}

func TestValidationStepByOrdinal(t *testing.T) {
	srv, tracker := newTestServer(t)
	tracker.Init("job1")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migration/validation/job1/step/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var step stepResponse
	if err := json.NewDecoder(rec.Body).Decode(&step); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if step.Name != string(steptracker.StepRequiredFields) {
		t.Errorf("step 1 = %q, want %q", step.Name, steptracker.StepRequiredFields)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migration/validation/job1/step/99", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown ordinal status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migration/validation/job1/step/zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric ordinal status = %d, want 400", rec.Code)
	}
}

func TestCheckTimeoutSweep(t *testing.T) {
	srv, tracker := newTestServer(t)
	tracker.Init("job1")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/migration/validation/job1/check-timeout", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if steps, ok := body["timedOutSteps"].([]any); ok && len(steps) != 0 {
		t.Errorf("timedOutSteps = %v, want none for a freshly initialized job", steps)
	}
}

func TestWriteCSVRow_Escaping(t *testing.T) {
	rec := httptest.NewRecorder()
	writeCSVRow(rec, []string{"plain", `has,comma`, `has"quote`, "has\nnewline"})
	got := rec.Body.String()
	want := `plain,"has,comma","has""quote","has` + "\n" + `newline"` + "\n"
	if got != want {
		t.Errorf("writeCSVRow = %q, want %q", got, want)
	}
}
