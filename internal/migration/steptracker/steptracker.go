// Package steptracker maintains a process-wide concurrent map from job id to
// its ordered validation steps, with start/complete/fail/timeout transitions
// and aggregate progress.
package steptracker

import (
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	Pending    Status = "PENDING"
	InProgress Status = "IN_PROGRESS"
	Completed  Status = "COMPLETED"
	Failed     Status = "FAILED"
	TimedOut   Status = "TIMEOUT"
)

// StepName is the Validator's fixed, totally ordered step sequence.
type StepName string

const (
	StepRequiredFields   StepName = "REQUIRED_FIELDS"
	StepDateFormats      StepName = "DATE_FORMATS"
	StepNumerics         StepName = "NUMERICS"
	StepInFileDedup      StepName = "IN_FILE_DEDUP"
	StepMasterRefs       StepName = "MASTER_REFS"
	StepDBDedup          StepName = "DB_DEDUP"
	StepMoveValidRecords StepName = "MOVE_VALID_RECORDS"
)

// Steps is the canonical ordered validate step list.
var Steps = []StepName{
	StepRequiredFields,
	StepDateFormats,
	StepNumerics,
	StepInFileDedup,
	StepMasterRefs,
	StepDBDedup,
	StepMoveValidRecords,
}

var descriptions = map[StepName]string{
	StepRequiredFields:   "Required fields present",
	StepDateFormats:      "Date columns match YYYY-MM-DD",
	StepNumerics:         "Integer columns are positive",
	StepInFileDedup:      "Business key unique within file",
	StepMasterRefs:       "Master table references resolve",
	StepDBDedup:          "Business key unique against existing rows",
	StepMoveValidRecords: "Promote passing rows to staging_valid",
}

// DefaultTimeout is applied to every step except StepMoveValidRecords, which
// gets PromoteTimeout.
const (
	DefaultTimeout = 5 * time.Minute
	PromoteTimeout = 15 * time.Minute
)

// StepStatus is one (job, step) transition record. In-memory only.
type StepStatus struct {
	Name         StepName
	Ordinal      int
	Description  string
	Status       Status
	StartedAt    *time.Time
	EndedAt      *time.Time
	DurationMs   int64
	AffectedRows int64
	LastError    string
	timeout      time.Duration
}

// Tracker is the process-wide job_id -> ordered step list map. Entries are
// created at Validate start and destroyed at job end; nothing is cleaned up
// automatically.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string][]*StepStatus
}

func New() *Tracker {
	return &Tracker{jobs: make(map[string][]*StepStatus)}
}

// Init creates the seven validate steps for jobID, all PENDING. Safe to call
// again for the same jobID (replaces the prior step list).
func (t *Tracker) Init(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	steps := make([]*StepStatus, len(Steps))
	for i, name := range Steps {
		timeout := DefaultTimeout
		if name == StepMoveValidRecords {
			timeout = PromoteTimeout
		}
		steps[i] = &StepStatus{
			Name:        name,
			Ordinal:     i + 1,
			Description: descriptions[name],
			Status:      Pending,
			timeout:     timeout,
		}
	}
	t.jobs[jobID] = steps
}

// Done removes jobID's step list. Must be called at job end, successful or
// not; the tracker never cleans up on its own.
func (t *Tracker) Done(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jobID)
}

func (t *Tracker) find(jobID string, name StepName) *StepStatus {
	for _, s := range t.jobs[jobID] {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// MarkStarted transitions name to IN_PROGRESS and records its start time.
func (t *Tracker) MarkStarted(jobID string, name StepName) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.find(jobID, name)
	if s == nil {
		return fmt.Errorf("steptracker: unknown step %s for job %s", name, jobID)
	}
	now := time.Now()
	s.Status = InProgress
	s.StartedAt = &now
	return nil
}

// MarkCompleted transitions name to COMPLETED, recording end time, duration,
// and the affected-row count.
func (t *Tracker) MarkCompleted(jobID string, name StepName, affectedRows int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.find(jobID, name)
	if s == nil {
		return fmt.Errorf("steptracker: unknown step %s for job %s", name, jobID)
	}
	now := time.Now()
	s.Status = Completed
	s.EndedAt = &now
	s.AffectedRows = affectedRows
	if s.StartedAt != nil {
		s.DurationMs = now.Sub(*s.StartedAt).Milliseconds()
	}
	return nil
}

// MarkFailed transitions name to FAILED and records the error message.
func (t *Tracker) MarkFailed(jobID string, name StepName, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.find(jobID, name)
	if s == nil {
		return fmt.Errorf("steptracker: unknown step %s for job %s", name, jobID)
	}
	now := time.Now()
	s.Status = Failed
	s.EndedAt = &now
	s.LastError = errMsg
	if s.StartedAt != nil {
		s.DurationMs = now.Sub(*s.StartedAt).Milliseconds()
	}
	return nil
}

// MarkTimeout transitions name to TIMEOUT with a message naming the limit.
func (t *Tracker) MarkTimeout(jobID string, name StepName) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.find(jobID, name)
	if s == nil {
		return fmt.Errorf("steptracker: unknown step %s for job %s", name, jobID)
	}
	now := time.Now()
	s.Status = TimedOut
	s.EndedAt = &now
	s.LastError = fmt.Sprintf("step %s exceeded timeout of %s", s.Name, s.timeout)
	if s.StartedAt != nil {
		s.DurationMs = now.Sub(*s.StartedAt).Milliseconds()
	}
	return nil
}

// CheckTimeouts enumerates jobID's in-progress steps and marks any step that
// has run past its per-step timeout as TIMEOUT, returning their names.
func (t *Tracker) CheckTimeouts(jobID string) []StepName {
	t.mu.Lock()
	defer t.mu.Unlock()
	var timedOut []StepName
	now := time.Now()
	for _, s := range t.jobs[jobID] {
		if s.Status != InProgress || s.StartedAt == nil {
			continue
		}
		if now.Sub(*s.StartedAt) > s.timeout {
			s.Status = TimedOut
			s.EndedAt = &now
			s.DurationMs = now.Sub(*s.StartedAt).Milliseconds()
			s.LastError = fmt.Sprintf("step %s exceeded timeout of %s", s.Name, s.timeout)
			timedOut = append(timedOut, s.Name)
		}
	}
	return timedOut
}

// Progress returns completed-steps / total-steps * 100 for jobID.
func (t *Tracker) Progress(jobID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	steps := t.jobs[jobID]
	if len(steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range steps {
		if s.Status == Completed {
			completed++
		}
	}
	return completed * 100 / len(steps)
}

// Snapshot returns a copy of jobID's current step list, safe to hold onto
// after the tracker mutates further.
func (t *Tracker) Snapshot(jobID string) []StepStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StepStatus, len(t.jobs[jobID]))
	for i, s := range t.jobs[jobID] {
		out[i] = *s
	}
	return out
}

// Current returns the name of the first non-terminal step, or "" if every
// step has reached a terminal status.
func (t *Tracker) Current(jobID string) StepName {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.jobs[jobID] {
		switch s.Status {
		case Completed, Failed, TimedOut:
			continue
		default:
			return s.Name
		}
	}
	return ""
}
