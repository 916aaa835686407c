package steptracker

import (
	"testing"
	"time"
)

func TestInit_SeedsSevenPendingStepsInOrder(t *testing.T) {
	tr := New()
	tr.Init("job-1")

	snap := tr.Snapshot("job-1")
	if len(snap) != len(Steps) {
		t.Fatalf("Snapshot returned %d steps, want %d", len(snap), len(Steps))
	}
	for i, s := range snap {
		if s.Name != Steps[i] {
			t.Errorf("step %d = %s, want %s", i, s.Name, Steps[i])
		}
		if s.Status != Pending {
			t.Errorf("step %s status = %s, want PENDING", s.Name, s.Status)
		}
		if s.Ordinal != i+1 {
			t.Errorf("step %s ordinal = %d, want %d", s.Name, s.Ordinal, i+1)
		}
	}
}

func TestMarkStarted_CompletedRecordsDuration(t *testing.T) {
	tr := New()
	tr.Init("job-1")

	if err := tr.MarkStarted("job-1", StepRequiredFields); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := tr.MarkCompleted("job-1", StepRequiredFields, 42); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	snap := tr.Snapshot("job-1")
	s := snap[0]
	if s.Status != Completed {
		t.Errorf("status = %s, want COMPLETED", s.Status)
	}
	if s.AffectedRows != 42 {
		t.Errorf("affected rows = %d, want 42", s.AffectedRows)
	}
	if s.DurationMs <= 0 {
		t.Errorf("duration should be recorded once started+completed, got %d", s.DurationMs)
	}
}

func TestMarkFailed_UnknownStepErrors(t *testing.T) {
	tr := New()
	tr.Init("job-1")
	if err := tr.MarkFailed("job-1", StepName("NOT_A_STEP"), "boom"); err == nil {
		t.Error("MarkFailed on an unknown step name should return an error")
	}
}

func TestMarkTimeout(t *testing.T) {
	tr := New()
	tr.Init("job-1")
	_ = tr.MarkStarted("job-1", StepRequiredFields)

	if err := tr.MarkTimeout("job-1", StepRequiredFields); err != nil {
		t.Fatalf("MarkTimeout: %v", err)
	}
	snap := tr.Snapshot("job-1")
	if snap[0].Status != TimedOut {
		t.Errorf("status = %s, want TIMEOUT", snap[0].Status)
	}
	if snap[0].LastError == "" {
		t.Error("LastError should name the exceeded limit")
	}
}

func TestCheckTimeouts(t *testing.T) {
	tr := New()
	tr.Init("job-1")
	_ = tr.MarkStarted("job-1", StepRequiredFields)

	// Force the step's recorded start time far enough in the past to exceed
	// DefaultTimeout without actually sleeping 5 minutes.
	tr.mu.Lock()
	past := time.Now().Add(-DefaultTimeout - time.Second)
	tr.jobs["job-1"][0].StartedAt = &past
	tr.mu.Unlock()

	timedOut := tr.CheckTimeouts("job-1")
	if len(timedOut) != 1 || timedOut[0] != StepRequiredFields {
		t.Fatalf("CheckTimeouts = %v, want [%s]", timedOut, StepRequiredFields)
	}

	snap := tr.Snapshot("job-1")
	if snap[0].Status != TimedOut {
		t.Errorf("status after timeout sweep = %s, want TIMEOUT", snap[0].Status)
	}
}

func TestMoveValidRecordsGetsLongerTimeout(t *testing.T) {
	tr := New()
	tr.Init("job-1")
	tr.mu.Lock()
	got := tr.jobs["job-1"][len(Steps)-1].timeout
	tr.mu.Unlock()
	if got != PromoteTimeout {
		t.Errorf("MOVE_VALID_RECORDS timeout = %v, want %v", got, PromoteTimeout)
	}
}

func TestProgress(t *testing.T) {
	tr := New()
	tr.Init("job-1")
	if p := tr.Progress("job-1"); p != 0 {
		t.Errorf("Progress before any completion = %d, want 0", p)
	}

	for i := 0; i < 3; i++ {
		name := Steps[i]
		_ = tr.MarkStarted("job-1", name)
		_ = tr.MarkCompleted("job-1", name, 0)
	}
	want := 3 * 100 / len(Steps)
	if p := tr.Progress("job-1"); p != want {
		t.Errorf("Progress after 3/%d completed = %d, want %d", len(Steps), p, want)
	}
}

func TestCurrent(t *testing.T) {
	tr := New()
	tr.Init("job-1")
	if got := tr.Current("job-1"); got != StepRequiredFields {
		t.Errorf("Current before anything runs = %s, want %s", got, StepRequiredFields)
	}

	_ = tr.MarkStarted("job-1", StepRequiredFields)
	_ = tr.MarkCompleted("job-1", StepRequiredFields, 0)
	if got := tr.Current("job-1"); got != StepDateFormats {
		t.Errorf("Current after step 1 completes = %s, want %s", got, StepDateFormats)
	}
}

func TestDone_RemovesJob(t *testing.T) {
	tr := New()
	tr.Init("job-1")
	tr.Done("job-1")
	if snap := tr.Snapshot("job-1"); len(snap) != 0 {
		t.Errorf("Snapshot after Done = %v, want empty", snap)
	}
}
