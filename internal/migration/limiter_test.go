package migration

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobLimiter_AcquireRelease(t *testing.T) {
	l := NewJobLimiter(2, time.Second)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	status := l.Status()
	if status.Active != 2 || status.Available != 0 {
		t.Errorf("Status() = %+v, want Active=2 Available=0", status)
	}

	l.Release()
	status = l.Status()
	if status.Active != 1 || status.Available != 1 {
		t.Errorf("Status() after one Release = %+v, want Active=1 Available=1", status)
	}
	l.Release()
}

func TestJobLimiter_TooManyJobs(t *testing.T) {
	l := NewJobLimiter(1, 20*time.Millisecond)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire should succeed: %v", err)
	}
	defer l.Release()

	if err := l.Acquire(context.Background()); !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("second Acquire with the only slot held = %v, want ErrTooManyJobs", err)
	}
}

func TestJobLimiter_CircuitTripsAfterSustainedSaturation(t *testing.T) {
	l := NewJobLimiter(1, 5*time.Millisecond)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire should succeed: %v", err)
	}
	defer l.Release()

	// breakerTripThreshold consecutive timeouts trip the breaker.
	for i := 0; i < breakerTripThreshold; i++ {
		if err := l.Acquire(context.Background()); !errors.Is(err, ErrTooManyJobs) {
			t.Fatalf("Acquire #%d = %v, want ErrTooManyJobs before the breaker trips", i, err)
		}
	}

	if err := l.Acquire(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Acquire after sustained saturation = %v, want ErrCircuitOpen", err)
	}
	if !l.Status().CircuitOpen {
		t.Error("Status().CircuitOpen should be true once the breaker trips")
	}
}

func TestJobLimiter_DefaultsApplied(t *testing.T) {
	l := NewJobLimiter(0, 0)
	if cap(l.semaphore) != DefaultMaxConcurrentJobs {
		t.Errorf("maxConcurrent=0 should fall back to DefaultMaxConcurrentJobs, got cap %d", cap(l.semaphore))
	}
	if l.maxWait != DefaultMaxWaitTime {
		t.Errorf("maxWait=0 should fall back to DefaultMaxWaitTime, got %v", l.maxWait)
	}
}

func TestJobLimiter_WaitForDrain(t *testing.T) {
	l := NewJobLimiter(1, time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- l.WaitForDrain(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForDrain returned %v, want nil once active reaches 0", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForDrain did not return after the only active job released")
	}
}
