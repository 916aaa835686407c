package migration

// limiter.go is the circuit breaker that wraps the upload entry points: a
// fixed pool of slots bounds concurrent jobs, and once the pool has been
// saturated past a short grace period the breaker opens, rejecting new jobs
// immediately (ErrCircuitOpen) until the cool-down elapses, whether or not a
// slot has freed up. While the breaker is open the orchestrator is never
// touched.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyJobs is returned when all job slots are occupied and the wait
// timeout expires.
var ErrTooManyJobs = errors.New("too many concurrent migration jobs, please try again later")

// ErrCircuitOpen is returned when the breaker has tripped; callers must
// surface this as HTTP 503 without invoking the orchestrator.
var ErrCircuitOpen = errors.New("migration service temporarily unavailable")

const (
	DefaultMaxConcurrentJobs = 5
	DefaultMaxWaitTime       = 30 * time.Second
	breakerCoolDown          = 10 * time.Second
	breakerTripThreshold     = 3 // consecutive saturation events before tripping
)

// JobLimiter bounds concurrent job execution and trips a circuit breaker
// under sustained saturation.
type JobLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu             sync.Mutex
	active         int
	saturatedCount int
	openedAt       time.Time
	open           bool
}

// NewJobLimiter creates a limiter allowing at most maxConcurrent simultaneous
// jobs. Requests that cannot acquire a slot within maxWait receive
// ErrTooManyJobs; sustained saturation trips the breaker (ErrCircuitOpen).
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &JobLimiter{semaphore: make(chan struct{}, maxConcurrent), maxWait: maxWait}
}

// Acquire attempts to reserve a job slot. Returns ErrCircuitOpen immediately
// if the breaker is open, ErrTooManyJobs if the wait times out, or nil with
// a slot held (caller must Release()).
func (l *JobLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.open {
		if time.Since(l.openedAt) < breakerCoolDown {
			l.mu.Unlock()
			return ErrCircuitOpen
		}
		l.open = false
		l.saturatedCount = 0
	}
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.saturatedCount = 0
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.mu.Lock()
		l.saturatedCount++
		if l.saturatedCount >= breakerTripThreshold {
			l.open = true
			l.openedAt = time.Now()
		}
		l.mu.Unlock()
		return ErrTooManyJobs
	}
}

// Release releases a previously acquired slot. Must be called exactly once
// per successful Acquire.
func (l *JobLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.semaphore
}

// WaitForDrain blocks until all active jobs complete or ctx is cancelled,
// used for graceful process shutdown.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.mu.Lock()
			active := l.active
			l.mu.Unlock()
			if active == 0 {
				return nil
			}
		}
	}
}

// LimiterStatus is a monitoring snapshot.
type LimiterStatus struct {
	Active        int  `json:"active"`
	Available     int  `json:"available"`
	MaxConcurrent int  `json:"max_concurrent"`
	CircuitOpen   bool `json:"circuit_open"`
}

func (l *JobLimiter) Status() LimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStatus{
		Active:        l.active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
		CircuitOpen:   l.open,
	}
}
