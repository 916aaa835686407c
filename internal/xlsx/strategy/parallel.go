package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dangthobach/excel-migration-engine/internal/xlsx"
)

const (
	// dispatchTimeout bounds the wait for all in-flight batches after the
	// producer finishes.
	dispatchTimeout = 10 * time.Minute
	// softStopTimeout is the grace window past the dispatch deadline before
	// the worker context is forcefully cancelled.
	softStopTimeout = 30 * time.Second
	// finalStopTimeout bounds the last wait after the forced cancel.
	finalStopTimeout = 10 * time.Second
)

// parallelStrategy dispatches each completed batch to a worker pool sized to
// the hardware thread count. The producer never blocks on consumers beyond
// the pool's concurrency cap; every submitted batch is tracked via a handle,
// and after the producer finishes the strategy waits for every handle,
// propagates the first error, and shuts the pool down in bounded stages.
// Fire-and-forget submission is deliberately impossible here: an untracked
// batch could still be running when the pool is torn down.
type parallelStrategy struct {
	poolSize int
}

func newParallelStrategy() *parallelStrategy {
	return &parallelStrategy{poolSize: runtime.GOMAXPROCS(0)}
}

func (p *parallelStrategy) Name() string  { return "parallel-dispatch" }
func (p *parallelStrategy) Priority() int { return 10 }
func (p *parallelStrategy) Supports(cfg Config) bool {
	return cfg.Parallel && !cfg.Reactive
}

func (p *parallelStrategy) Execute(ctx context.Context, pkg *xlsx.Package, rec any, opts xlsx.Options, sink xlsx.Sink) (xlsx.Result, error) {
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	sem := semaphore.NewWeighted(int64(p.poolSize))
	g, gctx := errgroup.WithContext(workCtx)

	var mu sync.Mutex
	var handles int
	var completed int

	producerSink := func(bctx context.Context, batch xlsx.Batch) error {
		// The producer never blocks on downstream consumers beyond the
		// pool's concurrency cap; Acquire blocks only to bound concurrency,
		// not correctness.
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		mu.Lock()
		handles++
		mu.Unlock()

		g.Go(func() error {
			defer sem.Release(1)
			defer func() {
				mu.Lock()
				completed++
				mu.Unlock()
			}()
			return sink(gctx, batch)
		})
		return nil
	}

	result, readErr := xlsx.Read(workCtx, pkg, rec, opts, producerSink)

	waitErr := p.waitForAll(g, cancelWork)

	mu.Lock()
	orphaned := handles - completed
	mu.Unlock()
	if orphaned != 0 {
		slog.Warn("parallel-dispatch: handle/completion mismatch at shutdown", "handles", handles, "completed", completed)
	}

	// A failing task cancels the group context, which the producer then
	// surfaces as a secondary cancellation error; the task's own error is the
	// one worth reporting, so it takes precedence.
	if waitErr != nil {
		return result, fmt.Errorf("parallel-dispatch: batch task failed: %w", waitErr)
	}
	if readErr != nil {
		return result, readErr
	}
	return result, nil
}

// waitForAll blocks until every tracked batch completes, bounded by the
// per-job dispatch timeout. Past the deadline the pool is shut down in
// stages: a soft-stop window lets in-flight work drain on its own, then the
// worker context is forcefully cancelled, then one final bounded wait —
// so a stuck sink can delay teardown by at most the three windows combined.
func (p *parallelStrategy) waitForAll(g *errgroup.Group, cancelWork context.CancelFunc) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(dispatchTimeout):
	}

	slog.Warn("parallel-dispatch: dispatch timeout reached, beginning pool shutdown", "timeout", dispatchTimeout)
	select {
	case err := <-done:
		return err
	case <-time.After(softStopTimeout):
	}

	cancelWork()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
		return fmt.Errorf("parallel-dispatch: batch tasks exceeded dispatch timeout of %s", dispatchTimeout)
	case <-time.After(finalStopTimeout):
		return fmt.Errorf("parallel-dispatch: pool failed to stop within %s after forced cancel", finalStopTimeout)
	}
}
