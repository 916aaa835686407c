package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dangthobach/excel-migration-engine/internal/xlsx"
)

// reactiveStrategy is the backpressured variant of parallelStrategy: same
// dispatch-and-track contract, but batches pass through a bounded buffer
// that drops the oldest buffered batch (and logs) on overflow instead of
// letting the producer block indefinitely.
type reactiveStrategy struct {
	maxConcurrent int
}

func newReactiveStrategy() *reactiveStrategy {
	cores := runtime.GOMAXPROCS(0)
	max := 2 * cores
	if max < 4 {
		max = 4
	}
	if max > 32 {
		max = 32
	}
	return &reactiveStrategy{maxConcurrent: max}
}

func (r *reactiveStrategy) Name() string  { return "reactive-backpressured" }
func (r *reactiveStrategy) Priority() int { return 15 }
func (r *reactiveStrategy) Supports(cfg Config) bool {
	return cfg.Parallel && cfg.Reactive
}

func (r *reactiveStrategy) Execute(ctx context.Context, pkg *xlsx.Package, rec any, opts xlsx.Options, sink xlsx.Sink) (xlsx.Result, error) {
	bufferSize := 2 * r.maxConcurrent

	dispatchCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	buf := make(chan xlsx.Batch, bufferSize)
	g, gctx := errgroup.WithContext(dispatchCtx)

	var mu sync.Mutex
	var dropped int

	// Consumers: maxConcurrent workers draining the bounded buffer.
	for i := 0; i < r.maxConcurrent; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case batch, ok := <-buf:
					if !ok {
						return nil
					}
					if err := sink(gctx, batch); err != nil {
						return err
					}
				}
			}
		})
	}

	producerSink := func(_ context.Context, batch xlsx.Batch) error {
		select {
		case buf <- batch:
			return nil
		default:
			// Buffer full: drop the oldest buffered batch and log, then
			// admit the new one.
			select {
			case dropped1 := <-buf:
				mu.Lock()
				dropped++
				mu.Unlock()
				slog.Warn("reactive-backpressured: buffer full, dropped oldest batch", "sheet", dropped1.SheetName, "rows", len(dropped1.Rows))
			default:
			}
			select {
			case buf <- batch:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	}

	result, readErr := xlsx.Read(dispatchCtx, pkg, rec, opts, producerSink)
	close(buf)

	waitErr := g.Wait()

	mu.Lock()
	droppedCount := dropped
	mu.Unlock()
	if droppedCount > 0 {
		slog.Warn("reactive-backpressured: run completed with dropped batches", "dropped", droppedCount)
	}

	// A failing task cancels the group context, which the producer then
	// surfaces as a secondary cancellation error; the task's own error is the
	// one worth reporting, so it takes precedence.
	if waitErr != nil {
		return result, fmt.Errorf("reactive-backpressured: batch task failed: %w", waitErr)
	}
	if readErr != nil {
		return result, readErr
	}
	return result, nil
}
