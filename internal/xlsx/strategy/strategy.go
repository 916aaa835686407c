// Package strategy selects how a workbook is read. Each read strategy
// declares a priority and a supports predicate over Config; the selector
// picks the highest-priority strategy whose predicate holds, falling back
// to the baseline single-sheet streaming reader.
package strategy

import (
	"context"
	"sort"
	"time"

	"github.com/dangthobach/excel-migration-engine/internal/xlsx"
)

// Config is the subset of reader configuration the selector consults.
type Config struct {
	Parallel        bool
	Reactive        bool
	ReadAllSheets   bool
	SheetNames      []string
	DispatchTimeout time.Duration
}

// Strategy is a closed variant set with execute/supports/priority; selection
// is a linear pass over registered variants.
type Strategy interface {
	Name() string
	Priority() int
	Supports(cfg Config) bool
	Execute(ctx context.Context, pkg *xlsx.Package, rec any, opts xlsx.Options, sink xlsx.Sink) (xlsx.Result, error)
}

var registry []Strategy

func register(s Strategy) { registry = append(registry, s) }

func init() {
	register(singleSheetStrategy{})
	register(multiSheetStrategy{})
	register(newParallelStrategy())
	register(newReactiveStrategy())
}

// Select returns the highest-priority registered strategy whose Supports
// predicate holds for cfg. The baseline single-sheet strategy always
// supports, so Select never returns nil.
func Select(cfg Config) Strategy {
	candidates := make([]Strategy, len(registry))
	copy(candidates, registry)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority() > candidates[j].Priority() })
	for _, s := range candidates {
		if s.Supports(cfg) {
			return s
		}
	}
	return singleSheetStrategy{}
}

// singleSheetStrategy is the baseline (priority 0, always applies).
type singleSheetStrategy struct{}

func (singleSheetStrategy) Name() string          { return "single-sheet-streaming" }
func (singleSheetStrategy) Priority() int         { return 0 }
func (singleSheetStrategy) Supports(Config) bool  { return true }
func (singleSheetStrategy) Execute(ctx context.Context, pkg *xlsx.Package, rec any, opts xlsx.Options, sink xlsx.Sink) (xlsx.Result, error) {
	opts.ReadAllSheets = false
	if len(opts.SheetNames) == 0 {
		names := pkg.SheetNames()
		if len(names) > 0 {
			opts.SheetNames = names[:1]
		}
	}
	return xlsx.Read(ctx, pkg, rec, opts, sink)
}

// multiSheetStrategy reads every sheet, or a named subset, sequentially.
type multiSheetStrategy struct{}

func (multiSheetStrategy) Name() string  { return "multi-sheet-streaming" }
func (multiSheetStrategy) Priority() int { return 5 }
func (multiSheetStrategy) Supports(cfg Config) bool {
	return cfg.ReadAllSheets || len(cfg.SheetNames) > 0
}
func (multiSheetStrategy) Execute(ctx context.Context, pkg *xlsx.Package, rec any, opts xlsx.Options, sink xlsx.Sink) (xlsx.Result, error) {
	return xlsx.Read(ctx, pkg, rec, opts, sink)
}
