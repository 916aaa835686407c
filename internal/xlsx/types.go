// Package xlsx is a streaming workbook reader: a pull-parse XML reader over
// a zip-packed spreadsheet package that emits bound records in bounded
// memory.
package xlsx

import (
	"context"
	"time"
)

// Row is one data row's cells, keyed by 1-based column index, holding the
// cell's resolved formatted text (shared-string, number-format,
// inline-string, and cached-formula-value resolution already applied).
type Row struct {
	SheetName  string
	RowNum     int64 // 1-based, original sheet row
	Cells      map[int64]string
	ParseError string // set when a field conversion failed; the row is still emitted

	// Raw holds every mapped column's untouched cell text keyed by external
	// column name, and Normalized holds the canonical twin for
	// identifier and date-shaped fields only. Both are populated by bindRow
	// alongside Cells so the ingest sink can populate staging columns
	// without re-deriving the header map.
	Raw        map[string]string
	Normalized map[string]string
}

// Batch is a released, owned slice of rows handed to exactly one Sink
// invocation.
type Batch struct {
	SheetName string
	Rows      []Row
}

// Sink receives a completed batch. It must treat the batch as independent:
// no shared mutable state across calls, since a parallel read strategy may
// invoke it from worker goroutines.
type Sink func(ctx context.Context, batch Batch) error

// Options configures a single Read invocation.
type Options struct {
	BatchSize              int
	MaxRows                int64 // 0 = unbounded
	HeaderRows             int   // default 1
	ReadAllSheets          bool
	SheetNames             []string
	EnableProgressTracking bool
	ProgressIntervalRows   int64
	EnableMemoryMonitoring bool
	MemoryThresholdMB      int
	MemoryMonitorInterval  time.Duration
	OnProgress             func(sheetName string, rowsRead int64)
	OnMemorySample         func(usedMB, totalMB uint64)
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:              5000,
		HeaderRows:             1,
		EnableProgressTracking: true,
		ProgressIntervalRows:   10000,
		EnableMemoryMonitoring: true,
		MemoryThresholdMB:      500,
		MemoryMonitorInterval:  5 * time.Second,
	}
}

// Result reports what the reader actually did: rows offered to the sink,
// rows carrying a parse error, and elapsed wall time.
type Result struct {
	Processed int64
	Errored   int64 // rows emitted with a non-empty ParseError
	Elapsed   time.Duration
}
