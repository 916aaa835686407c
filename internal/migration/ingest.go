package migration

// ingest.go runs the streaming workbook reader over an uploaded workbook,
// converts each emitted row into a StagingRaw entity, and bulk-inserts
// batches in their own transactions. The sink owns no shared mutable buffer:
// a parallel read strategy may invoke it from several worker goroutines at
// once, so each call builds its own entity list and commits independently.

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dangthobach/excel-migration-engine/internal/config"
	"github.com/dangthobach/excel-migration-engine/internal/store"
	"github.com/dangthobach/excel-migration-engine/internal/xlsx"
	"github.com/dangthobach/excel-migration-engine/internal/xlsx/prevalidate"
	"github.com/dangthobach/excel-migration-engine/internal/xlsx/strategy"
)

// ErrUnsupportedFormat is returned when the uploaded payload is not a valid
// ZIP/XLSX container.
var ErrUnsupportedFormat = fmt.Errorf("ingest: unsupported or corrupt workbook format")

// NewJobID generates a job id of the form JOB_YYYYMMDDHHMMSS_XXXXXXXX, the
// suffix being the leading 8 hex digits of a fresh random UUID.
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("JOB_%s_%s", now.Format("20060102150405"), suffix)
}

// IngestService streams an uploaded workbook into staging_raw.
type IngestService struct {
	DB  store.Beginner
	Cfg *config.ReaderConfig
}

// IngestResult reports per-sheet outcomes.
type IngestResult struct {
	PerSheet  map[string]int64 // sheet name -> ingested row count
	Processed int64
	Errored   int64
}

// Run ingests the workbook behind za into staging_raw for jobID. The Job row
// must already exist. The workbook's sheet dimensions are checked against
// the per-sheet and per-job caps before a single row is read, so an
// oversize file fails without touching the database.
func (s *IngestService) Run(ctx context.Context, jobID string, za *zip.Reader, multiSheet bool, sheetNames []string) (IngestResult, error) {
	pkg, err := xlsx.OpenPackage(za)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest: open package: %w", err)
	}

	dims, err := prevalidate.Scan(za, pkg.SheetPartsByName())
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest: prevalidate: %w", err)
	}
	caps := prevalidate.Caps{
		PerJob:   s.Cfg.PerJobRowCap,
		PerSheet: s.Cfg.PerSheetRowCap,
		Header:   int64(s.Cfg.StartRow),
	}
	if err := prevalidate.Check(dims, caps); err != nil {
		return IngestResult{}, fmt.Errorf("ingest: %w", err)
	}

	opts := xlsx.DefaultOptions()
	opts.BatchSize = s.Cfg.BatchSize
	opts.MaxRows = s.Cfg.MaxRows
	opts.HeaderRows = s.Cfg.StartRow
	opts.ReadAllSheets = s.Cfg.ReadAllSheets || multiSheet
	opts.SheetNames = sheetNames
	opts.EnableProgressTracking = s.Cfg.EnableProgressTracking
	opts.ProgressIntervalRows = s.Cfg.ProgressIntervalRows
	opts.EnableMemoryMonitoring = s.Cfg.EnableMemoryMonitoring
	opts.MemoryThresholdMB = s.Cfg.MemoryThresholdMB
	opts.MemoryMonitorInterval = s.Cfg.MemoryMonitorInterval

	cfg := strategy.Config{
		Parallel:        s.Cfg.ParallelProcessing,
		Reactive:        s.Cfg.Reactive,
		ReadAllSheets:   opts.ReadAllSheets,
		SheetNames:      sheetNames,
		DispatchTimeout: s.Cfg.BatchDispatchTimeout,
	}
	strat := strategy.Select(cfg)

	perSheet := &perSheetCounters{counts: map[string]*int64{}}

	sink := func(sctx context.Context, batch xlsx.Batch) error {
		raws := make([]StagingRaw, 0, len(batch.Rows))
		for _, row := range batch.Rows {
			raws = append(raws, StagingRaw{
				JobID:       jobID,
				SheetName:   batch.SheetName,
				RowNum:      row.RowNum,
				CreatedAt:   time.Now(),
				Columns:     row.Raw,
				Normalized:  row.Normalized,
				ParseErrors: row.ParseError,
			})
		}
		if err := s.insertBatch(sctx, raws); err != nil {
			return err
		}
		perSheet.add(batch.SheetName, int64(len(raws)))
		return nil
	}

	result, err := strat.Execute(ctx, pkg, CaseDetailRow{}, opts, sink)
	if err != nil {
		// Batches commit as they flush, so by the time a row-limit or read
		// error surfaces, earlier batches are already in staging_raw. An
		// aborted ingest must leave no rows behind for the job.
		s.deleteStaged(ctx, jobID)
		return IngestResult{PerSheet: perSheet.snapshot(), Processed: result.Processed, Errored: result.Errored}, err
	}

	return IngestResult{
		PerSheet:  perSheet.snapshot(),
		Processed: result.Processed,
		Errored:   result.Errored,
	}, nil
}

// deleteStaged removes every staging_raw row already committed for the job.
// It runs on a detached context so cleanup still happens when the abort was
// itself a context cancellation.
func (s *IngestService) deleteStaged(_ context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		slog.Error("ingest: begin cleanup tx after abort", "job_id", jobID, "error", err)
		return
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := store.DeleteStagingRawForJob(ctx, tx, jobID)
	if err != nil {
		slog.Error("ingest: delete staged rows after abort", "job_id", jobID, "error", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		slog.Error("ingest: commit cleanup tx after abort", "job_id", jobID, "error", err)
		return
	}
	if n > 0 {
		slog.Info("ingest: removed staged rows of aborted job", "job_id", jobID, "rows", n)
	}
}

// insertBatch commits one batch in its own transaction.
func (s *IngestService) insertBatch(ctx context.Context, batch []StagingRaw) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ingest: begin batch tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after Commit

	if _, err := store.InsertStagingRawBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("ingest: insert staging_raw batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ingest: commit batch tx: %w", err)
	}
	return nil
}

// perSheetCounters accumulates ingested-row counts per sheet. The map is
// guarded by a mutex for first-touch of a sheet name; the counters
// themselves are atomics since concurrent sink calls increment them.
type perSheetCounters struct {
	mu     sync.Mutex
	counts map[string]*int64
}

func (p *perSheetCounters) add(sheet string, n int64) {
	p.mu.Lock()
	c, ok := p.counts[sheet]
	if !ok {
		var zero int64
		c = &zero
		p.counts[sheet] = c
	}
	p.mu.Unlock()
	atomic.AddInt64(c, n)
}

func (p *perSheetCounters) snapshot() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.counts))
	for k, v := range p.counts {
		out[k] = atomic.LoadInt64(v)
	}
	return out
}

// ReadUploadBytes buffers an HTTP upload body into memory and wraps it in a
// *zip.Reader. The ZIP format requires io.ReaderAt for its central
// directory, so buffering the container (not sheet bodies) is unavoidable at
// the HTTP boundary.
func ReadUploadBytes(r io.Reader) (*zip.Reader, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: read upload: %w", err)
	}
	za, err := zip.NewReader(byteReaderAt{data}, int64(len(data)))
	if err != nil {
		return nil, data, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return za, data, nil
}

type byteReaderAt struct{ b []byte }

func (r byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
