package xlsx

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/dangthobach/excel-migration-engine/internal/migration/migerr"
	"github.com/dangthobach/excel-migration-engine/internal/xlsx/descriptor"
	"github.com/dangthobach/excel-migration-engine/internal/xlsx/normalize"
)

// cellXML mirrors the subset of SpreadsheetML this reader consumes.
// Decoding is driven manually via xml.Decoder.Token rather than unmarshaling
// a <row> element at a time, so cell values (shared string / inline string /
// formula cached value) can be resolved as each <c> closes, in document
// order, without materializing the whole row's XML tree.
type cellXML struct {
	Ref string `xml:"r,attr"`
	T   string `xml:"t,attr"` // s=shared string, str=formula string, inlineStr, b=bool, (empty)=number
	V   string `xml:"v"`
	Is  *struct {
		T string `xml:"t"`
	} `xml:"is"`
}

// Read runs the streaming reader over one sheet at a time, selecting
// sheets per opts, and invoking sink once per completed batch. rec is a
// zero value of the target record type used only to resolve its descriptor.
func Read(ctx context.Context, pkg *Package, rec any, opts Options, sink Sink) (Result, error) {
	start := time.Now()
	desc, err := descriptor.For(rec)
	if err != nil {
		return Result{}, fmt.Errorf("type introspection: %w", err)
	}

	sheets := selectSheets(pkg, opts)
	var total, errored int64

	stopMonitor := startMemoryMonitor(ctx, opts)
	defer stopMonitor()

	for _, sheetName := range sheets {
		e, err := readSheet(ctx, pkg, sheetName, desc, opts, sink, &total)
		errored += e
		if err != nil {
			return Result{Processed: total, Errored: errored, Elapsed: time.Since(start)}, err
		}
	}

	return Result{Processed: total, Errored: errored, Elapsed: time.Since(start)}, nil
}

func selectSheets(pkg *Package, opts Options) []string {
	if opts.ReadAllSheets || len(opts.SheetNames) == 0 {
		return pkg.SheetNames()
	}
	wanted := make(map[string]bool, len(opts.SheetNames))
	for _, n := range opts.SheetNames {
		wanted[n] = true
	}
	var out []string
	for _, n := range pkg.SheetNames() {
		if wanted[n] {
			out = append(out, n)
		}
	}
	return out
}

// readSheet pull-parses one sheet in document order. Parsing is inherently
// sequential within a sheet; multi-sheet reads iterate sheets one at a time.
func readSheet(ctx context.Context, pkg *Package, sheetName string, desc *descriptor.Descriptor, opts Options, sink Sink, total *int64) (errored int64, err error) {
	f, err := pkg.openSheet(sheetName)
	if err != nil {
		return 0, fmt.Errorf("open sheet %q: %w", sheetName, err)
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	var headerMap map[int64]string // column index -> external name, built from header rows
	var batch []Row
	headerRowsSeen := 0
	var processed int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		b := Batch{SheetName: sheetName, Rows: batch}
		batch = nil
		if err := sink(ctx, b); err != nil {
			return err
		}
		return nil
	}

	for {
		tok, tokErr := dec.Token()
		if tokErr == io.EOF {
			break
		}
		if tokErr != nil {
			return errored, fmt.Errorf("xml parse error in sheet %q: %w", sheetName, tokErr)
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "row" {
			continue
		}

		rowNum := int64(0)
		for _, a := range se.Attr {
			if a.Name.Local == "r" {
				_, rowNum, _ = splitCellRefOrRowAttr(a.Value)
			}
		}

		cells, err := decodeRowCells(dec)
		if err != nil {
			return errored, fmt.Errorf("sheet %q row %d: %w", sheetName, rowNum, err)
		}

		if isEmptyCells(cells) {
			continue // reader-detected completely-empty rows may be skipped
		}

		if headerRowsSeen < opts.HeaderRows {
			headerRowsSeen++
			if headerMap == nil {
				headerMap = buildHeaderMap(cells, pkg)
			} else {
				for idx, text := range resolvedTexts(cells, pkg) {
					headerMap[idx] = text
				}
			}
			continue
		}

		if headerMap == nil {
			// No header row but a nonzero start: positional mapping by field order.
			headerMap = positionalHeaderMap(desc)
		}

		if opts.MaxRows > 0 && processed+1 > opts.MaxRows {
			return errored, &migerr.RowLimitError{MaxRows: opts.MaxRows, AtRow: processed + 1}
		}

		row := bindRow(sheetName, rowNum, cells, pkg, headerMap, desc)
		if row.ParseError != "" {
			errored++
		}
		processed++
		*total++
		batch = append(batch, row)

		if opts.EnableProgressTracking && opts.ProgressIntervalRows > 0 && processed%opts.ProgressIntervalRows == 0 {
			if opts.OnProgress != nil {
				opts.OnProgress(sheetName, processed)
			} else {
				slog.Info("reader progress", "sheet", sheetName, "rows", processed)
			}
		}

		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return errored, err
			}
		}
	}

	if err := flush(); err != nil {
		return errored, err
	}
	return errored, nil
}

// decodeRowCells consumes a <row>...</row> element's <c> children, resolving
// each cell's value source (shared string index, inline string, formula
// cached value, or raw numeric/bool text) without buffering the sheet.
func decodeRowCells(dec *xml.Decoder) (map[int64]cellXML, error) {
	cells := map[int64]cellXML{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "c" {
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				continue
			}
			var c cellXML
			if err := dec.DecodeElement(&c, &t); err != nil {
				return nil, err
			}
			col, _, err := splitCellRef(c.Ref)
			if err != nil {
				continue // malformed ref on an individual cell is not fatal to the row
			}
			// Repeated cell XML references use the last value.
			cells[col] = c
		case xml.EndElement:
			if t.Name.Local == "row" {
				return cells, nil
			}
		}
	}
}

func resolvedTexts(cells map[int64]cellXML, pkg *Package) map[int64]string {
	out := make(map[int64]string, len(cells))
	for idx, c := range cells {
		out[idx] = resolveCellText(c, pkg)
	}
	return out
}

func buildHeaderMap(cells map[int64]cellXML, pkg *Package) map[int64]string {
	return resolvedTexts(cells, pkg)
}

func positionalHeaderMap(desc *descriptor.Descriptor) map[int64]string {
	m := make(map[int64]string, len(desc.Fields))
	for i, f := range desc.Fields {
		m[int64(i+1)] = f.ExternalName
	}
	return m
}

func isEmptyCells(cells map[int64]cellXML) bool {
	if len(cells) == 0 {
		return true
	}
	for _, c := range cells {
		if strings.TrimSpace(c.V) != "" || (c.Is != nil && strings.TrimSpace(c.Is.T) != "") {
			return false
		}
	}
	return true
}

// resolveCellText resolves a cell's formatted text: inline strings, shared
// strings, and formula cached values are all acceptable sources.
func resolveCellText(c cellXML, pkg *Package) string {
	if c.Is != nil {
		return c.Is.T
	}
	switch c.T {
	case "s":
		var idx int
		fmt.Sscanf(c.V, "%d", &idx)
		return pkg.sharedString(idx)
	case "str", "b", "":
		return c.V
	default:
		return c.V
	}
}

// bindRow converts one sheet row into a Row, normalizing every mapped
// column and probing its converter, matching each cell to its descriptor
// field by external column name.
func bindRow(sheetName string, rowNum int64, cells map[int64]cellXML, pkg *Package, headerMap map[int64]string, desc *descriptor.Descriptor) Row {
	out := Row{SheetName: sheetName, RowNum: rowNum, Cells: map[int64]string{}, Raw: map[string]string{}, Normalized: map[string]string{}}
	var parseErrs []string

	for col, extName := range headerMap {
		c, present := cells[col]
		raw := ""
		if present {
			raw = resolveCellText(c, pkg)
		}
		out.Raw[extName] = raw

		field, ok := desc.FieldByName(extName)
		if !ok {
			out.Cells[col] = raw
			continue
		}

		normalized := normalize.Cell(raw, normalize.Kind{IsIdentifier: field.IsIdentifier, IsDate: field.IsDate})
		out.Cells[col] = normalized
		if field.IsIdentifier || field.IsDate {
			out.Normalized[extName] = normalized
		}

		if normalized == "" {
			continue // empty cells produce the target field's zero/null, no conversion attempted
		}
		if _, err := descriptor.Convert(field, normalized); err != nil {
			parseErrs = append(parseErrs, fmt.Sprintf("%s: %v", extName, err))
		}
	}

	if len(parseErrs) > 0 {
		out.ParseError = strings.Join(parseErrs, "; ")
	}
	return out
}

// splitCellRefOrRowAttr parses either a full cell ref ("A5") or a bare row
// number ("5") as found in a <row r="5"> attribute.
func splitCellRefOrRowAttr(v string) (col int64, row int64, err error) {
	if v == "" {
		return 0, 0, fmt.Errorf("empty row attr")
	}
	allDigits := true
	for _, c := range v {
		if c < '0' || c > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		var n int64
		fmt.Sscanf(v, "%d", &n)
		return 0, n, nil
	}
	return splitCellRef(v)
}

// startMemoryMonitor launches the heap-sampling daemon. It is pure
// observation: it never holds a lock a producer or worker may wait on and
// never throttles the reader; its only escalation is a GC hint and a log
// line.
func startMemoryMonitor(ctx context.Context, opts Options) (stop func()) {
	if !opts.EnableMemoryMonitoring {
		return func() {}
	}
	interval := opts.MemoryMonitorInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		thresholdBytes := uint64(opts.MemoryThresholdMB) * 1024 * 1024
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				usedMB := ms.HeapAlloc / (1024 * 1024)
				totalMB := ms.Sys / (1024 * 1024)
				if opts.OnMemorySample != nil {
					opts.OnMemorySample(usedMB, totalMB)
				}
				if thresholdBytes == 0 {
					continue
				}
				ratio := float64(ms.HeapAlloc) / float64(thresholdBytes)
				switch {
				case ratio > 0.95:
					slog.Warn("memory monitor: heap usage critical, requesting GC", "used_mb", usedMB, "threshold_mb", opts.MemoryThresholdMB)
					runtime.GC()
				case ratio > 0.80:
					slog.Warn("memory monitor: heap usage elevated", "used_mb", usedMB, "threshold_mb", opts.MemoryThresholdMB)
				}
			}
		}
	}()
	return func() { close(done) }
}
