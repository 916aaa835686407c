// Package prevalidate is a cheap pre-flight pass that pull-parses only the
// <dimension ref> element of each sheet, rejecting oversize workbooks before
// a single row is ingested. It never buffers a sheet's row data.
package prevalidate

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/dangthobach/excel-migration-engine/internal/migration/migerr"
)

// SheetDimension is the (firstRow, lastRow, firstCol, lastCol) extent parsed
// from a sheet's <dimension ref="A1:Z100"/> element.
type SheetDimension struct {
	SheetName         string
	FirstRow, LastRow int64
	FirstCol, LastCol int64
}

// DataRowCount returns lastRow - firstRow + 1 - headerRows, floored at zero.
func (d SheetDimension) DataRowCount(headerRows int64) int64 {
	n := d.LastRow - d.FirstRow + 1 - headerRows
	if n < 0 {
		return 0
	}
	return n
}

var cellRefRE = regexp.MustCompile(`^([A-Z]+)(\d+):([A-Z]+)(\d+)$`)

// Scan opens the zip-packed workbook without buffering sheet bodies and
// returns each sheet's dimension extent; the order of the returned slice
// follows map iteration and is not defined. sheetPartsByName
// maps a worksheet's display name to its zip part path (e.g.
// "xl/worksheets/sheet1.xml"), as resolved from workbook.xml + the
// relationship file by the caller.
func Scan(zr *zip.Reader, sheetPartsByName map[string]string) ([]SheetDimension, error) {
	dims := make([]SheetDimension, 0, len(sheetPartsByName))
	for name, part := range sheetPartsByName {
		d, err := scanOne(zr, name, part)
		if err != nil {
			return nil, fmt.Errorf("prevalidate sheet %q: %w", name, err)
		}
		dims = append(dims, d)
	}
	return dims, nil
}

func scanOne(zr *zip.Reader, sheetName, part string) (SheetDimension, error) {
	f, err := zr.Open(part)
	if err != nil {
		return SheetDimension{}, err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return SheetDimension{}, fmt.Errorf("no dimension element found")
		}
		if err != nil {
			return SheetDimension{}, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "dimension" {
			continue
		}
		for _, attr := range se.Attr {
			if attr.Name.Local != "ref" {
				continue
			}
			return parseDimension(sheetName, attr.Value)
		}
		return SheetDimension{}, fmt.Errorf("dimension element missing ref attribute")
	}
}

func parseDimension(sheetName, ref string) (SheetDimension, error) {
	// Single-cell dimension, e.g. "A1" for an empty sheet.
	if !strings.Contains(ref, ":") {
		row, _, err := splitCellRef(ref)
		if err != nil {
			return SheetDimension{}, err
		}
		return SheetDimension{SheetName: sheetName, FirstRow: row, LastRow: row, FirstCol: 1, LastCol: 1}, nil
	}
	m := cellRefRE.FindStringSubmatch(ref)
	if m == nil {
		return SheetDimension{}, fmt.Errorf("unparseable dimension ref %q", ref)
	}
	firstRow, _ := strconv.ParseInt(m[2], 10, 64)
	lastRow, _ := strconv.ParseInt(m[4], 10, 64)
	return SheetDimension{
		SheetName: sheetName,
		FirstCol:  colToIndex(m[1]),
		FirstRow:  firstRow,
		LastCol:   colToIndex(m[3]),
		LastRow:   lastRow,
	}, nil
}

func splitCellRef(ref string) (row int64, col int64, err error) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("unparseable cell ref %q", ref)
	}
	r, err := strconv.ParseInt(ref[i:], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return r, colToIndex(ref[:i]), nil
}

func colToIndex(col string) int64 {
	var n int64
	for _, c := range col {
		n = n*26 + int64(c-'A'+1)
	}
	return n
}

// Caps holds two independent gates: a per-job total and a per-sheet cap.
// Both must pass.
type Caps struct {
	PerJob   int64 // 0 = unbounded
	PerSheet int64
	Header   int64
}

// Check validates every sheet's dimension against Caps.PerSheet and the sum
// of all sheets against Caps.PerJob, returning one aggregate error listing
// every violating sheet.
func Check(dims []SheetDimension, caps Caps) error {
	violations := map[string]int64{}
	var total int64
	for _, d := range dims {
		count := d.DataRowCount(caps.Header)
		total += count
		if caps.PerSheet > 0 && count > caps.PerSheet {
			violations[d.SheetName] = count
		}
	}
	if caps.PerJob > 0 && total > caps.PerJob {
		violations["__job_total__"] = total
	}
	if len(violations) > 0 {
		return &migerr.SheetCapError{Violations: violations, Cap: caps.PerSheet}
	}
	return nil
}
