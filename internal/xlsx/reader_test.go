package xlsx

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dangthobach/excel-migration-engine/internal/migration/migerr"
)

type testRecord struct {
	Code    string `xlsx:"code,identifier,required"`
	DocDate string `xlsx:"doc_date,date"`
	Qty     int64  `xlsx:"qty"`
}

type sheetDef struct {
	name string
	rows [][]string // row 0 is the header row
}

// buildWorkbook assembles a minimal xlsx package in memory: workbook.xml,
// its relationships, and one worksheet part per sheet, all cells inline
// strings.
func buildWorkbook(t *testing.T, sheets []sheetDef) *zip.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var wbSheets, rels strings.Builder
	for i, s := range sheets {
		fmt.Fprintf(&wbSheets, `<sheet name="%s" sheetId="%d" r:id="rId%d"/>`, s.name, i+1, i+1)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet%d.xml"/>`, i+1, i+1)
	}

	writePart(t, zw, "xl/workbook.xml", fmt.Sprintf(
		`<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><sheets>%s</sheets></workbook>`,
		wbSheets.String()))
	writePart(t, zw, "xl/_rels/workbook.xml.rels", fmt.Sprintf(
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">%s</Relationships>`,
		rels.String()))

	for i, s := range sheets {
		var sheetXML strings.Builder
		lastCol := 'A'
		for _, row := range s.rows {
			if c := rune('A' + len(row) - 1); c > lastCol {
				lastCol = c
			}
		}
		fmt.Fprintf(&sheetXML, `<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><dimension ref="A1:%c%d"/><sheetData>`, lastCol, len(s.rows))
		for r, row := range s.rows {
			fmt.Fprintf(&sheetXML, `<row r="%d">`, r+1)
			for c, val := range row {
				if val == "" {
					continue
				}
				fmt.Fprintf(&sheetXML, `<c r="%c%d" t="inlineStr"><is><t>%s</t></is></c>`, rune('A'+c), r+1, val)
			}
			sheetXML.WriteString(`</row>`)
		}
		sheetXML.WriteString(`</sheetData></worksheet>`)
		writePart(t, zw, fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1), sheetXML.String())
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("reopen zip: %v", err)
	}
	return zr
}

func writePart(t *testing.T, zw *zip.Writer, name, content string) {
	t.Helper()
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func openTestPackage(t *testing.T, sheets []sheetDef) *Package {
	t.Helper()
	pkg, err := OpenPackage(buildWorkbook(t, sheets))
	if err != nil {
		t.Fatalf("OpenPackage: %v", err)
	}
	return pkg
}

func collectSink(batches *[]Batch) Sink {
	return func(_ context.Context, b Batch) error {
		*batches = append(*batches, b)
		return nil
	}
}

func TestRead_SingleSheet(t *testing.T) {
	pkg := openTestPackage(t, []sheetDef{{
		name: "Data",
		rows: [][]string{
			{"code", "doc_date", "qty"},
			{"U001", "2023-01-15", "3"},
			{"U002", "2023-02-20", "7"},
			{"U003", "2023-03-25", "1"},
		},
	}})

	opts := DefaultOptions()
	opts.BatchSize = 2
	opts.EnableMemoryMonitoring = false

	var batches []Batch
	res, err := Read(context.Background(), pkg, testRecord{}, opts, collectSink(&batches))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Processed != 3 {
		t.Errorf("Processed = %d, want 3", res.Processed)
	}
	if res.Errored != 0 {
		t.Errorf("Errored = %d, want 0", res.Errored)
	}
	if len(batches) != 2 {
		t.Fatalf("sink called %d times, want 2 (batch of 2 then flush of 1)", len(batches))
	}
	first := batches[0].Rows[0]
	if first.RowNum != 2 {
		t.Errorf("first data row RowNum = %d, want 2 (header is row 1)", first.RowNum)
	}
	if got := first.Raw["code"]; got != "U001" {
		t.Errorf("Raw[code] = %q, want U001", got)
	}
	if got := first.Normalized["doc_date"]; got != "2023-01-15" {
		t.Errorf("Normalized[doc_date] = %q, want unchanged canonical date", got)
	}
}

func TestRead_IdentifierNormalization(t *testing.T) {
	pkg := openTestPackage(t, []sheetDef{{
		name: "Data",
		rows: [][]string{
			{"code", "doc_date", "qty"},
			{"1.234567E+11", "01/15/23", "5"},
		},
	}})

	opts := DefaultOptions()
	opts.EnableMemoryMonitoring = false

	var batches []Batch
	if _, err := Read(context.Background(), pkg, testRecord{}, opts, collectSink(&batches)); err != nil {
		t.Fatalf("Read: %v", err)
	}
	row := batches[0].Rows[0]
	if got := row.Normalized["code"]; got != "123456700000" {
		t.Errorf("Normalized[code] = %q, want scientific notation expanded to 123456700000", got)
	}
	if got := row.Normalized["doc_date"]; got != "01/15/2023" {
		t.Errorf("Normalized[doc_date] = %q, want two-digit year expanded to 01/15/2023", got)
	}
}

func TestRead_ParseErrorPreservesRow(t *testing.T) {
	pkg := openTestPackage(t, []sheetDef{{
		name: "Data",
		rows: [][]string{
			{"code", "doc_date", "qty"},
			{"U001", "2023-01-15", "not-a-number"},
			{"U002", "2023-01-16", "4"},
		},
	}})

	opts := DefaultOptions()
	opts.EnableMemoryMonitoring = false

	var batches []Batch
	res, err := Read(context.Background(), pkg, testRecord{}, opts, collectSink(&batches))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Processed != 2 {
		t.Errorf("Processed = %d, want 2 (bad row still emitted)", res.Processed)
	}
	if res.Errored != 1 {
		t.Errorf("Errored = %d, want 1", res.Errored)
	}
	bad := batches[0].Rows[0]
	if bad.ParseError == "" || !strings.Contains(bad.ParseError, "qty") {
		t.Errorf("ParseError = %q, want mention of the qty column", bad.ParseError)
	}
	if batches[0].Rows[1].ParseError != "" {
		t.Errorf("good row carries ParseError %q", batches[0].Rows[1].ParseError)
	}
}

func TestRead_MaxRowsAborts(t *testing.T) {
	pkg := openTestPackage(t, []sheetDef{{
		name: "Data",
		rows: [][]string{
			{"code", "doc_date", "qty"},
			{"U001", "2023-01-15", "1"},
			{"U002", "2023-01-16", "2"},
			{"U003", "2023-01-17", "3"},
		},
	}})

	opts := DefaultOptions()
	opts.EnableMemoryMonitoring = false
	opts.MaxRows = 2

	var batches []Batch
	_, err := Read(context.Background(), pkg, testRecord{}, opts, collectSink(&batches))
	var limitErr *migerr.RowLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Read error = %v, want *migerr.RowLimitError", err)
	}
	if limitErr.AtRow != 3 {
		t.Errorf("AtRow = %d, want 3 (limit of 2 trips on the third data row)", limitErr.AtRow)
	}
}

func TestRead_MultiSheet(t *testing.T) {
	pkg := openTestPackage(t, []sheetDef{
		{name: "First", rows: [][]string{
			{"code", "doc_date", "qty"},
			{"A1", "2023-01-01", "1"},
			{"A2", "2023-01-02", "2"},
		}},
		{name: "Second", rows: [][]string{
			{"code", "doc_date", "qty"},
			{"B1", "2023-02-01", "3"},
		}},
	})

	opts := DefaultOptions()
	opts.EnableMemoryMonitoring = false
	opts.ReadAllSheets = true

	var batches []Batch
	res, err := Read(context.Background(), pkg, testRecord{}, opts, collectSink(&batches))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Processed != 3 {
		t.Errorf("Processed = %d, want 3 across both sheets", res.Processed)
	}
	if len(batches) != 2 {
		t.Fatalf("sink called %d times, want one batch per sheet", len(batches))
	}
	if batches[0].SheetName != "First" || batches[1].SheetName != "Second" {
		t.Errorf("batch sheet order = [%s, %s], want workbook order", batches[0].SheetName, batches[1].SheetName)
	}
}

func TestRead_SheetSubset(t *testing.T) {
	pkg := openTestPackage(t, []sheetDef{
		{name: "Skip", rows: [][]string{
			{"code", "doc_date", "qty"},
			{"X1", "2023-01-01", "1"},
		}},
		{name: "Keep", rows: [][]string{
			{"code", "doc_date", "qty"},
			{"K1", "2023-02-01", "2"},
		}},
	})

	opts := DefaultOptions()
	opts.EnableMemoryMonitoring = false
	opts.SheetNames = []string{"Keep"}

	var batches []Batch
	res, err := Read(context.Background(), pkg, testRecord{}, opts, collectSink(&batches))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Processed != 1 {
		t.Errorf("Processed = %d, want 1 (only the named sheet)", res.Processed)
	}
	if len(batches) != 1 || batches[0].SheetName != "Keep" {
		t.Fatalf("batches = %+v, want a single batch from Keep", batches)
	}
}

func TestRead_SinkErrorPropagates(t *testing.T) {
	pkg := openTestPackage(t, []sheetDef{{
		name: "Data",
		rows: [][]string{
			{"code", "doc_date", "qty"},
			{"U001", "2023-01-15", "1"},
		},
	}})

	opts := DefaultOptions()
	opts.EnableMemoryMonitoring = false

	boom := errors.New("sink rejected batch")
	_, err := Read(context.Background(), pkg, testRecord{}, opts, func(context.Context, Batch) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Read error = %v, want the sink's error", err)
	}
}
