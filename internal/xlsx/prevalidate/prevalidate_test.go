package prevalidate

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/dangthobach/excel-migration-engine/internal/migration/migerr"
)

func buildSheets(t *testing.T, dims map[string]string) (*zip.Reader, map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := map[string]string{}
	i := 0
	for name, ref := range dims {
		i++
		part := "xl/worksheets/sheet" + string(rune('0'+i)) + ".xml"
		parts[name] = part
		w, err := zw.Create(part)
		if err != nil {
			t.Fatalf("create %s: %v", part, err)
		}
		xml := `<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><dimension ref="` + ref + `"/><sheetData/></worksheet>`
		if _, err := w.Write([]byte(xml)); err != nil {
			t.Fatalf("write %s: %v", part, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("reopen zip: %v", err)
	}
	return zr, parts
}

func TestScan_ParsesDimensions(t *testing.T) {
	zr, parts := buildSheets(t, map[string]string{"Data": "A1:D101"})
	dims, err := Scan(zr, parts)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(dims) != 1 {
		t.Fatalf("len(dims) = %d, want 1", len(dims))
	}
	d := dims[0]
	if d.FirstRow != 1 || d.LastRow != 101 || d.FirstCol != 1 || d.LastCol != 4 {
		t.Errorf("dimension = %+v, want rows 1-101 cols 1-4", d)
	}
	if got := d.DataRowCount(1); got != 100 {
		t.Errorf("DataRowCount(1) = %d, want 100", got)
	}
}

func TestScan_SingleCellDimension(t *testing.T) {
	zr, parts := buildSheets(t, map[string]string{"Empty": "A1"})
	dims, err := Scan(zr, parts)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := dims[0].DataRowCount(1); got != 0 {
		t.Errorf("DataRowCount(1) on an empty sheet = %d, want 0", got)
	}
}

func TestScan_MissingDimension(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("xl/worksheets/sheet1.xml")
	w.Write([]byte(`<worksheet><sheetData/></worksheet>`))
	zw.Close()
	zr, _ := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))

	_, err := Scan(zr, map[string]string{"Bad": "xl/worksheets/sheet1.xml"})
	if err == nil || !strings.Contains(err.Error(), "no dimension") {
		t.Errorf("Scan error = %v, want a no-dimension failure", err)
	}
}

func TestCheck_PerSheetCap(t *testing.T) {
	dims := []SheetDimension{
		{SheetName: "Small", FirstRow: 1, LastRow: 11},
		{SheetName: "Big", FirstRow: 1, LastRow: 20001},
	}
	err := Check(dims, Caps{PerSheet: 10000, Header: 1})
	var capErr *migerr.SheetCapError
	if !errors.As(err, &capErr) {
		t.Fatalf("Check error = %v, want *migerr.SheetCapError", err)
	}
	if _, ok := capErr.Violations["Big"]; !ok {
		t.Errorf("Violations = %v, want Big listed", capErr.Violations)
	}
	if _, ok := capErr.Violations["Small"]; ok {
		t.Errorf("Violations = %v, Small is under the cap and must not appear", capErr.Violations)
	}
}

func TestCheck_PerJobCap(t *testing.T) {
	dims := []SheetDimension{
		{SheetName: "A", FirstRow: 1, LastRow: 61},
		{SheetName: "B", FirstRow: 1, LastRow: 61},
	}
	// Each sheet is under the per-sheet cap but their sum trips the job cap.
	err := Check(dims, Caps{PerSheet: 100, PerJob: 100, Header: 1})
	var capErr *migerr.SheetCapError
	if !errors.As(err, &capErr) {
		t.Fatalf("Check error = %v, want *migerr.SheetCapError", err)
	}
}

func TestCheck_UnderCaps(t *testing.T) {
	dims := []SheetDimension{{SheetName: "OK", FirstRow: 1, LastRow: 50}}
	if err := Check(dims, Caps{PerSheet: 100, PerJob: 1000, Header: 1}); err != nil {
		t.Errorf("Check = %v, want nil for a workbook under both caps", err)
	}
}
