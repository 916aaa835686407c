package migration

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dangthobach/excel-migration-engine/internal/config"
	"github.com/dangthobach/excel-migration-engine/internal/migration/migerr"
)

// recordingDB hands out transactions that record every statement instead of
// touching a database, enough to observe batch commits and the abort
// cleanup.
type recordingDB struct {
	mu         sync.Mutex
	statements []string
	args       [][]any
	commits    int
	copiedRows int
}

func (db *recordingDB) Begin(context.Context) (pgx.Tx, error) {
	return &recordingTx{db: db}, nil
}

func (db *recordingDB) record(sql string, args []any) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.statements = append(db.statements, sql)
	db.args = append(db.args, args)
}

// recordingTx embeds the pgx.Tx interface for the methods the ingest path
// never calls; those would panic if reached.
type recordingTx struct {
	pgx.Tx
	db *recordingDB
}

func (t *recordingTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.db.record(sql, args)
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func (t *recordingTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	var n int64
	for src.Next() {
		if _, err := src.Values(); err != nil {
			return n, err
		}
		n++
	}
	t.db.mu.Lock()
	t.db.copiedRows += int(n)
	t.db.mu.Unlock()
	return n, nil
}

func (t *recordingTx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.commits++
	return nil
}

func (t *recordingTx) Rollback(context.Context) error { return nil }

func buildAbortWorkbook(t *testing.T, dataRows int) *zip.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, content string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	write("xl/workbook.xml",
		`<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><sheets><sheet name="Data" sheetId="1" r:id="rId1"/></sheets></workbook>`)
	write("xl/_rels/workbook.xml.rels",
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/></Relationships>`)

	headers := []string{"ma_don_vi", "ma_thung", "ma_kho", "ma_loai_tai_lieu", "ngay_chung_tu", "so_luong_tap"}
	var sheet strings.Builder
	fmt.Fprintf(&sheet, `<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><dimension ref="A1:F%d"/><sheetData>`, dataRows+1)
	sheet.WriteString(`<row r="1">`)
	for c, h := range headers {
		fmt.Fprintf(&sheet, `<c r="%c1" t="inlineStr"><is><t>%s</t></is></c>`, rune('A'+c), h)
	}
	sheet.WriteString(`</row>`)
	for i := 0; i < dataRows; i++ {
		r := i + 2
		vals := []string{fmt.Sprintf("U%03d", i), fmt.Sprintf("B%03d", i), "WH1", "HOP_DONG", "2023-01-15", "1"}
		fmt.Fprintf(&sheet, `<row r="%d">`, r)
		for c, v := range vals {
			fmt.Fprintf(&sheet, `<c r="%c%d" t="inlineStr"><is><t>%s</t></is></c>`, rune('A'+c), r, v)
		}
		sheet.WriteString(`</row>`)
	}
	sheet.WriteString(`</sheetData></worksheet>`)
	write("xl/worksheets/sheet1.xml", sheet.String())

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("reopen zip: %v", err)
	}
	return zr
}

// A row-limit abort must leave no staging_raw rows behind, even though
// earlier batches were already committed in their own transactions.
func TestIngestRun_MaxRowsAbortCleansStagedRows(t *testing.T) {
	za := buildAbortWorkbook(t, 5)
	db := &recordingDB{}

	svc := &IngestService{DB: db, Cfg: &config.ReaderConfig{
		BatchSize:      1, // every row commits its own batch before the limit trips
		MaxRows:        2,
		StartRow:       1,
		PerSheetRowCap: 10000,
	}}

	_, err := svc.Run(context.Background(), "JOB_X", za, false, nil)
	var limitErr *migerr.RowLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Run error = %v, want *migerr.RowLimitError", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.copiedRows == 0 {
		t.Fatal("expected earlier batches to have been flushed before the limit tripped")
	}
	var deleted bool
	for i, sql := range db.statements {
		if strings.Contains(sql, "DELETE FROM staging_raw") {
			deleted = true
			if len(db.args[i]) != 1 || db.args[i][0] != "JOB_X" {
				t.Errorf("cleanup args = %v, want the aborted job id", db.args[i])
			}
		}
	}
	if !deleted {
		t.Error("aborted ingest must delete the job's staging_raw rows")
	}
}

// A successful run must never run the abort cleanup.
func TestIngestRun_SuccessKeepsStagedRows(t *testing.T) {
	za := buildAbortWorkbook(t, 3)
	db := &recordingDB{}

	svc := &IngestService{DB: db, Cfg: &config.ReaderConfig{
		BatchSize:      2,
		StartRow:       1,
		PerSheetRowCap: 10000,
	}}

	res, err := svc.Run(context.Background(), "JOB_Y", za, false, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Processed != 3 {
		t.Errorf("Processed = %d, want 3", res.Processed)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.copiedRows != 3 {
		t.Errorf("copied %d rows to staging_raw, want 3", db.copiedRows)
	}
	for _, sql := range db.statements {
		if strings.Contains(sql, "DELETE FROM staging_raw") {
			t.Error("successful ingest must not delete staged rows")
		}
	}
}
