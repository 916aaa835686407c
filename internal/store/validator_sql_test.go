package store

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records every statement without touching a database, enough to
// assert the generated SQL's shape and argument passing.
type fakeDB struct {
	statements []string
	args       [][]any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return nil
}

func TestInsertRequiredFieldErrors_SQLShape(t *testing.T) {
	db := &fakeDB{}
	if _, err := InsertRequiredFieldErrors(context.Background(), db, "job1"); err != nil {
		t.Fatalf("InsertRequiredFieldErrors: %v", err)
	}
	if len(db.statements) != 1 {
		t.Fatalf("executed %d statements, want exactly one bulk statement", len(db.statements))
	}
	sql := db.statements[0]
	if !strings.Contains(sql, "INSERT INTO staging_error") {
		t.Error("statement must insert into staging_error")
	}
	if !strings.Contains(sql, "CASE") {
		t.Error("statement must use a CASE chain to name the first offending column")
	}
	for _, col := range RequiredFields {
		if !strings.Contains(sql, col) {
			t.Errorf("statement does not mention required column %s", col)
		}
	}
	if db.args[0][0] != "job1" {
		t.Errorf("args = %v, want the job id bound as $1", db.args[0])
	}
}

func TestInsertDateFormatErrors_OneStatementPerColumn(t *testing.T) {
	db := &fakeDB{}
	if _, err := InsertDateFormatErrors(context.Background(), db, "job1"); err != nil {
		t.Fatalf("InsertDateFormatErrors: %v", err)
	}
	if len(db.statements) != len(DateFields) {
		t.Fatalf("executed %d statements, want one per date column (%d)", len(db.statements), len(DateFields))
	}
	for i, sql := range db.statements {
		if !strings.Contains(sql, `\d{4}-\d{2}-\d{2}`) {
			t.Error("date check must match the YYYY-MM-DD pattern")
		}
		if !strings.Contains(sql, "se.row_num IS NULL") {
			t.Error("rule must skip rows already in staging_error")
		}
		if !strings.Contains(sql, "r."+DateFields[i].Name+"_norm") {
			t.Errorf("statement %d must validate the normalized twin of %s", i, DateFields[i].Name)
		}
	}
}

func TestInsertMasterRefErrors_UsesLeftJoinAntiJoin(t *testing.T) {
	db := &fakeDB{}
	if _, err := InsertMasterRefErrors(context.Background(), db, "job1"); err != nil {
		t.Fatalf("InsertMasterRefErrors: %v", err)
	}
	if len(db.statements) != len(ReferenceColumns) {
		t.Fatalf("executed %d statements, want one per reference column (%d)", len(db.statements), len(ReferenceColumns))
	}
	for i, sql := range db.statements {
		ref := ReferenceColumns[i]
		if !strings.Contains(sql, "LEFT JOIN "+ref.Table) {
			t.Errorf("statement %d must LEFT JOIN %s", i, ref.Table)
		}
		if !strings.Contains(sql, "r."+ref.Column+"_norm") {
			t.Errorf("statement %d must join on the normalized twin of %s", i, ref.Column)
		}
		if strings.Contains(sql, "NOT EXISTS") {
			t.Errorf("statement %d uses NOT EXISTS; the anti-join must be LEFT JOIN ... IS NULL", i)
		}
		if !strings.Contains(sql, ".id IS NULL") {
			t.Errorf("statement %d must filter on the master id being NULL", i)
		}
		if !strings.Contains(sql, "is_active") {
			t.Errorf("statement %d must only match active master rows", i)
		}
	}
}

func TestInsertInFileDupErrors_WindowsOverBusinessKey(t *testing.T) {
	db := &fakeDB{}
	if _, err := InsertInFileDupErrors(context.Background(), db, "job1"); err != nil {
		t.Fatalf("InsertInFileDupErrors: %v", err)
	}
	sql := db.statements[0]
	if !strings.Contains(sql, "row_number() OVER (PARTITION BY") {
		t.Error("in-file dedup must window over the business key")
	}
	for _, col := range NormalizedBusinessKeyColumns {
		if !strings.Contains(sql, "r."+col) {
			t.Errorf("partition must include normalized business key column %s", col)
		}
	}
	if !strings.Contains(sql, "rn > 1") {
		t.Error("only occurrences after the first may be flagged")
	}
	if !strings.Contains(sql, "first_row") {
		t.Error("the first occurrence's row number must be recorded in the message")
	}
}

func TestPromoteValidRows_ExcludesErroredAndParseFailed(t *testing.T) {
	db := &fakeDB{}
	if _, err := PromoteValidRows(context.Background(), db, "job1"); err != nil {
		t.Fatalf("PromoteValidRows: %v", err)
	}
	sql := db.statements[0]
	if !strings.Contains(sql, "INSERT INTO staging_valid") {
		t.Error("promotion must insert into staging_valid")
	}
	if !strings.Contains(sql, "se.row_num IS NULL") {
		t.Error("promotion must exclude rows with a staging_error")
	}
	if !strings.Contains(sql, "parse_errors IS NULL") {
		t.Error("promotion must exclude rows with parse errors")
	}
	if !strings.Contains(sql, "ON CONFLICT (job_id, row_num) DO NOTHING") {
		t.Error("promotion must be idempotent")
	}
	for _, col := range []string{"ma_don_vi_norm", "ma_thung_norm", "ma_kho_norm", "ma_loai_tai_lieu_norm", "ma_thoi_han_luu_tru_norm", "ngay_chung_tu_norm", "ngay_den_han_norm", "ngay_ban_giao_norm", "so_luong_tap_norm"} {
		if !strings.Contains(sql, "r."+col) {
			t.Errorf("promotion must read the normalized twin %s", col)
		}
	}
}

func TestApplyBusinessRows_ConditionalInsert(t *testing.T) {
	db := &fakeDB{}
	if _, err := ApplyBusinessRows(context.Background(), db, "job1"); err != nil {
		t.Fatalf("ApplyBusinessRows: %v", err)
	}
	sql := db.statements[0]
	if !strings.Contains(sql, "NOT EXISTS") {
		t.Error("apply must be a conditional insert guarded by NOT EXISTS")
	}
	if !strings.Contains(sql, "SELECT DISTINCT") {
		t.Error("apply must deduplicate the staged candidates")
	}
}
