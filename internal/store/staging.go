package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

var stagingRawColumns = []string{
	"job_id", "sheet_name", "row_num", "created_at",
	"ma_don_vi", "ma_don_vi_norm", "ma_thung", "ma_thung_norm",
	"ma_kho", "ma_kho_norm", "ma_loai_tai_lieu", "ma_loai_tai_lieu_norm",
	"ma_thoi_han_luu_tru", "ma_thoi_han_luu_tru_norm",
	"ngay_chung_tu", "ngay_chung_tu_norm", "ngay_den_han", "ngay_den_han_norm",
	"ngay_ban_giao", "ngay_ban_giao_norm", "so_luong_tap", "so_luong_tap_norm",
	"trang_thai_ho_so", "trang_thai_thung", "tinh_trang_thung",
	"khu_vuc", "vi_tri_hang", "vi_tri_cot", "ghi_chu", "parse_errors",
}

func stagingRawCopyRow(r StagingRaw) []any {
	col := func(k string) string { return r.Columns[k] }
	// Fields the reader doesn't normalize (plain numerics like so_luong_tap)
	// still get a twin so every matching rule can join on _norm columns
	// uniformly; for those the canonical text is the raw text.
	norm := func(k string) string {
		if v, ok := r.Normalized[k]; ok {
			return v
		}
		return r.Columns[k]
	}
	return []any{
		r.JobID, r.SheetName, r.RowNum, r.CreatedAt,
		col("ma_don_vi"), norm("ma_don_vi"), col("ma_thung"), norm("ma_thung"),
		col("ma_kho"), norm("ma_kho"), col("ma_loai_tai_lieu"), norm("ma_loai_tai_lieu"),
		col("ma_thoi_han_luu_tru"), norm("ma_thoi_han_luu_tru"),
		col("ngay_chung_tu"), norm("ngay_chung_tu"), col("ngay_den_han"), norm("ngay_den_han"),
		col("ngay_ban_giao"), norm("ngay_ban_giao"), col("so_luong_tap"), norm("so_luong_tap"),
		col("trang_thai_ho_so"), col("trang_thai_thung"), col("tinh_trang_thung"),
		col("khu_vuc"), col("vi_tri_hang"), col("vi_tri_cot"), col("ghi_chu"), r.ParseErrors,
	}
}

// InsertStagingRawBatch bulk-inserts one ingest batch. It tries COPY first
// (fastest, all-or-nothing per batch), falls back to a single batch
// savepoint with plain INSERTs, then to per-row savepoints so a handful of
// bad rows don't sink the whole batch. Returns the rows that could not be
// inserted even row-by-row.
func InsertStagingRawBatch(ctx context.Context, tx Tx, batch []StagingRaw) (failed []StagingRaw, err error) {
	if len(batch) == 0 {
		return nil, nil
	}

	if f, copyErr := insertStagingRawWithCopy(ctx, tx, batch); copyErr == nil {
		if len(f) == 0 {
			return nil, nil
		}
		batch = f
	} else {
		slog.Warn("store: staging_raw COPY failed, falling back to savepoint insert", "error", copyErr)
	}

	if _, spErr := tx.Exec(ctx, "SAVEPOINT staging_batch_sp"); spErr != nil {
		return insertStagingRawRowByRow(ctx, tx, batch)
	}

	allOK := true
	for _, r := range batch {
		if _, err := tx.Exec(ctx, insertStagingRawSQL(), stagingRawCopyRow(r)...); err != nil {
			allOK = false
			break
		}
	}
	if allOK {
		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT staging_batch_sp")
		return nil, nil
	}
	_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT staging_batch_sp")
	_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT staging_batch_sp")
	return insertStagingRawRowByRow(ctx, tx, batch)
}

func insertStagingRawWithCopy(ctx context.Context, tx Tx, batch []StagingRaw) ([]StagingRaw, error) {
	if _, err := tx.Exec(ctx, "SAVEPOINT staging_copy_sp"); err != nil {
		return batch, err
	}

	rows := make([][]any, len(batch))
	for i, r := range batch {
		rows[i] = stagingRawCopyRow(r)
	}

	_, err := tx.CopyFrom(ctx, pgx.Identifier{"staging_raw"}, stagingRawColumns, pgx.CopyFromRows(rows))
	if err != nil {
		_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT staging_copy_sp")
		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT staging_copy_sp")
		return batch, err
	}
	_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT staging_copy_sp")
	return nil, nil
}

func insertStagingRawRowByRow(ctx context.Context, tx Tx, batch []StagingRaw) ([]StagingRaw, error) {
	var failed []StagingRaw
	sql := insertStagingRawSQL()
	for i, r := range batch {
		spName := fmt.Sprintf("staging_row_sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+spName); err != nil {
			failed = append(failed, r)
			continue
		}
		if _, err := tx.Exec(ctx, sql, stagingRawCopyRow(r)...); err != nil {
			_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+spName)
			failed = append(failed, r)
		}
		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+spName)
	}
	return failed, nil
}

func insertStagingRawSQL() string {
	return `INSERT INTO staging_raw (
		job_id, sheet_name, row_num, created_at,
		ma_don_vi, ma_don_vi_norm, ma_thung, ma_thung_norm,
		ma_kho, ma_kho_norm, ma_loai_tai_lieu, ma_loai_tai_lieu_norm,
		ma_thoi_han_luu_tru, ma_thoi_han_luu_tru_norm,
		ngay_chung_tu, ngay_chung_tu_norm, ngay_den_han, ngay_den_han_norm,
		ngay_ban_giao, ngay_ban_giao_norm, so_luong_tap, so_luong_tap_norm,
		trang_thai_ho_so, trang_thai_thung, tinh_trang_thung,
		khu_vuc, vi_tri_hang, vi_tri_cot, ghi_chu, parse_errors
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)
	ON CONFLICT (job_id, sheet_name, row_num) DO NOTHING`
}

// DeleteStagingRawForJob removes every staging_raw row of one job, used when
// ingest aborts so a failed job leaves no partial staging state behind.
func DeleteStagingRawForJob(ctx context.Context, db DBTX, jobID string) (int64, error) {
	tag, err := db.Exec(ctx, `DELETE FROM staging_raw WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, fmt.Errorf("store: delete staging_raw for job: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountStagingRaw returns the number of staging_raw rows for a job (used by
// the Reconciler and job-status endpoint).
func CountStagingRaw(ctx context.Context, db DBTX, jobID string) (int64, error) {
	var n int64
	err := db.QueryRow(ctx, `SELECT count(*) FROM staging_raw WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count staging_raw: %w", err)
	}
	return n, nil
}

// CountStagingValid returns the number of staging_valid rows for a job.
func CountStagingValid(ctx context.Context, db DBTX, jobID string) (int64, error) {
	var n int64
	err := db.QueryRow(ctx, `SELECT count(*) FROM staging_valid WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count staging_valid: %w", err)
	}
	return n, nil
}

// RepresentativeErrors returns up to limit StagingError rows for a job, in
// row order.
func RepresentativeErrors(ctx context.Context, db DBTX, jobID string, limit int) ([]StagingError, error) {
	rows, err := db.Query(ctx, `
		SELECT job_id, row_num, sheet_name, error_type, error_field, error_value, error_message, raw_breadcrumb, created_at
		FROM staging_error WHERE job_id = $1 ORDER BY row_num LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: representative errors: %w", err)
	}
	defer rows.Close()

	var out []StagingError
	for rows.Next() {
		var e StagingError
		if err := rows.Scan(&e.JobID, &e.RowNum, &e.SheetName, &e.ErrorType, &e.ErrorField, &e.ErrorValue, &e.ErrorMessage, &e.RawBreadcrumb, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan staging_error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountErrorsBySheet returns error counts grouped by sheet, folded into the
// per-sheet bookkeeping after validation.
func CountErrorsBySheet(ctx context.Context, db DBTX, jobID string) (map[string]int64, error) {
	rows, err := db.Query(ctx, `SELECT sheet_name, count(*) FROM staging_error WHERE job_id = $1 GROUP BY sheet_name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: count errors by sheet: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var sheet string
		var n int64
		if err := rows.Scan(&sheet, &n); err != nil {
			return nil, fmt.Errorf("store: scan sheet error count: %w", err)
		}
		out[sheet] = n
	}
	return out, rows.Err()
}

// CountErrorsByType returns error counts grouped by kind, for the
// /errors/stats endpoint.
func CountErrorsByType(ctx context.Context, db DBTX, jobID string) (map[string]int64, error) {
	rows, err := db.Query(ctx, `SELECT error_type, count(*) FROM staging_error WHERE job_id = $1 GROUP BY error_type`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: count errors by type: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("store: scan error count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// CleanupJob drops a job's staging rows, optionally retaining the error rows
// for later inspection.
func CleanupJob(ctx context.Context, db DBTX, jobID string, keepErrors bool) error {
	if _, err := db.Exec(ctx, `DELETE FROM staging_raw WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("store: cleanup staging_raw: %w", err)
	}
	if _, err := db.Exec(ctx, `DELETE FROM staging_valid WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("store: cleanup staging_valid: %w", err)
	}
	if !keepErrors {
		if _, err := db.Exec(ctx, `DELETE FROM staging_error WHERE job_id = $1`, jobID); err != nil {
			return fmt.Errorf("store: cleanup staging_error: %w", err)
		}
	}
	return nil
}
