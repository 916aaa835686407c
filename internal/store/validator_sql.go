package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dangthobach/excel-migration-engine/internal/migration/migerr"
)

// This file implements the seven set-based validation rules, each a single
// bulk statement generated from the RequiredFields/DateFields/NumericFields/
// ReferenceColumns/BusinessKeyColumns tables rather than hand-duplicated per
// column. Every rule after the first skips rows already in staging_error for
// the same (job_id, row_num) via a LEFT JOIN ... WHERE se.row_num IS NULL
// anti-join, so the first error raised for a row suppresses later rules.

const notAlreadyErrored = `LEFT JOIN staging_error se ON se.job_id = r.job_id AND se.row_num = r.row_num
	WHERE se.row_num IS NULL AND`

// InsertRequiredFieldErrors flags rows where any nonnull-required column is
// null or blank, one error per offending row naming the first offending
// column.
func InsertRequiredFieldErrors(ctx context.Context, tx DBTX, jobID string) (int64, error) {
	var whenField, whenValue, anyBlank strings.Builder
	for i, col := range RequiredFields {
		if i > 0 {
			anyBlank.WriteString(" OR ")
		}
		fmt.Fprintf(&whenField, "WHEN r.%s IS NULL OR r.%s = '' THEN '%s'\n", col, col, col)
		fmt.Fprintf(&whenValue, "WHEN r.%s IS NULL OR r.%s = '' THEN r.%s\n", col, col, col)
		fmt.Fprintf(&anyBlank, "r.%s IS NULL OR r.%s = ''", col, col)
	}

	sql := fmt.Sprintf(`
		INSERT INTO staging_error (job_id, row_num, sheet_name, error_type, error_field, error_value, error_message, raw_breadcrumb, created_at)
		SELECT r.job_id, r.row_num, r.sheet_name, '%s',
			CASE %s END,
			CASE %s END,
			'%s',
			r.parse_errors,
			now()
		FROM staging_raw r
		WHERE r.job_id = $1 AND (%s)`,
		migerr.RequiredMissing, whenField.String(), whenValue.String(),
		migerr.RequiredMissing.Message(), anyBlank.String())

	tag, err := tx.Exec(ctx, sql, jobID)
	if err != nil {
		return 0, fmt.Errorf("store: required field errors: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertDateFormatErrors flags date columns that don't match YYYY-MM-DD.
// Optional columns skip null/blank values; rows already errored are skipped.
func InsertDateFormatErrors(ctx context.Context, tx DBTX, jobID string) (int64, error) {
	var total int64
	for _, f := range DateFields {
		norm := f.Name + "_norm"
		nullCheck := fmt.Sprintf("r.%s IS NULL OR r.%s = ''", norm, norm)
		var cond string
		if f.Required {
			cond = fmt.Sprintf("(%s) OR r.%s !~ '^\\d{4}-\\d{2}-\\d{2}$'", nullCheck, norm)
		} else {
			cond = fmt.Sprintf("NOT (%s) AND r.%s !~ '^\\d{4}-\\d{2}-\\d{2}$'", nullCheck, norm)
		}
		fullSQL := fmt.Sprintf(`
			INSERT INTO staging_error (job_id, row_num, sheet_name, error_type, error_field, error_value, error_message, raw_breadcrumb, created_at)
			SELECT r.job_id, r.row_num, r.sheet_name, '%s', '%s', r.%s, 'Giá trị ngày không hợp lệ, định dạng yêu cầu YYYY-MM-DD', r.parse_errors, now()
			FROM staging_raw r
			%s r.job_id = $1 AND (%s)`,
			migerr.InvalidDate, f.Name, f.Name, notAlreadyErrored, cond)
		tag, err := tx.Exec(ctx, fullSQL, jobID)
		if err != nil {
			return total, fmt.Errorf("store: date format errors (%s): %w", f.Name, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// InsertNumericErrors flags numeric columns that are not positive integers.
func InsertNumericErrors(ctx context.Context, tx DBTX, jobID string) (int64, error) {
	var total int64
	for _, col := range NumericFields {
		norm := col + "_norm"
		cond := fmt.Sprintf("r.%s IS NULL OR r.%s = '' OR r.%s !~ '^\\d+$' OR r.%s::bigint <= 0", norm, norm, norm, norm)
		sql := fmt.Sprintf(`
			INSERT INTO staging_error (job_id, row_num, sheet_name, error_type, error_field, error_value, error_message, raw_breadcrumb, created_at)
			SELECT r.job_id, r.row_num, r.sheet_name, '%s', '%s', r.%s, 'Giá trị số không hợp lệ, yêu cầu số nguyên dương', r.parse_errors, now()
			FROM staging_raw r
			%s r.job_id = $1 AND (%s)`,
			migerr.InvalidNumeric, col, col, notAlreadyErrored, cond)
		tag, err := tx.Exec(ctx, sql, jobID)
		if err != nil {
			return total, fmt.Errorf("store: numeric errors (%s): %w", col, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// InsertInFileDupErrors windows over the business key and flags every
// occurrence after the first, recording the first row number in the message.
func InsertInFileDupErrors(ctx context.Context, tx DBTX, jobID string) (int64, error) {
	partitionCols := make([]string, len(NormalizedBusinessKeyColumns))
	for i, c := range NormalizedBusinessKeyColumns {
		partitionCols[i] = "r." + c
	}
	partition := strings.Join(partitionCols, ", ")

	sql := fmt.Sprintf(`
		WITH ranked AS (
			SELECT r.job_id, r.row_num, r.sheet_name, r.ma_thung,
				row_number() OVER (PARTITION BY %s ORDER BY r.row_num) AS rn,
				min(r.row_num) OVER (PARTITION BY %s) AS first_row
			FROM staging_raw r
			LEFT JOIN staging_error se ON se.job_id = r.job_id AND se.row_num = r.row_num
			WHERE se.row_num IS NULL AND r.job_id = $1
		)
		INSERT INTO staging_error (job_id, row_num, sheet_name, error_type, error_field, error_value, error_message, raw_breadcrumb, created_at)
		SELECT job_id, row_num, sheet_name, '%s', 'ma_thung', ma_thung,
			'Trùng khóa nghiệp vụ với dòng ' || first_row, '', now()
		FROM ranked WHERE rn > 1`,
		partition, partition, migerr.DupInFile)

	tag, err := tx.Exec(ctx, sql, jobID)
	if err != nil {
		return 0, fmt.Errorf("store: in-file dup errors: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertMasterRefErrors flags reference columns with no active master match.
// The anti-join is a LEFT JOIN ... WHERE master.id IS NULL rather than NOT
// EXISTS so the planner drives it off the master code index.
func InsertMasterRefErrors(ctx context.Context, tx DBTX, jobID string) (int64, error) {
	var total int64
	for _, ref := range ReferenceColumns {
		alias := "m_" + ref.Table
		norm := ref.Column + "_norm"
		sql := fmt.Sprintf(`
			INSERT INTO staging_error (job_id, row_num, sheet_name, error_type, error_field, error_value, error_message, raw_breadcrumb, created_at)
			SELECT r.job_id, r.row_num, r.sheet_name, '%s', '%s', r.%s, 'Không tìm thấy tham chiếu trong danh mục %s', r.parse_errors, now()
			FROM staging_raw r
			LEFT JOIN staging_error se ON se.job_id = r.job_id AND se.row_num = r.row_num
			LEFT JOIN %s %s ON %s.code = r.%s AND %s.is_active
			WHERE se.row_num IS NULL AND r.job_id = $1
				AND r.%s IS NOT NULL AND r.%s <> ''
				AND %s.id IS NULL`,
			migerr.RefNotFound, ref.Column, ref.Column, ref.Table,
			ref.Table, alias, alias, norm, alias,
			norm, norm, alias)
		tag, err := tx.Exec(ctx, sql, jobID)
		if err != nil {
			return total, fmt.Errorf("store: master ref errors (%s): %w", ref.Table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// InsertDBDupErrors flags rows whose business key already exists in
// case_detail, joined via unit and box codes.
func InsertDBDupErrors(ctx context.Context, tx DBTX, jobID string) (int64, error) {
	sql := fmt.Sprintf(`
		INSERT INTO staging_error (job_id, row_num, sheet_name, error_type, error_field, error_value, error_message, raw_breadcrumb, created_at)
		SELECT r.job_id, r.row_num, r.sheet_name, '%s', 'ma_thung', r.ma_thung, 'Khóa nghiệp vụ đã tồn tại trong hệ thống', '', now()
		FROM staging_raw r
		LEFT JOIN staging_error se ON se.job_id = r.job_id AND se.row_num = r.row_num
		JOIN unit u ON u.code = r.ma_don_vi_norm
		JOIN box b ON b.code = r.ma_thung_norm
		JOIN case_detail cd ON cd.unit_id = u.id AND cd.box_id = b.id
			AND cd.doc_date = r.ngay_chung_tu_norm::date AND cd.quantity = r.so_luong_tap_norm::bigint
		WHERE se.row_num IS NULL AND r.job_id = $1`,
		migerr.DupInDB)
	tag, err := tx.Exec(ctx, sql, jobID)
	if err != nil {
		return 0, fmt.Errorf("store: db dup errors: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PromoteValidRows copies rows with no staging_error and no parse_errors
// into staging_valid, cast to their canonical SQL types. A row already
// promoted is skipped via ON CONFLICT DO NOTHING, so promoting twice yields
// the same row set.
func PromoteValidRows(ctx context.Context, tx DBTX, jobID string) (int64, error) {
	sql := `
		INSERT INTO staging_valid (
			job_id, row_num, created_at,
			ma_don_vi, ma_thung, ma_kho, ma_loai_tai_lieu, ma_thoi_han_luu_tru,
			ngay_chung_tu, ngay_den_han, ngay_ban_giao, so_luong_tap,
			trang_thai_ho_so, trang_thai_thung, tinh_trang_thung,
			khu_vuc, vi_tri_hang, vi_tri_cot
		)
		SELECT
			r.job_id, r.row_num, now(),
			r.ma_don_vi_norm, r.ma_thung_norm, r.ma_kho_norm, r.ma_loai_tai_lieu_norm, r.ma_thoi_han_luu_tru_norm,
			r.ngay_chung_tu_norm::date,
			NULLIF(r.ngay_den_han_norm, '')::date, NULLIF(r.ngay_ban_giao_norm, '')::date,
			r.so_luong_tap_norm::bigint,
			r.trang_thai_ho_so, r.trang_thai_thung, r.tinh_trang_thung,
			r.khu_vuc, r.vi_tri_hang, r.vi_tri_cot
		FROM staging_raw r
		LEFT JOIN staging_error se ON se.job_id = r.job_id AND se.row_num = r.row_num
		WHERE se.row_num IS NULL AND r.job_id = $1 AND (r.parse_errors IS NULL OR r.parse_errors = '')
		ON CONFLICT (job_id, row_num) DO NOTHING`
	tag, err := tx.Exec(ctx, sql, jobID)
	if err != nil {
		return 0, fmt.Errorf("store: promote valid rows: %w", err)
	}
	return tag.RowsAffected(), nil
}
