package store

import (
	"context"
	"fmt"
)

// This file implements the Applier's three dependency-ordered phases. Every
// statement is a conditional `INSERT ... SELECT DISTINCT ... WHERE NOT
// EXISTS`, so re-running Apply against the same staging_valid is a no-op.

// ApplyIndependentMasters runs P1: warehouse, unit, doc_type, status,
// retention_period, none of which depend on another master row.
func ApplyIndependentMasters(ctx context.Context, tx DBTX, jobID string) (map[string]int64, error) {
	counts := map[string]int64{}

	warehouse := `
		INSERT INTO warehouse (code, name)
		SELECT DISTINCT sv.ma_kho, sv.ma_kho
		FROM staging_valid sv
		WHERE sv.job_id = $1 AND NOT EXISTS (SELECT 1 FROM warehouse w WHERE w.code = sv.ma_kho)`
	if err := execCount(ctx, tx, counts, "warehouse", warehouse, jobID); err != nil {
		return counts, err
	}

	unit := `
		INSERT INTO unit (code, name)
		SELECT DISTINCT sv.ma_don_vi, sv.ma_don_vi
		FROM staging_valid sv
		WHERE sv.job_id = $1 AND NOT EXISTS (SELECT 1 FROM unit u WHERE u.code = sv.ma_don_vi)`
	if err := execCount(ctx, tx, counts, "unit", unit, jobID); err != nil {
		return counts, err
	}

	// doc_type's code is derived by uppercasing and substituting spaces with
	// underscores.
	docType := `
		INSERT INTO doc_type (code, name)
		SELECT DISTINCT upper(replace(sv.ma_loai_tai_lieu, ' ', '_')), sv.ma_loai_tai_lieu
		FROM staging_valid sv
		WHERE sv.job_id = $1
			AND NOT EXISTS (SELECT 1 FROM doc_type d WHERE d.code = upper(replace(sv.ma_loai_tai_lieu, ' ', '_')))`
	if err := execCount(ctx, tx, counts, "doc_type", docType, jobID); err != nil {
		return counts, err
	}

	retention := `
		INSERT INTO retention_period (code, name)
		SELECT DISTINCT sv.ma_thoi_han_luu_tru, sv.ma_thoi_han_luu_tru
		FROM staging_valid sv
		WHERE sv.job_id = $1 AND sv.ma_thoi_han_luu_tru IS NOT NULL AND sv.ma_thoi_han_luu_tru <> ''
			AND NOT EXISTS (SELECT 1 FROM retention_period rp WHERE rp.code = sv.ma_thoi_han_luu_tru)`
	if err := execCount(ctx, tx, counts, "retention_period", retention, jobID); err != nil {
		return counts, err
	}

	// status has three type-partitions; unknown values fall back to UNKNOWN.
	for _, sp := range []struct{ col, typ string }{
		{"trang_thai_ho_so", "CASE_PDM"},
		{"trang_thai_thung", "BOX_STATUS"},
		{"tinh_trang_thung", "BOX_STATE"},
	} {
		sql := fmt.Sprintf(`
			INSERT INTO status (code, type, name)
			SELECT DISTINCT coalesce(NULLIF(sv.%s, ''), 'UNKNOWN'), '%s', coalesce(NULLIF(sv.%s, ''), 'UNKNOWN')
			FROM staging_valid sv
			WHERE sv.job_id = $1
				AND NOT EXISTS (SELECT 1 FROM status s WHERE s.code = coalesce(NULLIF(sv.%s, ''), 'UNKNOWN') AND s.type = '%s')`,
			sp.col, sp.typ, sp.col, sp.col, sp.typ)
		if err := execCount(ctx, tx, counts, "status:"+sp.typ, sql, jobID); err != nil {
			return counts, err
		}
	}

	return counts, nil
}

// ApplyDependentMasters runs P2: location (needs an area+row+col tuple) and
// box (joins warehouse, location, and two status rows).
func ApplyDependentMasters(ctx context.Context, tx DBTX, jobID string) (map[string]int64, error) {
	counts := map[string]int64{}

	location := `
		INSERT INTO location (area, row_label, col_label)
		SELECT DISTINCT sv.khu_vuc, sv.vi_tri_hang, sv.vi_tri_cot
		FROM staging_valid sv
		WHERE sv.job_id = $1
			AND sv.khu_vuc IS NOT NULL AND sv.khu_vuc <> ''
			AND NOT EXISTS (
				SELECT 1 FROM location l
				WHERE l.area = sv.khu_vuc AND l.row_label = sv.vi_tri_hang AND l.col_label = sv.vi_tri_cot)`
	if err := execCount(ctx, tx, counts, "location", location, jobID); err != nil {
		return counts, err
	}

	box := `
		INSERT INTO box (code, warehouse_id, location_id, status_box_id, status_state_id)
		SELECT DISTINCT sv.ma_thung, w.id, l.id, sb.id, ss.id
		FROM staging_valid sv
		JOIN warehouse w ON w.code = sv.ma_kho
		LEFT JOIN location l ON l.area = sv.khu_vuc AND l.row_label = sv.vi_tri_hang AND l.col_label = sv.vi_tri_cot
		LEFT JOIN status sb ON sb.code = coalesce(NULLIF(sv.trang_thai_thung, ''), 'UNKNOWN') AND sb.type = 'BOX_STATUS'
		LEFT JOIN status ss ON ss.code = coalesce(NULLIF(sv.tinh_trang_thung, ''), 'UNKNOWN') AND ss.type = 'BOX_STATE'
		WHERE sv.job_id = $1
			AND NOT EXISTS (SELECT 1 FROM box b WHERE b.code = sv.ma_thung)`
	if err := execCount(ctx, tx, counts, "box", box, jobID); err != nil {
		return counts, err
	}

	return counts, nil
}

// ApplyBusinessRows runs P3: case_detail, joining unit, doc_type, box,
// retention_period, and the case status reference (LEFT JOIN since it is
// nullable).
func ApplyBusinessRows(ctx context.Context, tx DBTX, jobID string) (int64, error) {
	sql := `
		INSERT INTO case_detail (job_id, unit_id, box_id, doc_type_id, retention_period_id, status_case_id, doc_date, due_date, handover_date, quantity)
		SELECT DISTINCT sv.job_id, u.id, b.id, d.id, rp.id, sc.id, sv.ngay_chung_tu, sv.ngay_den_han, sv.ngay_ban_giao, sv.so_luong_tap
		FROM staging_valid sv
		JOIN unit u ON u.code = sv.ma_don_vi
		JOIN box b ON b.code = sv.ma_thung
		JOIN doc_type d ON d.code = upper(replace(sv.ma_loai_tai_lieu, ' ', '_'))
		LEFT JOIN retention_period rp ON rp.code = sv.ma_thoi_han_luu_tru
		LEFT JOIN status sc ON sc.code = coalesce(NULLIF(sv.trang_thai_ho_so, ''), 'UNKNOWN') AND sc.type = 'CASE_PDM'
		WHERE sv.job_id = $1
			AND NOT EXISTS (
				SELECT 1 FROM case_detail cd
				WHERE cd.unit_id = u.id AND cd.box_id = b.id AND cd.doc_date = sv.ngay_chung_tu AND cd.quantity = sv.so_luong_tap)`
	tag, err := tx.Exec(ctx, sql, jobID)
	if err != nil {
		return 0, fmt.Errorf("store: apply business rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func execCount(ctx context.Context, tx DBTX, counts map[string]int64, key, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("store: apply %s: %w", key, err)
	}
	counts[key] = tag.RowsAffected()
	return nil
}
