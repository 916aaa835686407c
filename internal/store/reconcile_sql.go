package store

import (
	"context"
	"fmt"
)

// ReconcileCounts runs the first post-apply check: the count of
// staging_valid for the job must equal the count of case_detail rows whose
// business key matches a staging_valid row.
func ReconcileCounts(ctx context.Context, db DBTX, jobID string) (stagingCount, matchedCount int64, err error) {
	if err = db.QueryRow(ctx, `SELECT count(*) FROM staging_valid WHERE job_id = $1`, jobID).Scan(&stagingCount); err != nil {
		return 0, 0, fmt.Errorf("store: reconcile count staging_valid: %w", err)
	}
	sql := `
		SELECT count(*)
		FROM staging_valid sv
		JOIN unit u ON u.code = sv.ma_don_vi
		JOIN box b ON b.code = sv.ma_thung
		JOIN case_detail cd ON cd.unit_id = u.id AND cd.box_id = b.id
			AND cd.doc_date = sv.ngay_chung_tu AND cd.quantity = sv.so_luong_tap
		WHERE sv.job_id = $1`
	if err = db.QueryRow(ctx, sql, jobID).Scan(&matchedCount); err != nil {
		return stagingCount, 0, fmt.Errorf("store: reconcile count matched: %w", err)
	}
	return stagingCount, matchedCount, nil
}

// ReconcileUntreatedRefErrors runs Reconciler check 2: no REF_NOT_FOUND rows
// may remain without a corresponding staging_valid decision (the row should
// have been excluded from promotion).
func ReconcileUntreatedRefErrors(ctx context.Context, db DBTX, jobID string) (int64, error) {
	var n int64
	sql := `
		SELECT count(*)
		FROM staging_error se
		JOIN staging_valid sv ON sv.job_id = se.job_id AND sv.row_num = se.row_num
		WHERE se.job_id = $1 AND se.error_type = 'REF_NOT_FOUND'`
	if err := db.QueryRow(ctx, sql, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: reconcile untreated ref errors: %w", err)
	}
	return n, nil
}

// ReconcileDuplicateBusinessKeys runs Reconciler check 3: no duplicate
// business keys among case_detail rows that trace back to this job.
func ReconcileDuplicateBusinessKeys(ctx context.Context, db DBTX, jobID string) (int64, error) {
	var n int64
	sql := `
		SELECT count(*) FROM (
			SELECT unit_id, box_id, doc_date, quantity, count(*) c
			FROM case_detail WHERE job_id = $1
			GROUP BY unit_id, box_id, doc_date, quantity
			HAVING count(*) > 1
		) dups`
	if err := db.QueryRow(ctx, sql, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: reconcile duplicate business keys: %w", err)
	}
	return n, nil
}

// ReconcileIntegrity runs Reconciler check 4: due_date <= handover_date when
// both present, and quantity > 0.
func ReconcileIntegrity(ctx context.Context, db DBTX, jobID string) (int64, error) {
	var n int64
	sql := `
		SELECT count(*) FROM case_detail
		WHERE job_id = $1
			AND ((due_date IS NOT NULL AND handover_date IS NOT NULL AND due_date > handover_date)
				OR quantity <= 0)`
	if err := db.QueryRow(ctx, sql, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: reconcile integrity: %w", err)
	}
	return n, nil
}
