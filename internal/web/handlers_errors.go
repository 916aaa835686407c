package web

// handlers_errors.go implements the error-stats and error-download
// endpoints. Download emits CSV rather than a rebuilt xlsx workbook: this
// engine does not generate workbooks, and CSV is the natural export format
// for a flat violation list.

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dangthobach/excel-migration-engine/internal/store"
)

func (s *Server) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	counts, err := store.CountErrorsByType(r.Context(), s.pool, jobID)
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "byType": counts, "total": total})
}

func (s *Server) handleErrorDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	errs, err := store.RepresentativeErrors(r.Context(), s.pool, jobID, parseIntParam(r, "limit", 10000))
	if err != nil {
		respondErrorFromErr(r.Context(), w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-errors.csv"`, jobID))
	w.WriteHeader(http.StatusOK)

	writeCSVRow(w, []string{"row_num", "sheet_name", "error_type", "error_field", "error_value", "error_message"})
	for _, e := range errs {
		writeCSVRow(w, []string{
			fmt.Sprintf("%d", e.RowNum), e.SheetName, string(e.ErrorType), e.ErrorField, e.ErrorValue, e.ErrorMessage,
		})
	}
}

// writeCSVRow writes one comma-separated row: `"` escapes to `""`, and
// fields containing `,`, `"`, or `\n` are quoted.
func writeCSVRow(w http.ResponseWriter, fields []string) {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		if strings.ContainsAny(f, ",\"\n") {
			escaped[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		} else {
			escaped[i] = f
		}
	}
	fmt.Fprintln(w, strings.Join(escaped, ","))
}
