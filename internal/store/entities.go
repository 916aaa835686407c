package store

// entities.go defines the row types this package reads and writes: the job
// bookkeeping tables, the three staging tables, and the rule tables the
// validator statements are generated from. Higher layers alias these types
// rather than redeclaring them.

import "time"

// JobStatus is the Job lifecycle's closed status set.
type JobStatus string

const (
	JobStarted             JobStatus = "STARTED"
	JobIngesting           JobStatus = "INGESTING"
	JobIngestingCompleted  JobStatus = "INGESTING_COMPLETED"
	JobValidating          JobStatus = "VALIDATING"
	JobValidationCompleted JobStatus = "VALIDATION_COMPLETED"
	JobApplying            JobStatus = "APPLYING"
	JobApplyCompleted      JobStatus = "APPLY_COMPLETED"
	JobCompleted           JobStatus = "COMPLETED"
	JobFailed              JobStatus = "FAILED"
)

// Job is the top-level migration run record. Only the orchestrator writes it.
type Job struct {
	ID               string
	SourceFileName   string
	CreatedBy        string
	Status           JobStatus
	CurrentPhase     string
	ProgressPercent  int
	TotalRows        int64
	ProcessedRows    int64
	ValidRows        int64
	ErrorRows        int64
	InsertedRows     int64
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ProcessingTimeMs int64
	LastError        string
}

// JobSheetStatus mirrors JobStatus but scoped to a single sheet within a job.
type JobSheetStatus string

const (
	SheetStarted            JobSheetStatus = "STARTED"
	SheetIngesting          JobSheetStatus = "INGESTING"
	SheetIngestingCompleted JobSheetStatus = "INGESTING_COMPLETED"
	SheetValidating         JobSheetStatus = "VALIDATING"
	SheetApplying           JobSheetStatus = "APPLYING"
	SheetCompleted          JobSheetStatus = "COMPLETED"
	SheetFailed             JobSheetStatus = "FAILED"
)

// JobSheet is one row per (job, sheet_name). Version is the optimistic-lock
// counter: every update asserts the expected version and increments it.
type JobSheet struct {
	ID                   int64
	JobID                string
	SheetName            string
	SheetOrdinal         int
	Status               JobSheetStatus
	CurrentPhase         string
	ProgressPercent      int
	IngestRows           int64
	ValidRows            int64
	ErrorRows            int64
	InsertedRows         int64
	IngestDurationMs     int64
	ValidationDurationMs int64
	InsertionDurationMs  int64
	TotalDurationMs      int64
	LastError            string
	Version              int64
}

// StagingRaw is the unvalidated row snapshot populated during ingest.
// Columns holds the untouched cell text keyed by external column name;
// Normalized holds the canonical twin for identifier and date key columns.
type StagingRaw struct {
	JobID       string
	SheetName   string
	RowNum      int64
	CreatedAt   time.Time
	Columns     map[string]string
	Normalized  map[string]string
	ParseErrors string
}

// StagingValid is the typed, canonical row produced by the final validation
// step.
type StagingValid struct {
	JobID     string
	RowNum    int64
	CreatedAt time.Time
	Fields    map[string]string
}

// ErrorKind is the closed violation-kind set written to staging_error.
type ErrorKind string

const (
	ErrRequiredMissing ErrorKind = "REQUIRED_MISSING"
	ErrInvalidDate     ErrorKind = "INVALID_DATE"
	ErrInvalidNumeric  ErrorKind = "INVALID_NUMERIC"
	ErrDupInFile       ErrorKind = "DUP_IN_FILE"
	ErrDupInDB         ErrorKind = "DUP_IN_DB"
	ErrRefNotFound     ErrorKind = "REF_NOT_FOUND"
)

// StagingError is one violation row.
type StagingError struct {
	JobID         string
	RowNum        int64
	SheetName     string
	ErrorType     ErrorKind
	ErrorField    string
	ErrorValue    string
	ErrorMessage  string
	RawBreadcrumb string
	CreatedAt     time.Time
}

// RequiredFields lists the nonnull-required external column names, in
// declaration order, consumed by the required-field rule's CASE chain.
var RequiredFields = []string{
	"ma_don_vi", "ma_thung", "ma_kho", "ma_loai_tai_lieu", "ngay_chung_tu", "so_luong_tap",
}

// DateFields lists the columns expected in YYYY-MM-DD. Optional columns skip
// null and blank values.
var DateFields = []struct {
	Name     string
	Required bool
}{
	{"ngay_chung_tu", true},
	{"ngay_den_han", false},
	{"ngay_ban_giao", false},
}

// NumericFields lists the positive-integer columns.
var NumericFields = []string{"so_luong_tap"}

// BusinessKeyColumns is the tuple that uniquely identifies a business row.
var BusinessKeyColumns = []string{"ma_don_vi", "ma_thung", "ngay_chung_tu", "so_luong_tap"}

// NormalizedBusinessKeyColumns is the _norm twin tuple the dedup rules
// window and join on, so rows differing only in raw formatting still collide.
var NormalizedBusinessKeyColumns = []string{
	"ma_don_vi_norm", "ma_thung_norm", "ngay_chung_tu_norm", "so_luong_tap_norm",
}

// ReferenceColumns names every column resolved against a master table,
// paired with the table it resolves against.
var ReferenceColumns = []struct {
	Column string
	Table  string
}{
	{"ma_kho", "warehouse"},
	{"ma_don_vi", "unit"},
	{"ma_loai_tai_lieu", "doc_type"},
	{"ma_thoi_han_luu_tru", "retention_period"},
}
