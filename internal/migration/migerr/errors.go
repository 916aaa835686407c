// Package migerr defines the closed error-kind taxonomy written to
// staging_error, plus a technical-error-to-operator-message mapper for
// faults that abort a phase rather than being recovered per-row.
package migerr

import (
	"fmt"
	"strings"
)

// Kind is a staging_error error_type. The set is closed: every row written
// to staging_error carries exactly one of these.
type Kind string

const (
	RequiredMissing Kind = "REQUIRED_MISSING"
	InvalidDate     Kind = "INVALID_DATE"
	InvalidNumeric  Kind = "INVALID_NUMERIC"
	DupInFile       Kind = "DUP_IN_FILE"
	DupInDB         Kind = "DUP_IN_DB"
	RefNotFound     Kind = "REF_NOT_FOUND"
)

// Message returns the contractual operator-facing message for a kind, where
// one exists as a literal part of the contract. Kinds whose message is
// generated per-row by the SQL rule itself (e.g. DupInFile's "row N" text)
// return "".
func (k Kind) Message() string {
	switch k {
	case RequiredMissing:
		return "Trường bắt buộc không được để trống"
	default:
		return ""
	}
}

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string
	Action  string
	Code    string
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error substrings (case-insensitive) to an
// operator message. Order matters: more specific patterns must precede
// general ones; the first match wins.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{"A row with this key already exists", "Check staging_error for DUP_IN_DB rows", "DB001"}},
	{"unique constraint", UserMessage{"A unique constraint was violated", "Review the business key for duplicates", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Review the business key for duplicates", "DB002"}},
	{"foreign key constraint", UserMessage{"A referenced master row does not exist", "Run the Apply phase's master-row steps first", "DB003"}},
	{"violates foreign key", UserMessage{"A referenced master row does not exist", "Run the Apply phase's master-row steps first", "DB003"}},
	{"connection refused", UserMessage{"Unable to connect to the database", "Retry in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Retry the request", "DB005"}},
	{"context deadline exceeded", UserMessage{"Operation timed out", "Retry with a smaller file or increase the step timeout", "DB006"}},
	{"timeout", UserMessage{"Operation timed out", "Retry with a smaller file or increase the step timeout", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Retry the request", "DB007"}},
	{"invalid date", UserMessage{"Invalid date format detected", "Dates must normalize to YYYY-MM-DD", "VAL001"}},
	{"invalid numeric", UserMessage{"Invalid numeric format detected", "Numeric columns must be positive integers", "VAL002"}},
	{"required field", UserMessage{"A required field is empty", Kind(RequiredMissing).Message(), "VAL003"}},
	{"no dimension", UserMessage{"Sheet is missing a dimension element", "The workbook may be malformed", "FILE002"}},
	{"row limit", UserMessage{"The workbook exceeds the configured row limit", "Split the file or raise maxRows", "FILE001"}},
	{"context canceled", UserMessage{"The job was cancelled", "Start a new job when ready", "JOB001"}},
	{"rate limit", UserMessage{"Too many requests", "Wait a moment before retrying", "RATE001"}},
}

var defaultMessage = UserMessage{"An unexpected error occurred", "Check server logs for the originating error", "ERR000"}

// MapError converts a technical error into an operator-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a specific pattern rather than
// falling back to the generic ERR000 message.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with its mapped operator message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string { return e.User.Message }
func (e *UserError) Unwrap() error { return e.Technical }

// NewUserError maps a technical error, or returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}

// RowLimitError is returned by the reader when maxRows is exceeded.
type RowLimitError struct {
	MaxRows int64
	AtRow   int64
}

func (e *RowLimitError) Error() string {
	return fmt.Sprintf("row limit exceeded: maxRows=%d, at row %d", e.MaxRows, e.AtRow)
}

// SheetCapError is returned by the dimension prevalidator when one or more
// sheets exceed their configured cap.
type SheetCapError struct {
	Violations map[string]int64 // sheet name -> row count
	Cap        int64
}

func (e *SheetCapError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sheets exceed row cap %d: ", e.Cap)
	first := true
	for name, count := range e.Violations {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s=%d", name, count)
	}
	return b.String()
}
