package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Messages contain the patterns MapError matches on.
var (
	ErrEmptyBatch          = errors.New("empty file: batch has no header line")
	ErrNoAcceptedRows      = errors.New("no valid rows: every data line was rejected")
	ErrDuplicatePrimaryKey = errors.New("duplicate primary key")
	ErrInvalidCSV          = errors.New("invalid csv")
	ErrTableNotFound       = errors.New("table not found")
	ErrRelationNotFound    = errors.New("relation not found")
)

// Row rejection reasons.
const (
	ReasonColumnCount    = "column count mismatch"
	ReasonRequiredEmpty  = "required field is empty"
	ReasonInvalidAddress = "invalid address"
	ReasonTooLong        = "value too long"
	ReasonMalformedCSV   = "malformed csv line"
	ReasonTableName      = "invalid category table name"
	ReasonDuplicateKey   = "duplicate primary key"
)

// EncodingError is returned when no supported encoding decodes the batch
// into clean text.
type EncodingError struct {
	Tried []string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error: input is not valid text in any of %s", strings.Join(e.Tried, ", "))
}

// SchemaError reports every header problem of a batch at once.
type SchemaError struct {
	Missing  []string // required headers absent
	Problems []string // duplicate, empty, reserved or colliding headers
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required column(s): "+strings.Join(e.Missing, ", "))
	}
	parts = append(parts, e.Problems...)
	return "invalid header: " + strings.Join(parts, "; ")
}

// RowValidationError is a row-level error that rejects the whole batch.
// Ordinary row problems are reported as RejectedRow values instead.
type RowValidationError struct {
	Line      int
	FirstLine int // earlier line with the same key, for duplicates
	Field     string
	Value     string
	Reason    string
	Err       error
}

func (e *RowValidationError) Error() string {
	msg := fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	if e.FirstLine > 0 {
		msg += fmt.Sprintf(" (first seen at line %d)", e.FirstLine)
	}
	return msg
}

func (e *RowValidationError) Unwrap() error { return e.Err }

// Rejected converts the error into the RejectedRow reported in results.
func (e *RowValidationError) Rejected() RejectedRow {
	return RejectedRow{Line: e.Line, Reason: e.Reason, Field: e.Field, Value: e.Value}
}

// RejectedRowFrom returns the rejected row carried by err, when err is or
// wraps a *RowValidationError.
func RejectedRowFrom(err error) (RejectedRow, bool) {
	var rve *RowValidationError
	if !errors.As(err, &rve) {
		return RejectedRow{}, false
	}
	return rve.Rejected(), true
}

// StorageError wraps any failure inside the ingestion transaction. The
// transaction has been rolled back when a StorageError is returned.
type StorageError struct {
	Op    string // begin, ensure_table, upsert, commit ...
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CatalogWarning records a failed relation registration. It never fails a
// batch.
type CatalogWarning struct {
	Service  string `json:"service_name"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

func (w CatalogWarning) Error() string {
	return fmt.Sprintf("catalog warning: %s/%s: %s", w.Service, w.Category, w.Message)
}

func newCatalogWarning(service, category string, err error) CatalogWarning {
	return CatalogWarning{Service: service, Category: category, Message: err.Error()}
}
