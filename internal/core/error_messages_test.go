package core

import (
	"errors"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "duplicate key maps correctly",
			err:         errors.New("pq: duplicate key value violates unique constraint"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
		{
			name:        "unique constraint maps correctly",
			err:         errors.New("ERROR: unique constraint violated"),
			wantCode:    "DB002",
			wantMessage: "This value must be unique but already exists",
		},
		{
			name:        "invalid address maps correctly",
			err:         errors.New("line 3: invalid address \"999.999.999.999\""),
			wantCode:    "VAL007",
			wantMessage: "Address is not a valid IPv4 or IPv6 literal",
		},
		{
			name:        "duplicate primary key is a validation error",
			err:         &RowValidationError{Line: 4, FirstLine: 2, Reason: ReasonDuplicateKey, Err: ErrDuplicatePrimaryKey},
			wantCode:    "VAL008",
			wantMessage: "Two lines describe the same device account",
		},
		{
			name:        "missing header wins over invalid header",
			err:         &SchemaError{Missing: []string{"category"}, Problems: []string{`duplicate header "port"`}},
			wantCode:    "VAL004",
			wantMessage: "Required column is missing from CSV",
		},
		{
			name:        "encoding error maps correctly",
			err:         &EncodingError{Tried: []string{"utf-8", "shift_jis"}},
			wantCode:    "FILE003",
			wantMessage: "File contains text in an unsupported encoding",
		},
		{
			name:        "storage error maps correctly",
			err:         &StorageError{Op: "upsert", Table: "device_info", Err: errors.New("disk I/O error")},
			wantCode:    "DB008",
			wantMessage: "The batch could not be saved and was rolled back",
		},
		{
			name:        "driver error inside storage error keeps its code",
			err:         &StorageError{Op: "begin", Err: errors.New("dial tcp: connection refused")},
			wantCode:    "DB004",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "limiter error maps to busy",
			err:         ErrTooManyUploads,
			wantCode:    "UPL002",
			wantMessage: "System is busy processing other uploads",
		},
		{
			name:        "no accepted rows maps correctly",
			err:         ErrNoAcceptedRows,
			wantCode:    "FILE006",
			wantMessage: "Every data line was rejected",
		},
		{
			name:        "connection refused maps correctly",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB004",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "timeout maps correctly",
			err:         errors.New("context deadline exceeded (timeout)"),
			wantCode:    "DB006",
			wantMessage: "Operation timed out",
		},
		{
			name:        "file too large maps correctly",
			err:         errors.New("file too large: 200MB exceeds limit"),
			wantCode:    "FILE001",
			wantMessage: "File exceeds maximum size limit",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DUPLICATE KEY value violates"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := errors.New("duplicate key value violates")
	result := FormatUserError(err)

	expected := "A record with this ID already exists (Code: DB001). Check for duplicate entries in your CSV"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  errors.New("duplicate key"),
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
