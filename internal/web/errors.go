package web

// errors.go provides unified error response handling for the web layer.
//
// Every error leaves the server as JSON:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, status), or respondError with status 0 to
//     derive the status from the error type
//  3. Error is mapped via core.MapError to a user-friendly message and code
//  4. Technical error + request ID are logged server-side
//  5. The client receives {error, message, action, code}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/shotam27/souchiJohoKanri/internal/core"
	"github.com/shotam27/souchiJohoKanri/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// newErrorResponse maps err to its client-facing form.
func newErrorResponse(err error) ErrorResponse {
	msg := core.MapError(err)
	return ErrorResponse{
		Error:   sanitizeErrorMessage(err.Error()),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// statusFor picks the HTTP status for an error returned by the core.
// Storage failures and anything unrecognized are 500.
func statusFor(err error) int {
	var (
		encErr    *core.EncodingError
		schemaErr *core.SchemaError
		rowErr    *core.RowValidationError
	)
	switch {
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrTableNotFound), errors.Is(err, core.ErrRelationNotFound):
		return http.StatusNotFound
	case errors.As(err, &encErr), errors.As(err, &schemaErr), errors.As(err, &rowErr),
		errors.Is(err, core.ErrEmptyBatch), errors.Is(err, core.ErrInvalidCSV),
		errors.Is(err, core.ErrNoAcceptedRows):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its JSON form. A zero status is derived
// from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	resp := newErrorResponse(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", resp.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSONStatus(w, status, resp)
}

// writeError writes a JSON error for failures detected in the web layer
// itself, such as malformed requests.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONStatus(w, status, ErrorResponse{
		Error:   message,
		Message: message,
		Code:    http.StatusText(status),
	})
}

// writeJSON encodes v as a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

var (
	// connection strings with credentials
	dsnPattern = regexp.MustCompile(`\b[a-z]+://[^\s@/]+:[^\s@/]+@[^\s]+`)
	// password=... and similar key/value pairs
	secretPattern = regexp.MustCompile(`(?i)\b(password|pwd|secret)=\S+`)
)

// sanitizeErrorMessage strips credentials that drivers sometimes include in
// error text before it is sent to a client.
func sanitizeErrorMessage(msg string) string {
	msg = dsnPattern.ReplaceAllString(msg, "[REDACTED]")
	return secretPattern.ReplaceAllString(msg, "$1=[REDACTED]")
}
