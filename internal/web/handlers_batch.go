package web

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/shotam27/souchiJohoKanri/internal/core"
)

// BatchResponse is the body of POST /api/batches. Result is always present;
// the error fields are set when the batch was not committed.
type BatchResponse struct {
	Result  *core.IngestResult `json:"result"`
	Message string             `json:"message,omitempty"`
	Action  string             `json:"action,omitempty"`
	Code    string             `json:"code,omitempty"`
}

// handleIngest accepts a batch as a multipart "file" field or as the raw
// request body, and runs it through the ingestion coordinator.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readBatch(w, r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	ctx := core.ContextWithClient(r.Context(), r.RemoteAddr, r.UserAgent())
	result, err := s.service.Ingest(ctx, core.IngestRequest{Name: name, Data: data})
	if err != nil {
		status := statusFor(err)
		resp := newErrorResponse(err)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "30")
		}
		writeJSONStatus(w, status, BatchResponse{
			Result:  result,
			Message: resp.Message,
			Action:  resp.Action,
			Code:    resp.Code,
		})
		return
	}
	writeJSON(w, BatchResponse{Result: result})
}

// PreviewResponse is the body of POST /api/batches/preview.
type PreviewResponse struct {
	Preview *core.BatchPreview `json:"preview"`
	Message string             `json:"message,omitempty"`
	Action  string             `json:"action,omitempty"`
	Code    string             `json:"code,omitempty"`
}

// handlePreview analyzes a batch like handleIngest without writing it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readBatch(w, r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	preview, err := s.service.PreviewBatch(r.Context(), core.IngestRequest{Name: name, Data: data})
	if err != nil {
		resp := newErrorResponse(err)
		writeJSONStatus(w, statusFor(err), PreviewResponse{
			Preview: preview,
			Message: resp.Message,
			Action:  resp.Action,
			Code:    resp.Code,
		})
		return
	}
	writeJSON(w, PreviewResponse{Preview: preview})
}

var errNoFile = errors.New("no file provided")

// readBatch returns the batch name and bytes, bounded by the configured
// maximum size.
func (s *Server) readBatch(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, tooLarge(err)
		}
		if len(data) == 0 {
			return "", nil, errNoFile
		}
		return r.URL.Query().Get("name"), data, nil
	}

	if err := r.ParseMultipartForm(maxSize); err != nil {
		return "", nil, tooLarge(err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errNoFile
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, tooLarge(err)
	}
	return filepath.Base(header.Filename), data, nil
}

func tooLarge(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errors.New("file too large")
	}
	return err
}

// handleUploadQueueStatus reports batch concurrency so clients can check
// whether the server can accept more batches.
func (s *Server) handleUploadQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.UploadLimiterStatus())
}
