package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shotam27/souchiJohoKanri/internal/core"
	"github.com/shotam27/souchiJohoKanri/internal/logging"
)

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseBoolParam reports whether a query parameter is set to a true value.
func parseBoolParam(r *http.Request, name string) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && b
}

// handleSearchDevices returns one page of canonical records.
func (s *Server) handleSearchDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.SearchFilter{
		Service:            q.Get("service"),
		Category:           q.Get("category"),
		EntityNameContains: q.Get("q"),
		IncludeSecret:      parseBoolParam(r, "include_secret"),
	}
	res, err := s.service.SearchCanonical(r.Context(), filter,
		parseIntParam(r, "page", 1), parseIntParam(r, "page_size", 0))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.service.ListServices(r.Context())
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, map[string][]string{"services": services})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ListCategories(r.Context(), r.URL.Query().Get("service"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, map[string][]string{"categories": categories})
}

// handleHistory lists recent batch outcomes, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListHistory(r.Context(), parseIntParam(r, "limit", core.DefaultHistoryLimit))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, map[string][]core.HistoryEntry{"batches": entries})
}

func (s *Server) handleListRelations(w http.ResponseWriter, r *http.Request) {
	relations, err := s.service.ListRelations(r.Context())
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, map[string][]core.Relation{"relations": relations})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ReconcileRelations(r.Context())
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, res)
}

// handleDeactivateRelation hides a (service, category) pair from listings.
func (s *Server) handleDeactivateRelation(w http.ResponseWriter, r *http.Request) {
	service, category := r.URL.Query().Get("service"), r.URL.Query().Get("category")
	if service == "" || category == "" {
		writeError(w, http.StatusBadRequest, "service and category are required")
		return
	}
	if err := s.service.Catalog().Deactivate(r.Context(), service, category); err != nil {
		respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.GetStatistics(r.Context())
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.service.ListCategoryTables(r.Context())
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, map[string][]string{"tables": tables})
}

func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	desc, err := s.service.DescribeTable(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, desc)
}

// handleExport streams one category as a CSV download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	service, category := r.URL.Query().Get("service"), r.URL.Query().Get("category")
	if service == "" || category == "" {
		writeError(w, http.StatusBadRequest, "service and category are required")
		return
	}

	res, err := s.service.ExportCategory(r.Context(), service, category,
		core.ExportOptions{IncludeSecret: parseBoolParam(r, "include_secret")})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	filename := fmt.Sprintf("%s_%s.csv", res.Table, time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := core.WriteCSV(w, res); err != nil {
		// Headers are sent; the client sees a truncated file.
		logging.FromContext(r.Context()).Error("export write failed", "table", res.Table, "error", err)
	}
}

// handleHealth pings storage and reports batch capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"backend": s.service.Dialect(),
		"uploads": s.service.UploadLimiterStatus(),
	}
	if err := s.service.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["error"] = sanitizeErrorMessage(err.Error())
	}
	writeJSONStatus(w, status, body)
}
