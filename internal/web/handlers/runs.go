package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nestauk/asf-core-data/internal/store"
)

// RunsHandler serves persisted linkage runs
type RunsHandler struct {
	Store store.Store
}

// RunsListResponse is a page of runs
type RunsListResponse struct {
	Runs    []store.Run `json:"runs"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

// MatchesResponse lists the matches of one run
type MatchesResponse struct {
	RunID   string              `json:"run_id"`
	Total   int                 `json:"total"`
	Matches []store.MatchRecord `json:"matches"`
}

// Health reports whether the store is reachable
func (h *RunsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		zap.L().Warn("web: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListRuns returns runs newest first
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// Parse pagination parameters
	page := parseIntParam(query.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	perPage := parseIntParam(query.Get("per_page"), 50)
	if perPage < 1 || perPage > 1000 {
		perPage = 50
	}

	filter := store.RunFilter{
		Status: store.RunStatus(query.Get("status")),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}

	runs, err := h.Store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("web: list runs", zap.Error(err))
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}

	writeJSON(w, http.StatusOK, RunsListResponse{Runs: runs, Page: page, PerPage: perPage})
}

// GetRun returns one run with its stats
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		storeError(w, "Run not found", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListMatches returns every match of a run
func (h *RunsHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["id"]

	if _, err := h.Store.GetRun(ctx, runID); err != nil {
		storeError(w, "Run not found", err)
		return
	}

	matches, err := h.Store.ListMatches(ctx, runID)
	if err != nil {
		storeError(w, "Run not found", err)
		return
	}
	if matches == nil {
		matches = []store.MatchRecord{}
	}

	writeJSON(w, http.StatusOK, MatchesResponse{RunID: runID, Total: len(matches), Matches: matches})
}

// GetProperty returns the reconciled state of one property in a run
func (h *RunsHandler) GetProperty(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	prop, err := h.Store.GetProperty(r.Context(), vars["id"], vars["uprn"])
	if err != nil {
		storeError(w, "Property not found", err)
		return
	}
	writeJSON(w, http.StatusOK, prop)
}

func storeError(w http.ResponseWriter, notFound string, err error) {
	if eris.Is(err, store.ErrNotFound) {
		http.Error(w, notFound, http.StatusNotFound)
		return
	}
	zap.L().Error("web: store", zap.Error(err))
	http.Error(w, "Database error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("web: encode response", zap.Error(err))
	}
}

func parseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return defaultVal
}
