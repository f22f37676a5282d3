package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"arbor/internal/domain/services"
	"arbor/internal/httputil"
)

// SearchHandler handles search index HTTP requests
type SearchHandler struct {
	searchService services.SearchSyncService
	logger        *slog.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searchService services.SearchSyncService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		logger:        logger,
	}
}

// GetSuggestions runs a ranked prefix query against the live index
// GET /api/search/suggestions?prefix=&limit=
func (h *SearchHandler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := q.Get("prefix")

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httputil.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	results, err := h.searchService.GetSuggestions(r.Context(), prefix, limit)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, results)
}

// GetStatus reports the index health snapshot
// GET /api/search/status
func (h *SearchHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.searchService.GetStatus(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, status)
}

// Initialize ensures the index schema exists; safe to call repeatedly
// POST /api/search/initialize
func (h *SearchHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	status, err := h.searchService.Initialize(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, status)
}

// Reindex rebuilds the whole index and swaps it live
// POST /api/search/reindex
// Returns 409 when a rebuild is already running
func (h *SearchHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	summary, err := h.searchService.ReindexAll(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, summary)
}

// IndexDocument synchronizes one document into the index
// POST /api/search/documents/{id}/index
func (h *SearchHandler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, http.StatusBadRequest, "document id is required")
		return
	}

	if err := h.searchService.IndexDocument(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteDocumentIndex removes one document from the index; absent ids succeed
// DELETE /api/search/documents/{id}/index
func (h *SearchHandler) DeleteDocumentIndex(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, http.StatusBadRequest, "document id is required")
		return
	}

	if err := h.searchService.DeleteDocumentIndex(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
