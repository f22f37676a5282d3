package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/domain/services"
	"arbor/internal/httputil"
)

// DirectoryHandler handles directory tree HTTP requests
type DirectoryHandler struct {
	directoryService services.DirectoryService
	searchService    services.SearchSyncService
	logger           *slog.Logger
}

// NewDirectoryHandler creates a new directory handler
func NewDirectoryHandler(
	directoryService services.DirectoryService,
	searchService services.SearchSyncService,
	logger *slog.Logger,
) *DirectoryHandler {
	return &DirectoryHandler{
		directoryService: directoryService,
		searchService:    searchService,
		logger:           logger,
	}
}

// ListDirectories lists children of a directory, or the nested subtree
// GET /api/directories?parent_id=&recursive=
func (h *DirectoryHandler) ListDirectories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	parentID := optionalID(q.Get("parent_id"))
	recursive := q.Get("recursive") == "true"

	nodes, err := h.directoryService.ListDirectories(r.Context(), parentID, recursive)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"directories": nodes,
	})
}

// GetDirectory retrieves a directory with its breadcrumb
// GET /api/directories/{id}
func (h *DirectoryHandler) GetDirectory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, http.StatusBadRequest, "directory id is required")
		return
	}

	detail, err := h.directoryService.GetDirectory(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, detail)
}

// CreateDirectory creates a new directory
// POST /api/directories
// Returns 201 if created, 409 with the existing directory if the name is taken
func (h *DirectoryHandler) CreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req services.CreateDirectoryRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dir, err := h.directoryService.CreateDirectory(r.Context(), &req)
	if err != nil {
		HandleCreateConflict(w, err, func() (*models.Directory, error) {
			var conflictErr *domain.ConflictError
			if errors.As(err, &conflictErr) && conflictErr.ResourceID != "" {
				detail, getErr := h.directoryService.GetDirectory(r.Context(), conflictErr.ResourceID)
				if getErr != nil {
					return nil, getErr
				}
				return detail.Directory, nil
			}
			return nil, err
		})
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, dir)
}

// UpdateDirectory renames a directory
// PUT /api/directories/{id}
func (h *DirectoryHandler) UpdateDirectory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, http.StatusBadRequest, "directory id is required")
		return
	}

	var req services.UpdateDirectoryRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dir, err := h.directoryService.UpdateDirectory(r.Context(), id, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, dir)
}

// DeleteDirectory deletes a directory, cascading over its subtree when asked
// DELETE /api/directories/{id}?cascade=true
// Returns the removed directory and document ids
func (h *DirectoryHandler) DeleteDirectory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, http.StatusBadRequest, "directory id is required")
		return
	}

	cascade := r.URL.Query().Get("cascade") == "true"

	result, err := h.directoryService.DeleteDirectory(r.Context(), id, cascade)
	if err != nil {
		handleError(w, err)
		return
	}

	// Best-effort index cleanup for the cascaded documents. The delete has
	// already committed; an unreachable index only delays convergence until
	// the next reindex.
	for _, docID := range result.DocumentIDs {
		if err := h.searchService.DeleteDocumentIndex(r.Context(), docID); err != nil {
			h.logger.Warn("index cleanup failed after cascade delete",
				"document_id", docID, "error", err)
		}
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}

// MoveDirectory reparents a directory
// POST /api/directories/move
func (h *DirectoryHandler) MoveDirectory(w http.ResponseWriter, r *http.Request) {
	var req services.MoveDirectoryRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.directoryService.MoveDirectory(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}

// ReorderDirectories applies a full permutation of a sibling set
// POST /api/directories/reorder
func (h *DirectoryHandler) ReorderDirectories(w http.ResponseWriter, r *http.Request) {
	var req services.ReorderDirectoriesRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dirs, err := h.directoryService.ReorderDirectories(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"directories": dirs,
	})
}

// GetDirectoryStats reports child and recursive counts for a directory,
// or global counts when id is omitted
// GET /api/directories/stats?id=
func (h *DirectoryHandler) GetDirectoryStats(w http.ResponseWriter, r *http.Request) {
	id := optionalID(r.URL.Query().Get("id"))

	stats, err := h.directoryService.GetDirectoryStats(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, stats)
}
