package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

// SaveProgress handles POST /library/reading-progress
func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	var req model.SaveProgressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	if err := h.svc.Progress.SaveProgress(r.Context(), actor(r), req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetProgress handles GET /library/reading-progress/{userId}
// Returns an object mapping bookId to the last page read.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.svc.Progress.GetProgress(r.Context(), actor(r), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if progress == nil {
		progress = map[string]int{}
	}
	writeJSON(w, http.StatusOK, progress)
}

// RecentActivity handles GET /library/reading-activity/recent?page=N
func (h *Handler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "page must be an integer")
			return
		}
		page = n
	}

	views, err := h.svc.Progress.RecentActivity(r.Context(), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}
