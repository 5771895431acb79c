package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

// CreateBookRequest handles POST /library/request-new-book
func (h *Handler) CreateBookRequest(w http.ResponseWriter, r *http.Request) {
	var req model.NewBookRequestPayload
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	created, err := h.svc.BookRequests.Create(r.Context(), actor(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListBookRequests handles GET /library/book-requests
func (h *Handler) ListBookRequests(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.BookRequests.List(r.Context(), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.NewBookRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

// DecideBookRequest handles PUT /library/book-requests/{id}
func (h *Handler) DecideBookRequest(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateNewBookRequestPayload
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	decided, err := h.svc.BookRequests.Decide(r.Context(), actor(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

// Chat handles POST /library/chat
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	resp, err := h.svc.Chat.Answer(r.Context(), req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
