package handler

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/service"
)

const multipartMemory = 8 << 20

// deleteBookRequest is the optional body of DELETE /library/book/{id}.
// User is either a bare id or the client's user object.
type deleteBookRequest struct {
	User jsoniter.RawMessage `json:"user"`
}

// userID returns the id named by the body, or "" when none was sent.
func (d deleteBookRequest) userID() (string, error) {
	raw := bytes.TrimSpace(d.User)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var id string
	if raw[0] == '"' {
		err := json.Unmarshal(raw, &id)
		return id, err
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return "", err
	}
	return u.ID, nil
}

// ─── Catalog ─────────────────────────────────────────────────────────────────

// ListBooks handles GET /library
// Optional query filters: category, author, q.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := h.svc.Library.ListBooks(r.Context(), model.BookFilter{
		Category: q.Get("category"),
		Author:   q.Get("author"),
		Query:    q.Get("q"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if books == nil {
		books = []model.Book{}
	}

	writeJSON(w, http.StatusOK, books)
}

// GetBook handles GET /library/book/{id}
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.svc.Library.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// formFile returns the named upload, or nil when the part is absent.
func formFile(r *http.Request, field string) (*service.Upload, *multipart.FileHeader, io.Closer, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, err
	}
	return &service.Upload{Name: hdr.Filename, Reader: f}, hdr, f, nil
}

// AddBook handles POST /library/add-book (multipart/form-data)
// Fields: bookName, author, category, total, coverLink; files: cover, pdf.
func (h *Handler) AddBook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := model.AddBookRequest{
		Title:     r.FormValue("bookName"),
		Author:    r.FormValue("author"),
		Category:  r.FormValue("category"),
		CoverLink: r.FormValue("coverLink"),
	}
	if v := strings.TrimSpace(r.FormValue("total")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "total must be a positive integer")
			return
		}
		req.TotalCopies = n
	}

	cover, _, coverFile, err := formFile(r, "cover")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cover upload: "+err.Error())
		return
	}
	if coverFile != nil {
		defer coverFile.Close()
	}

	pdf, pdfHdr, pdfFile, err := formFile(r, "pdf")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pdf upload: "+err.Error())
		return
	}
	if pdfFile != nil {
		defer pdfFile.Close()
		if ct := pdfHdr.Header.Get("Content-Type"); ct != "" && ct != "application/pdf" && ct != "application/octet-stream" {
			writeError(w, http.StatusBadRequest, "pdf must be application/pdf")
			return
		}
	}

	book, err := h.svc.Library.AddBook(r.Context(), actor(r), req, cover, pdf)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, book)
}

// DeleteBook handles DELETE /library/book/{id}
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	var req deleteBookRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	userID, err := req.userID()
	if err != nil {
		badBody(w, err)
		return
	}
	if userID != "" && userID != actor(r) {
		h.fail(w, r, model.ErrForbidden)
		return
	}

	if err := h.svc.Library.DeleteBook(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "book deleted"})
}

// RateBook handles POST /library/rate
func (h *Handler) RateBook(w http.ResponseWriter, r *http.Request) {
	var req model.RateBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	avg, err := h.svc.Library.RateBook(r.Context(), actor(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.RateBookResponse{NewRating: avg})
}

// ─── Issuance workflow ───────────────────────────────────────────────────────

// RequestBook handles POST /library/requestBook/{bookId}
// Creates a pending issue request; no copy is reserved until approval.
func (h *Handler) RequestBook(w http.ResponseWriter, r *http.Request) {
	var req model.IssueBookRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	ir, err := h.svc.Library.RequestIssue(r.Context(), actor(r), req.UserID, chi.URLParam(r, "bookId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ir)
}

// ReturnBook handles POST /library/returnBook
func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	var req model.ReturnBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	book, err := h.svc.Library.ReturnBook(r.Context(), actor(r), req.UserID, req.BookID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "book returned", "book": book})
}

// HandleRequest handles POST /admin/handle-request
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req model.HandleRequestPayload
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	ir, err := h.svc.Library.HandleRequest(r.Context(), actor(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ir)
}

// PendingRequests handles GET|POST /admin/pending-requests
func (h *Handler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.Library.PendingRequests(r.Context(), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if views == nil {
		views = []model.PendingRequestView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// IssuedBooks handles GET /library/issued-books/{userId}
func (h *Handler) IssuedBooks(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.Library.IssuedBooks(r.Context(), actor(r), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// UserRequests handles GET /library/requests/{userId}
func (h *Handler) UserRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.Library.UserRequests(r.Context(), actor(r), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []model.IssueRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}
