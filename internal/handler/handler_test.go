package handler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/filestore"
	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/notify"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository/memory"
	"github.com/Shivanand-hulikatti/digital-library/internal/service"
)

const testAdminCode = "open-sesame"

type testEnv struct {
	t      *testing.T
	router http.Handler
	store  *memory.Store
	svc    Services
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New()

	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	opts.UploadDir = files.Root()

	notes := service.NewNotificationService(store, store, notify.NewMemoryBroker(logger), logger)
	svc := Services{
		Auth:          service.NewAuthService(store, store, testAdminCode, time.Hour, logger),
		Library:       service.NewLibraryService(store, store, store, store, notes, files, service.LibraryOptions{}, logger),
		Notifications: notes,
		Progress:      service.NewProgressService(store, store, store, store, logger),
		BookRequests:  service.NewBookRequestService(store, store, notes, logger),
		Chat:          service.NewChatService(store),
	}
	return &testEnv{
		t:      t,
		router: New(svc, opts, logger).Routes(),
		store:  store,
		svc:    svc,
	}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// signup registers and logs in a user, returning its token and id.
func (e *testEnv) signup(username string, admin bool) (string, string) {
	e.t.Helper()
	reg := model.RegisterRequest{
		Email:    username + "@example.com",
		Username: username,
		Password: "password1",
		IsAdmin:  admin,
	}
	if admin {
		reg.AdminCode = testAdminCode
	}
	rec := e.do(http.MethodPost, "/register", "", reg)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(http.MethodPost, "/login", "", model.LoginRequest{EmailOrUsername: username, Password: "password1"})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp model.LoginResponse
	decodeBody(e.t, rec, &resp)
	require.True(e.t, resp.Success)
	return resp.Token, resp.User.ID
}

func (e *testEnv) seedBook(title string, total, available int) *model.Book {
	e.t.Helper()
	b := &model.Book{
		ID:              uuid.NewString(),
		Title:           title,
		Author:          "Octavia Butler",
		Category:        "sci-fi",
		TotalCopies:     total,
		AvailableCopies: available,
		IssuedCopies:    total - available,
	}
	require.NoError(e.t, e.store.CreateBook(context.Background(), b))
	return b
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	decodeBody(t, rec, &resp)
	return resp.Error
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrBookNotFound, http.StatusNotFound},
		{model.ErrBookNotIssued, http.StatusNotFound},
		{model.ErrNoCopiesAvailable, http.StatusConflict},
		{model.ErrDuplicateRequest, http.StatusConflict},
		{model.ErrAdminRequired, http.StatusForbidden},
		{model.ErrForbidden, http.StatusForbidden},
		{model.ErrSessionExpired, http.StatusUnauthorized},
		{model.Validationf("rating must be between 1 and 5"), http.StatusBadRequest},
		{fmt.Errorf("delete: %w", model.ErrBookInUse), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestHealthCheck(t *testing.T) {
	e := newTestEnv(t, Options{})
	rec := e.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := newTestEnv(t, Options{Ping: func(context.Context) error { return errors.New("db down") }})
	rec = down.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t, Options{})
	b := e.seedBook("Kindred", 1, 1)

	rec := e.do(http.MethodPost, "/library/requestBook/"+b.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/library/requestBook/"+b.ID, "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _ := e.signup("reader", false)
	rec = e.do(http.MethodPost, "/library/signout", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(http.MethodPost, "/library/requestBook/"+b.ID, token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterAndLoginErrors(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.signup("octavia", false)

	rec := e.do(http.MethodPost, "/register", "", model.RegisterRequest{
		Email: "other@example.com", Username: "octavia", Password: "password1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(http.MethodPost, "/register", "", model.RegisterRequest{
		Email: "x@example.com", Username: "mallory", Password: "password1", IsAdmin: true, AdminCode: "nope",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid admin code", errorMessage(t, rec))

	rec = e.do(http.MethodPost, "/login", "", model.LoginRequest{EmailOrUsername: "octavia", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/login", "", map[string]string{"unexpected": "field"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssuanceFlow(t *testing.T) {
	e := newTestEnv(t, Options{})
	adminToken, _ := e.signup("librarian", true)
	userToken, userID := e.signup("reader", false)
	b := e.seedBook("Parable of the Sower", 2, 2)

	rec := e.do(http.MethodPost, "/library/requestBook/"+b.ID, userToken, model.IssueBookRequest{UserID: userID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ir model.IssueRequest
	decodeBody(t, rec, &ir)
	assert.Equal(t, model.RequestPending, ir.Status)

	rec = e.do(http.MethodPost, "/library/requestBook/"+b.ID, userToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Members cannot decide.
	payload := model.HandleRequestPayload{BookID: b.ID, RequestID: ir.ID, UserID: userID, Status: model.RequestApproved}
	rec = e.do(http.MethodPost, "/admin/handle-request", userToken, payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodGet, "/admin/pending-requests", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []model.PendingRequestView
	decodeBody(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "reader", pending[0].Username)

	rec = e.do(http.MethodPost, "/admin/handle-request", adminToken, payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodGet, "/library/issued-books/"+userID, userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var issued []model.IssuedBookView
	decodeBody(t, rec, &issued)
	require.Len(t, issued, 1)
	assert.Equal(t, b.ID, issued[0].BookID)

	rec = e.do(http.MethodGet, "/library/book/"+b.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Book
	decodeBody(t, rec, &got)
	assert.Equal(t, 1, got.AvailableCopies)
	assert.Equal(t, 1, got.IssuedCopies)

	ret := model.ReturnBookRequest{UserID: userID, BookID: b.ID}
	rec = e.do(http.MethodPost, "/library/returnBook", userToken, ret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodPost, "/library/returnBook", userToken, ret)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrBookNotIssued.Error(), errorMessage(t, rec))

	rec = e.do(http.MethodGet, "/notifications/"+userID, userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notes []model.Notification
	decodeBody(t, rec, &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationIssueApproved, notes[0].Type)

	rec = e.do(http.MethodPost, "/notifications/"+notes[0].ID+"/read", userToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(http.MethodPost, "/notifications/"+notes[0].ID+"/read", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodPost, "/notifications/"+userID+"/clear", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
}

func TestActingForAnotherUserIsForbidden(t *testing.T) {
	e := newTestEnv(t, Options{})
	aliceToken, _ := e.signup("alice", false)
	_, bobID := e.signup("bob", false)
	b := e.seedBook("Dawn", 1, 1)

	rec := e.do(http.MethodPost, "/library/requestBook/"+b.ID, aliceToken, model.IssueBookRequest{UserID: bobID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodGet, "/notifications/"+bobID, aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodGet, "/library/reading-progress/"+bobID, aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListBooksAndRate(t *testing.T) {
	e := newTestEnv(t, Options{})

	rec := e.do(http.MethodGet, "/library", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	b := e.seedBook("Fledgling", 1, 1)
	e.seedBook("Wild Seed", 1, 1)

	rec = e.do(http.MethodGet, "/library?q=fledg", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var books []model.Book
	decodeBody(t, rec, &books)
	require.Len(t, books, 1)
	assert.Equal(t, b.ID, books[0].ID)

	token, _ := e.signup("rater", false)
	rec = e.do(http.MethodPost, "/library/rate", token, model.RateBookRequest{BookID: b.ID, Rating: 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"newRating":4}`, rec.Body.String())

	rec = e.do(http.MethodPost, "/library/rate", token, model.RateBookRequest{BookID: b.ID, Rating: 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/library/book/not-an-id", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func buildBookForm(t *testing.T, fields map[string]string, pdfType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}

	cover, err := mw.CreateFormFile("cover", "cover.png")
	require.NoError(t, err)
	_, err = cover.Write([]byte("\x89PNG"))
	require.NoError(t, err)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="pdf"; filename="book.pdf"`)
	hdr.Set("Content-Type", pdfType)
	pdf, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = pdf.Write([]byte("%PDF-1.7"))
	require.NoError(t, err)

	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAddAndDeleteBook(t *testing.T) {
	e := newTestEnv(t, Options{})
	adminToken, _ := e.signup("librarian", true)
	userToken, userID := e.signup("reader", false)

	post := func(token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/library/add-book", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		return rec
	}

	fields := map[string]string{"bookName": "Lilith's Brood", "author": "Octavia Butler", "category": "sci-fi", "total": "3"}

	body, ct := buildBookForm(t, fields, "application/pdf")
	rec := post(userToken, body, ct)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body, ct = buildBookForm(t, fields, "text/html")
	rec = post(adminToken, body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = buildBookForm(t, map[string]string{"bookName": "x", "author": "y", "total": "many"}, "application/pdf")
	rec = post(adminToken, body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = buildBookForm(t, fields, "application/pdf")
	rec = post(adminToken, body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var book model.Book
	decodeBody(t, rec, &book)
	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)
	require.True(t, strings.HasPrefix(book.CoverRef, filestore.PublicPrefix+filestore.KindCover+"/"))
	require.True(t, book.HasContent())

	rec = e.do(http.MethodGet, book.ContentRef, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.7", rec.Body.String())

	rec = e.do(http.MethodGet, "/notifications/"+userID, userToken, nil)
	var notes []model.Notification
	decodeBody(t, rec, &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationNewBook, notes[0].Type)

	rec = e.do(http.MethodDelete, "/library/book/"+book.ID, userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodDelete, "/library/book/"+book.ID, adminToken, map[string]string{"user": userID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodDelete, "/library/book/"+book.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodGet, book.ContentRef, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteBookWithUserObject(t *testing.T) {
	e := newTestEnv(t, Options{})
	adminToken, adminID := e.signup("librarian", true)
	_, userID := e.signup("reader", false)
	b := e.seedBook("Fledgling", 1, 1)

	rec := e.do(http.MethodDelete, "/library/book/"+b.ID, adminToken,
		map[string]any{"user": map[string]any{"_id": userID, "isAdmin": false}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodDelete, "/library/book/"+b.ID, adminToken, map[string]any{"user": 42})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodDelete, "/library/book/"+b.ID, adminToken,
		map[string]any{"user": map[string]any{"_id": adminID, "username": "librarian", "isAdmin": true}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodGet, "/library/book/"+b.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadingProgressEndpoints(t *testing.T) {
	e := newTestEnv(t, Options{})
	token, userID := e.signup("reader", false)
	b := e.seedBook("Bloodchild", 1, 1)

	for page := 1; page <= 6; page++ {
		rec := e.do(http.MethodPost, "/library/reading-progress", token,
			model.SaveProgressRequest{UserID: userID, BookID: b.ID, PageNumber: page})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := e.do(http.MethodGet, "/library/reading-progress/"+userID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{%q:6}`, b.ID), rec.Body.String())

	rec = e.do(http.MethodGet, "/library/reading-activity/recent?page=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed []model.ActivityView
	decodeBody(t, rec, &feed)
	require.Len(t, feed, 1)
	assert.Equal(t, 1, feed[0].Page)
	assert.Equal(t, "reader", feed[0].UserName)

	rec = e.do(http.MethodGet, "/library/reading-activity/recent?page=two", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/library/reading-activity/recent?page=3689348814741910324", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestBookRequestEndpoints(t *testing.T) {
	e := newTestEnv(t, Options{})
	adminToken, _ := e.signup("librarian", true)
	userToken, userID := e.signup("reader", false)

	rec := e.do(http.MethodPost, "/library/request-new-book", userToken,
		model.NewBookRequestPayload{BookName: "Mind of My Mind", Author: "Octavia Butler"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.NewBookRequest
	decodeBody(t, rec, &created)

	// Echoed requester fields from the web client are accepted and ignored.
	rec = e.do(http.MethodPost, "/library/request-new-book", userToken, map[string]string{
		"userId":      userID,
		"userName":    "someone else",
		"userEmail":   "someone@example.com",
		"bookName":    "Wild Seed",
		"author":      "Octavia Butler",
		"description": "Doro and Anyanwu",
		"status":      "approved",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var echoed model.NewBookRequest
	decodeBody(t, rec, &echoed)
	assert.Equal(t, model.NewBookPending, echoed.Status)
	assert.Equal(t, userID, echoed.UserID)
	assert.Equal(t, "reader", echoed.UserName)

	rec = e.do(http.MethodGet, "/library/book-requests", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPut, "/library/book-requests/"+created.ID, adminToken,
		model.UpdateNewBookRequestPayload{Status: model.NewBookRejected})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodPut, "/library/book-requests/"+created.ID, adminToken,
		model.UpdateNewBookRequestPayload{Status: model.NewBookApproved})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestChatEndpoint(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.seedBook("Kindred", 1, 1)

	rec := e.do(http.MethodPost, "/library/chat", "", model.ChatRequest{Message: "is kindred in?"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.ChatResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Response, "Kindred")

	rec = e.do(http.MethodPost, "/library/chat", "", map[string]any{
		"message": "kindred",
		"books":   []map[string]string{{"bookName": "Not In The Catalog"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Response, "Kindred")

	rec = e.do(http.MethodPost, "/library/chat", "", model.ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, Options{CORSOrigin: "https://library.example.com"})
	rec := e.do(http.MethodOptions, "/library/rate", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://library.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAccessTokenQueryOnlyOnStream(t *testing.T) {
	e := newTestEnv(t, Options{})
	token, userID := e.signup("listener", false)

	rec := e.do(http.MethodGet, "/notifications/"+userID+"?access_token="+token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/library/signout?access_token="+token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodGet, "/notifications/"+userID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotificationStream(t *testing.T) {
	e := newTestEnv(t, Options{})
	token, userID := e.signup("listener", false)

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/notifications/"+userID+"/stream?access_token="+token, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Headers are flushed after the subscription is registered.
	sent, err := e.svc.Notifications.Notify(ctx, userID, model.NotificationGeneric, "hello over sse", "")
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var got model.Notification
		require.NoError(t, json.Unmarshal([]byte(data), &got))
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "hello over sse", got.Message)
		return
	}
}
