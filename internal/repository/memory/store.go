// Package memory is an in-process implementation of every repository port.
// A single mutex serialises all operations, which gives each call the same
// all-or-nothing behaviour as the PostgreSQL transactions.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository"
)

var (
	_ repository.CatalogStore      = (*Store)(nil)
	_ repository.MembershipStore   = (*Store)(nil)
	_ repository.LedgerStore       = (*Store)(nil)
	_ repository.IssuanceStore     = (*Store)(nil)
	_ repository.NotificationStore = (*Store)(nil)
	_ repository.ProgressStore     = (*Store)(nil)
	_ repository.ActivityLog       = (*Store)(nil)
	_ repository.SessionStore      = (*Store)(nil)
)

type pairKey struct {
	a, b string
}

// Store keeps all records in maps guarded by mu.
type Store struct {
	mu sync.Mutex

	books         map[string]*model.Book
	users         map[string]*model.User
	requests      map[string]*model.IssueRequest
	newBookReqs   map[string]*model.NewBookRequest
	ratings       map[pairKey]int // (book, user) -> rating
	notifications map[string]*model.Notification
	progress      map[pairKey]int // (user, book) -> page
	activity      []model.ReadingActivity
	sessions      map[string]model.Session
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		books:         make(map[string]*model.Book),
		users:         make(map[string]*model.User),
		requests:      make(map[string]*model.IssueRequest),
		newBookReqs:   make(map[string]*model.NewBookRequest),
		ratings:       make(map[pairKey]int),
		notifications: make(map[string]*model.Notification),
		progress:      make(map[pairKey]int),
		sessions:      make(map[string]model.Session),
	}
}

func copyBook(b *model.Book) *model.Book {
	c := *b
	return &c
}

func copyUser(u *model.User) *model.User {
	c := *u
	c.IssuedBooks = append([]model.IssuedBook{}, u.IssuedBooks...)
	return &c
}

func copyRequest(r *model.IssueRequest) *model.IssueRequest {
	c := *r
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// ─── Catalog ─────────────────────────────────────────────────────────────────

func (s *Store) CreateBook(_ context.Context, b *model.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[b.ID] = copyBook(b)
	return nil
}

func (s *Store) GetBook(_ context.Context, id string) (*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return nil, model.ErrBookNotFound
	}
	return copyBook(b), nil
}

func (s *Store) GetBooks(_ context.Context, ids []string) (map[string]*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.Book, len(ids))
	for _, id := range ids {
		if b, ok := s.books[id]; ok {
			out[id] = copyBook(b)
		}
	}
	return out, nil
}

func (s *Store) ListBooks(_ context.Context, filter model.BookFilter) ([]model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(filter.Query))
	var out []model.Book
	for _, b := range s.books {
		if filter.Category != "" && b.Category != filter.Category {
			continue
		}
		if filter.Author != "" && b.Author != filter.Author {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(b.Title), q) &&
			!strings.Contains(strings.ToLower(b.Author), q) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ─── Membership ──────────────────────────────────────────────────────────────

func (s *Store) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return model.ErrUsernameTaken
		}
		if existing.Email == u.Email {
			return model.ErrEmailTaken
		}
	}
	c := copyUser(u)
	if c.IssuedBooks == nil {
		c.IssuedBooks = []model.IssuedBook{}
	}
	s.users[u.ID] = c
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (s *Store) GetUserByLogin(_ context.Context, emailOrUsername string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(emailOrUsername)
	for _, u := range s.users {
		if u.Email == email || u.Username == emailOrUsername {
			return copyUser(u), nil
		}
	}
	return nil, model.ErrUserNotFound
}

func (s *Store) GetUsers(_ context.Context, ids []string) (map[string]*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			c := copyUser(u)
			c.IssuedBooks = nil
			out[id] = c
		}
	}
	return out, nil
}

func (s *Store) SetAdmin(_ context.Context, id string, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.IsAdmin = isAdmin
	return nil
}

// ─── Ledger ──────────────────────────────────────────────────────────────────

func (s *Store) GetIssueRequest(_ context.Context, id string) (*model.IssueRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, model.ErrRequestNotFound
	}
	return copyRequest(r), nil
}

func (s *Store) ListPendingRequests(_ context.Context) ([]model.PendingRequestView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var views []model.PendingRequestView
	for _, r := range s.requests {
		if r.Status != model.RequestPending {
			continue
		}
		v := model.PendingRequestView{IssueRequest: *copyRequest(r)}
		if b, ok := s.books[r.BookID]; ok {
			v.BookTitle = b.Title
			v.AvailableCopies = b.AvailableCopies
		}
		if u, ok := s.users[r.UserID]; ok {
			v.Username = u.Username
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].RequestDate.Equal(views[j].RequestDate) {
			return views[i].RequestDate.Before(views[j].RequestDate)
		}
		return views[i].ID < views[j].ID
	})
	return views, nil
}

func (s *Store) ListUserRequests(_ context.Context, userID string) ([]model.IssueRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.IssueRequest
	for _, r := range s.requests {
		if r.UserID == userID {
			out = append(out, *copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestDate.Equal(out[j].RequestDate) {
			return out[i].RequestDate.After(out[j].RequestDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) CreateNewBookRequest(_ context.Context, nb *model.NewBookRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *nb
	s.newBookReqs[nb.ID] = &c
	return nil
}

func (s *Store) ListNewBookRequests(_ context.Context) ([]model.NewBookRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.NewBookRequest
	for _, nb := range s.newBookReqs {
		out = append(out, *nb)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) DecideNewBookRequest(_ context.Context, id string, status model.NewBookRequestStatus, at time.Time) (*model.NewBookRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, ok := s.newBookReqs[id]
	if !ok {
		return nil, model.ErrRequestNotFound
	}
	if nb.Status != model.NewBookPending {
		return nil, model.ErrRequestNotPending
	}
	nb.Status = status
	nb.DecidedAt = &at
	c := *nb
	return &c, nil
}

// ─── Issuance ────────────────────────────────────────────────────────────────

func (s *Store) CreateIssueRequest(_ context.Context, req *model.IssueRequest, requireAvailable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[req.BookID]
	if !ok {
		return model.ErrBookNotFound
	}
	user, ok := s.users[req.UserID]
	if !ok {
		return model.ErrUserNotFound
	}
	if user.Holds(req.BookID) {
		return model.ErrAlreadyIssued
	}
	if requireAvailable && book.AvailableCopies <= 0 {
		return model.ErrNoCopiesAvailable
	}
	for _, r := range s.requests {
		if r.Status == model.RequestPending && r.UserID == req.UserID && r.BookID == req.BookID {
			return model.ErrDuplicateRequest
		}
	}
	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *Store) pendingRequest(id string) (*model.IssueRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, model.ErrRequestNotFound
	}
	if r.Status != model.RequestPending {
		return nil, model.ErrRequestNotPending
	}
	return r, nil
}

func (s *Store) ApproveIssueRequest(_ context.Context, requestID, adminID string, at time.Time) (*model.IssueRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.pendingRequest(requestID)
	if err != nil {
		return nil, err
	}
	book, ok := s.books[r.BookID]
	if !ok {
		return nil, model.ErrBookNotFound
	}
	if book.AvailableCopies <= 0 {
		return nil, model.ErrNoCopiesAvailable
	}
	user, ok := s.users[r.UserID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	if user.Holds(r.BookID) {
		return nil, model.ErrAlreadyIssued
	}

	user.IssuedBooks = append(user.IssuedBooks, model.IssuedBook{BookID: r.BookID, IssueDate: at})
	book.AvailableCopies--
	book.IssuedCopies++
	r.Status = model.RequestApproved
	r.DecidedAt = &at
	r.DecidedBy = adminID
	return copyRequest(r), nil
}

func (s *Store) DeclineIssueRequest(_ context.Context, requestID, adminID string, at time.Time) (*model.IssueRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.pendingRequest(requestID)
	if err != nil {
		return nil, err
	}
	r.Status = model.RequestDeclined
	r.DecidedAt = &at
	r.DecidedBy = adminID
	return copyRequest(r), nil
}

func (s *Store) ReturnBook(_ context.Context, userID, bookID string) (*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[bookID]
	if !ok {
		return nil, model.ErrBookNotFound
	}
	user, ok := s.users[userID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	idx := -1
	for i, ib := range user.IssuedBooks {
		if ib.BookID == bookID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, model.ErrBookNotIssued
	}

	user.IssuedBooks = append(user.IssuedBooks[:idx], user.IssuedBooks[idx+1:]...)
	book.AvailableCopies++
	book.IssuedCopies--
	return copyBook(book), nil
}

func (s *Store) DeleteBook(_ context.Context, bookID string) (*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[bookID]
	if !ok {
		return nil, model.ErrBookNotFound
	}
	if book.IssuedCopies > 0 {
		return nil, model.ErrBookInUse
	}
	for _, r := range s.requests {
		if r.BookID == bookID && r.Status == model.RequestPending {
			return nil, model.ErrBookInUse
		}
	}

	delete(s.books, bookID)
	for k := range s.ratings {
		if k.a == bookID {
			delete(s.ratings, k)
		}
	}
	for k := range s.progress {
		if k.b == bookID {
			delete(s.progress, k)
		}
	}
	return copyBook(book), nil
}

func (s *Store) RateBook(_ context.Context, bookID, userID string, rating int, _ time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[bookID]
	if !ok {
		return 0, model.ErrBookNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return 0, model.ErrUserNotFound
	}

	s.ratings[pairKey{bookID, userID}] = rating
	var sum, n int
	for k, v := range s.ratings {
		if k.a == bookID {
			sum += v
			n++
		}
	}
	book.Rating = float64(sum) / float64(n)
	return book.Rating, nil
}

// ─── Notifications ───────────────────────────────────────────────────────────

func (s *Store) InsertNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[n.UserID]; !ok {
		return model.ErrUserNotFound
	}
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

func (s *Store) InsertForAllUsers(_ context.Context, tmpl model.Notification) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Notification, 0, len(s.users))
	for id := range s.users {
		n := tmpl
		n.ID = uuid.NewString()
		n.UserID = id
		n.Read = false
		s.notifications[n.ID] = &n
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Notification{}
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return model.ErrNotificationNotFound
	}
	n.Read = true
	return nil
}

func (s *Store) ClearNotifications(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, n := range s.notifications {
		if n.UserID == userID {
			delete(s.notifications, id)
			removed++
		}
	}
	return removed, nil
}

// ─── Progress & activity ─────────────────────────────────────────────────────

func (s *Store) UpsertProgress(_ context.Context, userID, bookID string, page int, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return model.ErrUserNotFound
	}
	if _, ok := s.books[bookID]; !ok {
		return model.ErrBookNotFound
	}
	s.progress[pairKey{userID, bookID}] = page
	return nil
}

func (s *Store) GetProgress(_ context.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for k, page := range s.progress {
		if k.a == userID {
			out[k.b] = page
		}
	}
	return out, nil
}

func (s *Store) AppendActivity(_ context.Context, a *model.ReadingActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, *a)
	return nil
}

func (s *Store) RecentActivity(_ context.Context, offset, limit int) ([]model.ReadingActivity, error) {
	s.mu.Lock()
	sorted := append([]model.ReadingActivity{}, s.activity...)
	s.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		}
		return sorted[i].ID > sorted[j].ID
	})
	if offset < 0 || limit < 0 || offset >= len(sorted) {
		return []model.ReadingActivity{}, nil
	}
	end := offset + limit
	if end > len(sorted) || end < offset {
		end = len(sorted)
	}
	return sorted[offset:end], nil
}

// ─── Sessions ────────────────────────────────────────────────────────────────

func (s *Store) CreateSession(_ context.Context, session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[session.UserID]; !ok {
		return model.ErrUserNotFound
	}
	s.sessions[session.TokenHash] = session
	return nil
}

func (s *Store) GetSession(_ context.Context, tokenHash string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, model.ErrSessionExpired
	}
	return &session, nil
}

func (s *Store) DeleteSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}
