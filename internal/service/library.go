package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/filestore"
	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository"
)

const (
	defaultTotalCopies = 5
	maxTotalCopies     = 10_000
)

// FileStore persists uploaded covers and PDFs.
type FileStore interface {
	Save(kind, originalName string, r io.Reader) (string, error)
	Remove(ref string) error
}

// Upload is one file part of the add-book form.
type Upload struct {
	Name   string
	Reader io.Reader
}

// LibraryOptions tunes workflow policy.
type LibraryOptions struct {
	// RequestRequiresAvailability refuses issue requests for books with no
	// available copies. Approval always re-checks availability.
	RequestRequiresAvailability bool
}

// LibraryService is the issuance workflow engine. It is the only caller of
// the IssuanceStore, which owns copy counts and issued-books sets.
type LibraryService struct {
	access
	catalog  repository.CatalogStore
	ledger   repository.LedgerStore
	issuance repository.IssuanceStore
	notifier *NotificationService
	files    FileStore
	opts     LibraryOptions
	logger   *zap.Logger
	now      Clock
}

// NewLibraryService constructs a LibraryService with its dependencies.
func NewLibraryService(
	catalog repository.CatalogStore,
	members repository.MembershipStore,
	ledger repository.LedgerStore,
	issuance repository.IssuanceStore,
	notifier *NotificationService,
	files FileStore,
	opts LibraryOptions,
	logger *zap.Logger,
) *LibraryService {
	return &LibraryService{
		access:   access{members: members},
		catalog:  catalog,
		ledger:   ledger,
		issuance: issuance,
		notifier: notifier,
		files:    files,
		opts:     opts,
		logger:   logger,
		now:      utcNow,
	}
}

// ─── Catalog ─────────────────────────────────────────────────────────────────

// ListBooks returns the catalog, optionally filtered.
func (s *LibraryService) ListBooks(ctx context.Context, filter model.BookFilter) ([]model.Book, error) {
	filter.Category = strings.TrimSpace(filter.Category)
	filter.Author = strings.TrimSpace(filter.Author)
	return s.catalog.ListBooks(ctx, filter)
}

// GetBook returns a single book by ID.
func (s *LibraryService) GetBook(ctx context.Context, id string) (*model.Book, error) {
	if err := parseID("bookId", id); err != nil {
		return nil, err
	}
	return s.catalog.GetBook(ctx, id)
}

// AddBook creates a fully available book, stores its files and announces it
// to every user.
func (s *LibraryService) AddBook(ctx context.Context, actorID string, req model.AddBookRequest, cover, pdf *Upload) (*model.Book, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	req.Category = strings.TrimSpace(req.Category)
	if req.Title == "" {
		return nil, model.Validationf("bookName is required")
	}
	if req.Author == "" {
		return nil, model.Validationf("author is required")
	}
	if req.TotalCopies == 0 {
		req.TotalCopies = defaultTotalCopies
	}
	if req.TotalCopies < 0 || req.TotalCopies > maxTotalCopies {
		return nil, model.Validationf("total must be between 1 and %d", maxTotalCopies)
	}

	book := &model.Book{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Author:          req.Author,
		Category:        req.Category,
		CoverRef:        strings.TrimSpace(req.CoverLink),
		TotalCopies:     req.TotalCopies,
		AvailableCopies: req.TotalCopies,
		CreatedAt:       s.now(),
	}

	var saved []string
	cleanup := func() {
		for _, ref := range saved {
			if err := s.files.Remove(ref); err != nil {
				s.logger.Warn("failed to remove upload", zap.String("ref", ref), zap.Error(err))
			}
		}
	}

	if cover != nil {
		ref, err := s.saveUpload(filestore.KindCover, cover)
		if err != nil {
			return nil, err
		}
		saved = append(saved, ref)
		book.CoverRef = ref
	}
	if pdf != nil {
		ref, err := s.saveUpload(filestore.KindPDF, pdf)
		if err != nil {
			cleanup()
			return nil, err
		}
		saved = append(saved, ref)
		book.ContentRef = ref
	}

	if err := s.catalog.CreateBook(ctx, book); err != nil {
		cleanup()
		return nil, fmt.Errorf("add book: %w", err)
	}

	s.logger.Info("book added",
		zap.String("book_id", book.ID),
		zap.String("title", book.Title),
		zap.Int("total", book.TotalCopies),
	)
	s.notifier.BroadcastNewBook(ctx, book)
	return book, nil
}

func (s *LibraryService) saveUpload(kind string, u *Upload) (string, error) {
	ref, err := s.files.Save(kind, u.Name, u.Reader)
	if err != nil {
		if errors.Is(err, filestore.ErrUnsupportedType) {
			return "", model.Validationf("%s: %v", strings.TrimSuffix(kind, "s"), err)
		}
		return "", fmt.Errorf("save upload: %w", err)
	}
	return ref, nil
}

// DeleteBook removes an idle book and tells every user about it. Books with
// issued copies or pending requests are refused with ErrBookInUse.
func (s *LibraryService) DeleteBook(ctx context.Context, actorID, bookID string) error {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := parseID("bookId", bookID); err != nil {
		return err
	}

	book, err := s.issuance.DeleteBook(ctx, bookID)
	if err != nil {
		return err
	}
	for _, ref := range []string{book.CoverRef, book.ContentRef} {
		if ref == "" {
			continue
		}
		if err := s.files.Remove(ref); err != nil {
			s.logger.Warn("failed to remove book file", zap.String("ref", ref), zap.Error(err))
		}
	}

	s.logger.Info("book deleted", zap.String("book_id", book.ID), zap.String("actor_id", actorID))
	s.notifier.BroadcastBookDeleted(ctx, book)
	return nil
}

// RateBook records the actor's rating and returns the new mean.
func (s *LibraryService) RateBook(ctx context.Context, actorID string, req model.RateBookRequest) (float64, error) {
	if err := parseID("bookId", req.BookID); err != nil {
		return 0, err
	}
	if req.UserID != "" && req.UserID != actorID {
		return 0, model.ErrForbidden
	}
	if req.Rating < 1 || req.Rating > 5 {
		return 0, model.Validationf("rating must be between 1 and 5")
	}
	return s.issuance.RateBook(ctx, req.BookID, actorID, req.Rating, s.now())
}

// ─── Issuance workflow ───────────────────────────────────────────────────────

// RequestIssue records a pending issue request. No copy is reserved.
func (s *LibraryService) RequestIssue(ctx context.Context, actorID, userID, bookID string) (*model.IssueRequest, error) {
	if err := parseID("bookId", bookID); err != nil {
		return nil, err
	}
	target, err := s.actingFor(ctx, actorID, userID)
	if err != nil {
		return nil, err
	}

	req := &model.IssueRequest{
		ID:          uuid.NewString(),
		BookID:      bookID,
		UserID:      target,
		Status:      model.RequestPending,
		RequestDate: s.now(),
	}
	if err := s.issuance.CreateIssueRequest(ctx, req, s.opts.RequestRequiresAvailability); err != nil {
		return nil, err
	}

	s.logger.Info("issue requested",
		zap.String("request_id", req.ID),
		zap.String("book_id", bookID),
		zap.String("user_id", target),
	)
	return req, nil
}

// ApproveRequest issues a copy to the requester. When no copy is available
// it fails with ErrNoCopiesAvailable and the request stays pending.
func (s *LibraryService) ApproveRequest(ctx context.Context, actorID, requestID string) (*model.IssueRequest, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if err := parseID("requestId", requestID); err != nil {
		return nil, err
	}
	return s.approve(ctx, actorID, requestID)
}

func (s *LibraryService) approve(ctx context.Context, actorID, requestID string) (*model.IssueRequest, error) {
	req, err := s.issuance.ApproveIssueRequest(ctx, requestID, actorID, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("issue approved",
		zap.String("request_id", req.ID),
		zap.String("book_id", req.BookID),
		zap.String("user_id", req.UserID),
		zap.String("admin_id", actorID),
	)
	s.notifier.notifyBestEffort(ctx, req.UserID, model.NotificationIssueApproved,
		fmt.Sprintf("Your request for %s has been approved", s.bookTitle(ctx, req.BookID)), req.BookID)
	return req, nil
}

// DeclineRequest closes a pending request without issuing a copy.
func (s *LibraryService) DeclineRequest(ctx context.Context, actorID, requestID string) (*model.IssueRequest, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if err := parseID("requestId", requestID); err != nil {
		return nil, err
	}
	return s.decline(ctx, actorID, requestID)
}

func (s *LibraryService) decline(ctx context.Context, actorID, requestID string) (*model.IssueRequest, error) {
	req, err := s.issuance.DeclineIssueRequest(ctx, requestID, actorID, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("issue declined",
		zap.String("request_id", req.ID),
		zap.String("book_id", req.BookID),
		zap.String("admin_id", actorID),
	)
	s.notifier.notifyBestEffort(ctx, req.UserID, model.NotificationIssueDeclined,
		fmt.Sprintf("Your request for %s has been declined", s.bookTitle(ctx, req.BookID)), req.BookID)
	return req, nil
}

// HandleRequest applies an admin decision from the handle-request payload.
// bookID and userID, when given, must match the stored request.
func (s *LibraryService) HandleRequest(ctx context.Context, actorID string, p model.HandleRequestPayload) (*model.IssueRequest, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if err := parseID("requestID", p.RequestID); err != nil {
		return nil, err
	}
	if p.Status != model.RequestApproved && p.Status != model.RequestDeclined {
		return nil, model.Validationf("status must be approved or declined")
	}

	if p.BookID != "" || p.UserID != "" {
		stored, err := s.ledger.GetIssueRequest(ctx, p.RequestID)
		if err != nil {
			return nil, err
		}
		if p.BookID != "" && p.BookID != stored.BookID {
			return nil, model.Validationf("bookID does not match the request")
		}
		if p.UserID != "" && p.UserID != stored.UserID {
			return nil, model.Validationf("userID does not match the request")
		}
	}

	if p.Status == model.RequestApproved {
		return s.approve(ctx, actorID, p.RequestID)
	}
	return s.decline(ctx, actorID, p.RequestID)
}

// ReturnBook gives a held copy back. Returning a book the user does not hold
// fails with ErrBookNotIssued and changes nothing.
func (s *LibraryService) ReturnBook(ctx context.Context, actorID, userID, bookID string) (*model.Book, error) {
	if err := parseID("bookID", bookID); err != nil {
		return nil, err
	}
	target, err := s.actingFor(ctx, actorID, userID)
	if err != nil {
		return nil, err
	}

	book, err := s.issuance.ReturnBook(ctx, target, bookID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("book returned",
		zap.String("book_id", bookID),
		zap.String("user_id", target),
		zap.Int("available", book.AvailableCopies),
	)
	return book, nil
}

// ─── Views ───────────────────────────────────────────────────────────────────

// IssuedBooks returns the user's held books joined with catalog records.
func (s *LibraryService) IssuedBooks(ctx context.Context, actorID, userID string) ([]model.IssuedBookView, error) {
	target, err := s.actingFor(ctx, actorID, userID)
	if err != nil {
		return nil, err
	}
	user, err := s.members.GetUser(ctx, target)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(user.IssuedBooks))
	for _, ib := range user.IssuedBooks {
		ids = append(ids, ib.BookID)
	}
	books, err := s.catalog.GetBooks(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]model.IssuedBookView, 0, len(user.IssuedBooks))
	for _, ib := range user.IssuedBooks {
		views = append(views, model.IssuedBookView{IssuedBook: ib, Book: books[ib.BookID]})
	}
	return views, nil
}

// PendingRequests returns the admin queue, oldest first.
func (s *LibraryService) PendingRequests(ctx context.Context, actorID string) ([]model.PendingRequestView, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	views, err := s.ledger.ListPendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].RequestDate.Before(views[j].RequestDate)
	})
	return views, nil
}

// UserRequests returns the issue requests made by a user, newest first.
func (s *LibraryService) UserRequests(ctx context.Context, actorID, userID string) ([]model.IssueRequest, error) {
	target, err := s.actingFor(ctx, actorID, userID)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListUserRequests(ctx, target)
}

// bookTitle is used for notification text; a missing book is not an error.
func (s *LibraryService) bookTitle(ctx context.Context, bookID string) string {
	book, err := s.catalog.GetBook(ctx, bookID)
	if err != nil {
		return "a book"
	}
	return book.Title
}
