// Package repository defines the persistence ports of the library and
// implements them on PostgreSQL using pgx directly (no ORM).
//
// Every method that changes copy counts or a user's issued-books set runs as a
// single transaction that first locks the affected book row, so concurrent
// approvals and returns on one book are serialised.
package repository

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

// CatalogStore owns Book records.
type CatalogStore interface {
	CreateBook(ctx context.Context, book *model.Book) error
	GetBook(ctx context.Context, id string) (*model.Book, error)
	GetBooks(ctx context.Context, ids []string) (map[string]*model.Book, error)
	ListBooks(ctx context.Context, filter model.BookFilter) ([]model.Book, error)
}

// MembershipStore owns User records and their issued-books sets.
type MembershipStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByLogin(ctx context.Context, emailOrUsername string) (*model.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error)
	SetAdmin(ctx context.Context, id string, isAdmin bool) error
}

// LedgerStore owns the read side of IssueRequests and the whole lifecycle of
// NewBookRequests.
type LedgerStore interface {
	GetIssueRequest(ctx context.Context, id string) (*model.IssueRequest, error)
	ListPendingRequests(ctx context.Context) ([]model.PendingRequestView, error)
	ListUserRequests(ctx context.Context, userID string) ([]model.IssueRequest, error)

	CreateNewBookRequest(ctx context.Context, req *model.NewBookRequest) error
	ListNewBookRequests(ctx context.Context) ([]model.NewBookRequest, error)
	DecideNewBookRequest(ctx context.Context, id string, status model.NewBookRequestStatus, at time.Time) (*model.NewBookRequest, error)
}

// IssuanceStore holds the atomic units of the issuance workflow. Each call
// either applies all of its effects or none.
type IssuanceStore interface {
	// CreateIssueRequest checks that the book and user exist, that the user
	// does not hold the book and that no pending request exists for the pair,
	// then inserts req. With requireAvailable set it also refuses books with
	// no available copies.
	CreateIssueRequest(ctx context.Context, req *model.IssueRequest, requireAvailable bool) error

	// ApproveIssueRequest re-checks availability under the book lock, moves
	// one copy from available to issued, appends to the user's issued books
	// and marks the request approved.
	ApproveIssueRequest(ctx context.Context, requestID, adminID string, at time.Time) (*model.IssueRequest, error)

	// DeclineIssueRequest marks a pending request declined.
	DeclineIssueRequest(ctx context.Context, requestID, adminID string, at time.Time) (*model.IssueRequest, error)

	// ReturnBook removes bookID from the user's issued books and moves one
	// copy from issued back to available.
	ReturnBook(ctx context.Context, userID, bookID string) (*model.Book, error)

	// DeleteBook removes an idle book (no issued copies, no pending
	// requests) together with its ratings and reading progress.
	DeleteBook(ctx context.Context, bookID string) (*model.Book, error)

	// RateBook upserts the user's rating and stores the recomputed mean.
	RateBook(ctx context.Context, bookID, userID string, rating int, at time.Time) (float64, error)
}

// NotificationStore owns Notification records.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
	// InsertForAllUsers stores one copy of tmpl per registered user and
	// returns the stored rows.
	InsertForAllUsers(ctx context.Context, tmpl model.Notification) ([]model.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
	ClearNotifications(ctx context.Context, userID string) (int64, error)
}

// ProgressStore owns last-read pages per (user, book).
type ProgressStore interface {
	UpsertProgress(ctx context.Context, userID, bookID string, page int, at time.Time) error
	GetProgress(ctx context.Context, userID string) (map[string]int, error)
}

// ActivityLog is the append-only reading activity feed.
type ActivityLog interface {
	AppendActivity(ctx context.Context, activity *model.ReadingActivity) error
	RecentActivity(ctx context.Context, offset, limit int) ([]model.ReadingActivity, error)
}

// SessionStore owns login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session model.Session) error
	GetSession(ctx context.Context, tokenHash string) (*model.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
}
