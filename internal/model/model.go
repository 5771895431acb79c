// Package model defines the core domain types for the digital library.
package model

import (
	"encoding/json"
	"time"
)

// Book is the canonical catalog record. Copy counts are only ever changed by
// the issuance workflow and always satisfy
// AvailableCopies + IssuedCopies == TotalCopies.
type Book struct {
	ID              string    `json:"_id"`
	Title           string    `json:"bookName"`
	Author          string    `json:"author"`
	Category        string    `json:"category"`
	Rating          float64   `json:"rating"`
	CoverRef        string    `json:"cover"`
	ContentRef      string    `json:"pdf,omitempty"`
	TotalCopies     int       `json:"total"`
	AvailableCopies int       `json:"available"`
	IssuedCopies    int       `json:"issued"`
	CreatedAt       time.Time `json:"createdAt"`
}

// HasContent reports whether a readable PDF is attached to the book.
func (b *Book) HasContent() bool {
	return b.ContentRef != ""
}

// CountsConsistent reports whether the copy-count invariant holds.
func (b *Book) CountsConsistent() bool {
	return b.AvailableCopies >= 0 &&
		b.IssuedCopies >= 0 &&
		b.AvailableCopies+b.IssuedCopies == b.TotalCopies
}

// IssuedBook is one entry of a user's issued-books set.
type IssuedBook struct {
	BookID    string    `json:"bookID"`
	IssueDate time.Time `json:"issueDate"`
}

// User is a registered library member. IssuedBooks never holds the same
// BookID twice.
type User struct {
	ID           string       `json:"_id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	IsAdmin      bool         `json:"isAdmin"`
	IssuedBooks  []IssuedBook `json:"issuedBooks"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Holds reports whether bookID is currently issued to the user.
func (u *User) Holds(bookID string) bool {
	for _, ib := range u.IssuedBooks {
		if ib.BookID == bookID {
			return true
		}
	}
	return false
}

// RequestStatus is the lifecycle state of an IssueRequest.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDeclined RequestStatus = "declined"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestDeclined
}

// IssueRequest asks an administrator to lend a copy of a book to a user.
// A pending request does not reserve a copy.
type IssueRequest struct {
	ID          string        `json:"_id"`
	BookID      string        `json:"bookID"`
	UserID      string        `json:"userID"`
	Status      RequestStatus `json:"status"`
	RequestDate time.Time     `json:"requestDate"`
	DecidedAt   *time.Time    `json:"decidedAt,omitempty"`
	DecidedBy   string        `json:"decidedBy,omitempty"`
}

// PendingRequestView is an IssueRequest joined with display names for the
// admin queue.
type PendingRequestView struct {
	IssueRequest
	BookTitle       string `json:"bookName"`
	AvailableCopies int    `json:"available"`
	Username        string `json:"username"`
}

// NewBookRequestStatus is the lifecycle state of a NewBookRequest.
type NewBookRequestStatus string

const (
	NewBookPending  NewBookRequestStatus = "pending"
	NewBookApproved NewBookRequestStatus = "approved"
	NewBookRejected NewBookRequestStatus = "rejected"
)

// NewBookRequest is a user's suggestion that the library acquire a title.
// Approval is advisory; it never creates a Book.
type NewBookRequest struct {
	ID          string               `json:"_id"`
	UserID      string               `json:"userId"`
	UserName    string               `json:"userName"`
	UserEmail   string               `json:"userEmail"`
	BookName    string               `json:"bookName"`
	Author      string               `json:"author"`
	Description string               `json:"description"`
	Status      NewBookRequestStatus `json:"status"`
	CreatedAt   time.Time            `json:"createdAt"`
	DecidedAt   *time.Time           `json:"decidedAt,omitempty"`
}

// NotificationType classifies a notification for the client.
type NotificationType string

const (
	NotificationNewBook       NotificationType = "NEW_BOOK"
	NotificationBookDeleted   NotificationType = "BOOK_DELETED"
	NotificationIssueApproved NotificationType = "ISSUE_APPROVED"
	NotificationIssueDeclined NotificationType = "ISSUE_DECLINED"
	NotificationGeneric       NotificationType = "GENERIC"
)

// Notification is one entry in a user's mailbox.
type Notification struct {
	ID        string           `json:"_id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	BookID    string           `json:"bookId,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

// ReadingActivity is an immutable page-turn record.
type ReadingActivity struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"userId"`
	BookID    string    `json:"bookId"`
	BookName  string    `json:"bookName"`
	Page      int       `json:"page"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityView is a ReadingActivity joined with current display names.
type ActivityView struct {
	ID        string    `json:"_id"`
	BookName  string    `json:"bookName"`
	BookCover string    `json:"bookCover,omitempty"`
	UserName  string    `json:"userName"`
	Page      int       `json:"page"`
	Timestamp time.Time `json:"timestamp"`
}

// Session binds an opaque bearer token (stored hashed) to a user.
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
}

// BookFilter narrows a catalog listing. Empty fields do not filter.
type BookFilter struct {
	Category string
	Author   string
	Query    string
}

// ─── Request payloads ────────────────────────────────────────────────────────

// IssueBookRequest is the payload for POST /library/requestBook/{bookId}.
type IssueBookRequest struct {
	UserID string `json:"userID"`
}

// ReturnBookRequest is the payload for POST /library/returnBook.
type ReturnBookRequest struct {
	UserID         string `json:"userID"`
	BookID         string `json:"bookID"`
	ReturnBookName string `json:"returnBookName,omitempty"`
}

// HandleRequestPayload is the payload for POST /admin/handle-request.
type HandleRequestPayload struct {
	BookID    string        `json:"bookID"`
	RequestID string        `json:"requestID"`
	UserID    string        `json:"userID"`
	Status    RequestStatus `json:"status"`
}

// RateBookRequest is the payload for POST /library/rate.
type RateBookRequest struct {
	BookID string `json:"bookId"`
	UserID string `json:"userId"`
	Rating int    `json:"rating"`
}

// RateBookResponse carries the recomputed average.
type RateBookResponse struct {
	NewRating float64 `json:"newRating"`
}

// AddBookRequest holds the metadata part of the multipart add-book form.
type AddBookRequest struct {
	Title       string
	Author      string
	Category    string
	TotalCopies int
	CoverLink   string
}

// SaveProgressRequest is the payload for POST /library/reading-progress.
type SaveProgressRequest struct {
	UserID     string `json:"userId"`
	BookID     string `json:"bookId"`
	PageNumber int    `json:"pageNumber"`
}

// NewBookRequestPayload is the payload for POST /library/request-new-book.
// The web client also echoes the requester's name, email and an initial
// status; those are ignored in favour of the session user and "pending".
type NewBookRequestPayload struct {
	UserID      string `json:"userId"`
	BookName    string `json:"bookName"`
	Author      string `json:"author"`
	Description string `json:"description"`
	UserName    string `json:"userName,omitempty"`
	UserEmail   string `json:"userEmail,omitempty"`
	Status      string `json:"status,omitempty"`
}

// UpdateNewBookRequestPayload is the payload for PUT /library/book-requests/{id}.
type UpdateNewBookRequestPayload struct {
	Status NewBookRequestStatus `json:"status"`
}

// RegisterRequest is the payload for POST /register.
type RegisterRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	IsAdmin   bool   `json:"isAdmin"`
	AdminCode string `json:"adminCode"`
}

// LoginRequest is the payload for POST /login.
type LoginRequest struct {
	EmailOrUsername string `json:"emailOrUsername"`
	Password        string `json:"password"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Success bool   `json:"success"`
	User    *User  `json:"user"`
	Token   string `json:"token"`
}

// ChatRequest is the payload for POST /library/chat.
// Books is the client's copy of the catalog; answers use the store instead.
type ChatRequest struct {
	Message string          `json:"message"`
	Books   json.RawMessage `json:"books,omitempty"`
}

// ChatResponse is the assistant's answer.
type ChatResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IssuedBookView is an issued-books entry joined with its book record.
type IssuedBookView struct {
	IssuedBook
	Book *Book `json:"book"`
}
