package model

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the stores and services either is one
// of these or wraps one, so callers classify with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrValidation      = errors.New("validation error")
)

// kindError carries a user-facing message while unwrapping to its kind.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// NotFound.
var (
	ErrBookNotFound         = newKindError(ErrNotFound, "book not found")
	ErrUserNotFound         = newKindError(ErrNotFound, "user not found")
	ErrRequestNotFound      = newKindError(ErrNotFound, "request not found")
	ErrNotificationNotFound = newKindError(ErrNotFound, "notification not found")
	ErrBookNotIssued        = newKindError(ErrNotFound, "book is not issued to this user")
)

// Conflict.
var (
	ErrDuplicateRequest  = newKindError(ErrConflict, "a pending request for this book already exists")
	ErrNoCopiesAvailable = newKindError(ErrConflict, "no copies available")
	ErrAlreadyIssued     = newKindError(ErrConflict, "book is already issued to this user")
	ErrRequestNotPending = newKindError(ErrConflict, "request is no longer pending")
	ErrBookInUse         = newKindError(ErrConflict, "book has issued copies or pending requests")
	ErrUsernameTaken     = newKindError(ErrConflict, "username already registered")
	ErrEmailTaken        = newKindError(ErrConflict, "email already registered")
)

// Unauthorized / Unauthenticated.
var (
	ErrAdminRequired      = newKindError(ErrUnauthorized, "admin privileges required")
	ErrForbidden          = newKindError(ErrUnauthorized, "not allowed to act on behalf of another user")
	ErrInvalidCredentials = newKindError(ErrUnauthenticated, "invalid credentials")
	ErrSessionExpired     = newKindError(ErrUnauthenticated, "session expired or unknown")
)

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return newKindError(ErrValidation, fmt.Sprintf(format, args...))
}
