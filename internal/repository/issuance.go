package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

// IssuanceRepository runs the transactional units of the issuance workflow.
// Lock order is always request row (when involved) then book row.
type IssuanceRepository struct {
	db *pgxpool.Pool
}

// NewIssuanceRepository constructs an IssuanceRepository.
func NewIssuanceRepository(db *pgxpool.Pool) *IssuanceRepository {
	return &IssuanceRepository{db: db}
}

// lockBook loads a book row under FOR UPDATE (or FOR SHARE when shared).
func lockBook(ctx context.Context, tx pgx.Tx, bookID string, shared bool) (*model.Book, error) {
	mode := "FOR UPDATE"
	if shared {
		mode = "FOR SHARE"
	}
	b, err := scanBook(tx.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1 `+mode, bookID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBookNotFound
		}
		return nil, fmt.Errorf("lock book: %w", err)
	}
	return b, nil
}

func userExists(ctx context.Context, tx pgx.Tx, userID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return model.ErrUserNotFound
	}
	return nil
}

// CreateIssueRequest records a pending request after validating it against
// the current book and user state.
func (r *IssuanceRepository) CreateIssueRequest(ctx context.Context, req *model.IssueRequest, requireAvailable bool) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := lockBook(ctx, tx, req.BookID, true)
	if err != nil {
		return err
	}
	if err := userExists(ctx, tx, req.UserID); err != nil {
		return err
	}

	var holds bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM issued_books WHERE user_id = $1 AND book_id = $2)`,
		req.UserID, req.BookID,
	).Scan(&holds); err != nil {
		return fmt.Errorf("check issued: %w", err)
	}
	if holds {
		return model.ErrAlreadyIssued
	}
	if requireAvailable && book.AvailableCopies <= 0 {
		return model.ErrNoCopiesAvailable
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO issue_requests (`+issueRequestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, NULL, NULL)`,
		req.ID, req.BookID, req.UserID, req.Status, req.RequestDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateRequest
		}
		return fmt.Errorf("insert issue request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockPendingRequest loads an issue request under FOR UPDATE and rejects it
// unless it is still pending.
func lockPendingRequest(ctx context.Context, tx pgx.Tx, requestID string) (*model.IssueRequest, error) {
	req, err := scanIssueRequest(tx.QueryRow(ctx,
		`SELECT `+issueRequestColumns+` FROM issue_requests WHERE id = $1 FOR UPDATE`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRequestNotFound
		}
		return nil, fmt.Errorf("lock issue request: %w", err)
	}
	if req.Status != model.RequestPending {
		return nil, model.ErrRequestNotPending
	}
	return req, nil
}

func decideRequest(ctx context.Context, tx pgx.Tx, req *model.IssueRequest, status model.RequestStatus, adminID string, at time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE issue_requests SET status = $2, decided_at = $3, decided_by = $4 WHERE id = $1`,
		req.ID, status, at, nullable(adminID),
	)
	if err != nil {
		return fmt.Errorf("update issue request: %w", err)
	}
	req.Status = status
	req.DecidedAt = &at
	req.DecidedBy = adminID
	return nil
}

// ApproveIssueRequest issues one copy to the requester. If no copy is
// available the request stays pending and ErrNoCopiesAvailable is returned.
func (r *IssuanceRepository) ApproveIssueRequest(ctx context.Context, requestID, adminID string, at time.Time) (*model.IssueRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := lockPendingRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	book, err := lockBook(ctx, tx, req.BookID, false)
	if err != nil {
		return nil, err
	}
	if book.AvailableCopies <= 0 {
		return nil, model.ErrNoCopiesAvailable
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO issued_books (user_id, book_id, issue_date)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, book_id) DO NOTHING`,
		req.UserID, req.BookID, at,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("insert issued book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, model.ErrAlreadyIssued
	}

	if _, err := tx.Exec(ctx,
		`UPDATE books
		 SET available_copies = available_copies - 1,
		     issued_copies = issued_copies + 1
		 WHERE id = $1`,
		book.ID,
	); err != nil {
		return nil, fmt.Errorf("update book counts: %w", err)
	}

	if err := decideRequest(ctx, tx, req, model.RequestApproved, adminID, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return req, nil
}

// DeclineIssueRequest marks a pending request declined. Copy counts are
// untouched.
func (r *IssuanceRepository) DeclineIssueRequest(ctx context.Context, requestID, adminID string, at time.Time) (*model.IssueRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := lockPendingRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if err := decideRequest(ctx, tx, req, model.RequestDeclined, adminID, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return req, nil
}

// ReturnBook removes the book from the user's issued set and restores one
// available copy. Reading progress is kept.
func (r *IssuanceRepository) ReturnBook(ctx context.Context, userID, bookID string) (*model.Book, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := lockBook(ctx, tx, bookID, false); err != nil {
		return nil, err
	}
	if err := userExists(ctx, tx, userID); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM issued_books WHERE user_id = $1 AND book_id = $2`, userID, bookID)
	if err != nil {
		return nil, fmt.Errorf("delete issued book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, model.ErrBookNotIssued
	}

	book, err := scanBook(tx.QueryRow(ctx,
		`UPDATE books
		 SET available_copies = available_copies + 1,
		     issued_copies = issued_copies - 1
		 WHERE id = $1
		 RETURNING `+bookColumns,
		bookID,
	))
	if err != nil {
		return nil, fmt.Errorf("update book counts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return book, nil
}

// DeleteBook removes a book that has no issued copies and no pending
// requests. Ratings and reading progress go with it via ON DELETE CASCADE;
// decided requests and activity entries keep their weak references.
func (r *IssuanceRepository) DeleteBook(ctx context.Context, bookID string) (*model.Book, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := lockBook(ctx, tx, bookID, false)
	if err != nil {
		return nil, err
	}
	if book.IssuedCopies > 0 {
		return nil, model.ErrBookInUse
	}

	var pending bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM issue_requests WHERE book_id = $1 AND status = 'pending')`,
		bookID,
	).Scan(&pending); err != nil {
		return nil, fmt.Errorf("check pending requests: %w", err)
	}
	if pending {
		return nil, model.ErrBookInUse
	}

	if _, err := tx.Exec(ctx, `DELETE FROM books WHERE id = $1`, bookID); err != nil {
		if isForeignKeyViolation(err) {
			return nil, model.ErrBookInUse
		}
		return nil, fmt.Errorf("delete book: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return book, nil
}

// RateBook stores the user's rating, replacing any earlier one, and writes
// back the mean over all ratings for the book.
func (r *IssuanceRepository) RateBook(ctx context.Context, bookID, userID string, rating int, at time.Time) (float64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := lockBook(ctx, tx, bookID, false); err != nil {
		return 0, err
	}
	if err := userExists(ctx, tx, userID); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO book_ratings (book_id, user_id, rating, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (book_id, user_id) DO UPDATE
		 SET rating = EXCLUDED.rating, updated_at = EXCLUDED.updated_at`,
		bookID, userID, rating, at,
	); err != nil {
		return 0, fmt.Errorf("upsert rating: %w", err)
	}

	var mean float64
	if err := tx.QueryRow(ctx,
		`UPDATE books
		 SET rating = (SELECT AVG(rating)::DOUBLE PRECISION FROM book_ratings WHERE book_id = $1)
		 WHERE id = $1
		 RETURNING rating`,
		bookID,
	).Scan(&mean); err != nil {
		return 0, fmt.Errorf("update book rating: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return mean, nil
}
