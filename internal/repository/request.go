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

const issueRequestColumns = `id, book_id, user_id, status, request_date, decided_at, decided_by`

const newBookRequestColumns = `id, user_id, user_name, user_email, book_name, author, description,
	status, created_at, decided_at`

// RequestRepository is the read side of the request ledger and owns
// new-book requests end to end.
type RequestRepository struct {
	db *pgxpool.Pool
}

// NewRequestRepository constructs a RequestRepository.
func NewRequestRepository(db *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{db: db}
}

func scanIssueRequest(row pgx.Row) (*model.IssueRequest, error) {
	var (
		req       model.IssueRequest
		decidedBy *string
	)
	if err := row.Scan(&req.ID, &req.BookID, &req.UserID, &req.Status, &req.RequestDate, &req.DecidedAt, &decidedBy); err != nil {
		return nil, err
	}
	req.DecidedBy = deref(decidedBy)
	return &req, nil
}

// GetIssueRequest returns a single issue request or ErrRequestNotFound.
func (r *RequestRepository) GetIssueRequest(ctx context.Context, id string) (*model.IssueRequest, error) {
	req, err := scanIssueRequest(r.db.QueryRow(ctx,
		`SELECT `+issueRequestColumns+` FROM issue_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRequestNotFound
		}
		return nil, fmt.Errorf("get issue request: %w", err)
	}
	return req, nil
}

// ListPendingRequests returns every pending request, oldest first, joined
// with the book title and requester name.
func (r *RequestRepository) ListPendingRequests(ctx context.Context) ([]model.PendingRequestView, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.id, r.book_id, r.user_id, r.status, r.request_date,
		        COALESCE(b.title, ''), COALESCE(b.available_copies, 0), COALESCE(u.username, '')
		 FROM issue_requests r
		 LEFT JOIN books b ON b.id = r.book_id
		 LEFT JOIN users u ON u.id = r.user_id
		 WHERE r.status = 'pending'
		 ORDER BY r.request_date ASC, r.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var views []model.PendingRequestView
	for rows.Next() {
		var v model.PendingRequestView
		if err := rows.Scan(&v.ID, &v.BookID, &v.UserID, &v.Status, &v.RequestDate,
			&v.BookTitle, &v.AvailableCopies, &v.Username); err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// ListUserRequests returns a user's issue requests, newest first.
func (r *RequestRepository) ListUserRequests(ctx context.Context, userID string) ([]model.IssueRequest, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+issueRequestColumns+` FROM issue_requests
		 WHERE user_id = $1
		 ORDER BY request_date DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user requests: %w", err)
	}
	defer rows.Close()

	var reqs []model.IssueRequest
	for rows.Next() {
		req, err := scanIssueRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue request: %w", err)
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func scanNewBookRequest(row pgx.Row) (*model.NewBookRequest, error) {
	var nb model.NewBookRequest
	err := row.Scan(&nb.ID, &nb.UserID, &nb.UserName, &nb.UserEmail, &nb.BookName, &nb.Author,
		&nb.Description, &nb.Status, &nb.CreatedAt, &nb.DecidedAt)
	if err != nil {
		return nil, err
	}
	return &nb, nil
}

// CreateNewBookRequest inserts a new-book request.
func (r *RequestRepository) CreateNewBookRequest(ctx context.Context, nb *model.NewBookRequest) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO new_book_requests (`+newBookRequestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		nb.ID, nb.UserID, nb.UserName, nb.UserEmail, nb.BookName, nb.Author,
		nb.Description, nb.Status, nb.CreatedAt, nb.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("insert new book request: %w", err)
	}
	return nil
}

// ListNewBookRequests returns all new-book requests, newest first.
func (r *RequestRepository) ListNewBookRequests(ctx context.Context) ([]model.NewBookRequest, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+newBookRequestColumns+` FROM new_book_requests
		 ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list new book requests: %w", err)
	}
	defer rows.Close()

	var out []model.NewBookRequest
	for rows.Next() {
		nb, err := scanNewBookRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan new book request: %w", err)
		}
		out = append(out, *nb)
	}
	return out, rows.Err()
}

// DecideNewBookRequest moves a pending new-book request to a terminal status.
func (r *RequestRepository) DecideNewBookRequest(
	ctx context.Context,
	id string,
	status model.NewBookRequestStatus,
	at time.Time,
) (*model.NewBookRequest, error) {
	nb, err := scanNewBookRequest(r.db.QueryRow(ctx,
		`UPDATE new_book_requests
		 SET status = $2, decided_at = $3
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+newBookRequestColumns,
		id, status, at,
	))
	if err == nil {
		return nb, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decide new book request: %w", err)
	}

	// Distinguish a missing request from one that was already decided.
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM new_book_requests WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check new book request: %w", err)
	}
	if !exists {
		return nil, model.ErrRequestNotFound
	}
	return nil, model.ErrRequestNotPending
}
