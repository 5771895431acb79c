package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

// ProgressRepository stores the last page read per (user, book).
type ProgressRepository struct {
	db *pgxpool.Pool
}

// NewProgressRepository constructs a ProgressRepository.
func NewProgressRepository(db *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// UpsertProgress overwrites the page for (userID, bookID).
func (r *ProgressRepository) UpsertProgress(ctx context.Context, userID, bookID string, page int, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO reading_progress (user_id, book_id, page, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, book_id) DO UPDATE
		 SET page = EXCLUDED.page, updated_at = EXCLUDED.updated_at`,
		userID, bookID, page, at,
	)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgForeignKeyViolation {
			if constraint == "reading_progress_book_id_fkey" {
				return model.ErrBookNotFound
			}
			return model.ErrUserNotFound
		}
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// GetProgress returns bookID -> page for userID.
func (r *ProgressRepository) GetProgress(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT book_id, page FROM reading_progress WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			bookID string
			page   int
		)
		if err := rows.Scan(&bookID, &page); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out[bookID] = page
	}
	return out, rows.Err()
}

// ActivityRepository is the PostgreSQL reading activity log.
type ActivityRepository struct {
	db *pgxpool.Pool
}

// NewActivityRepository constructs an ActivityRepository.
func NewActivityRepository(db *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// AppendActivity inserts an activity entry.
func (r *ActivityRepository) AppendActivity(ctx context.Context, a *model.ReadingActivity) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO reading_activity (id, user_id, book_id, book_name, page, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.BookID, a.BookName, a.Page, a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// RecentActivity returns one page of the feed, newest first.
func (r *ActivityRepository) RecentActivity(ctx context.Context, offset, limit int) ([]model.ReadingActivity, error) {
	query, args, err := pg.From("reading_activity").
		Select("id", "user_id", "book_id", "book_name", "page", "timestamp").
		Order(goqu.C("timestamp").Desc(), goqu.C("id").Desc()).
		Offset(uint(offset)).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build activity query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	out := []model.ReadingActivity{}
	for rows.Next() {
		var a model.ReadingActivity
		if err := rows.Scan(&a.ID, &a.UserID, &a.BookID, &a.BookName, &a.Page, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
