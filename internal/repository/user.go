package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

const userColumns = `id, username, email, password_hash, is_admin, created_at`

// UserRepository handles persistence for members and their issued books.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user. Duplicate usernames or emails are conflicts.
func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.IsAdmin, u.CreatedAt,
	)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgUniqueViolation {
			if strings.Contains(constraint, "email") {
				return model.ErrEmailTaken
			}
			return model.ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user with the issued-books set, ordered by issue date.
func (r *UserRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.IssuedBooks, err = r.issuedBooks(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByLogin finds a user by email (case-insensitive) or exact username.
func (r *UserRepository) GetUserByLogin(ctx context.Context, emailOrUsername string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE email = lower($1) OR username = $1
		 LIMIT 1`,
		emailOrUsername,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by login: %w", err)
	}
	if u.IssuedBooks, err = r.issuedBooks(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUsers returns the users that exist among ids, keyed by id. Issued books
// are not loaded.
func (r *UserRepository) GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := pg.From("users").
		Select("id", "username", "email", "password_hash", "is_admin", "created_at").
		Where(goqu.C("id").In(ids)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get users query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

// SetAdmin grants or revokes the admin flag.
func (r *UserRepository) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET is_admin = $2 WHERE id = $1`, id, isAdmin)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) issuedBooks(ctx context.Context, userID string) ([]model.IssuedBook, error) {
	rows, err := r.db.Query(ctx,
		`SELECT book_id, issue_date FROM issued_books
		 WHERE user_id = $1
		 ORDER BY issue_date ASC, book_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list issued books: %w", err)
	}
	defer rows.Close()

	issued := []model.IssuedBook{}
	for rows.Next() {
		var ib model.IssuedBook
		if err := rows.Scan(&ib.BookID, &ib.IssueDate); err != nil {
			return nil, fmt.Errorf("scan issued book: %w", err)
		}
		issued = append(issued, ib)
	}
	return issued, rows.Err()
}
