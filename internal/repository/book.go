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

const bookColumns = `id, title, author, category, rating, cover_ref, content_ref,
	total_copies, available_copies, issued_copies, created_at`

var bookColumnList = []any{
	"id", "title", "author", "category", "rating", "cover_ref", "content_ref",
	"total_copies", "available_copies", "issued_copies", "created_at",
}

// BookRepository handles persistence for catalog books.
type BookRepository struct {
	db *pgxpool.Pool
}

// NewBookRepository constructs a BookRepository.
func NewBookRepository(db *pgxpool.Pool) *BookRepository {
	return &BookRepository{db: db}
}

func scanBook(row pgx.Row) (*model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Category, &b.Rating, &b.CoverRef, &b.ContentRef,
		&b.TotalCopies, &b.AvailableCopies, &b.IssuedCopies, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBook inserts a new book. Copy counts are taken as given.
func (r *BookRepository) CreateBook(ctx context.Context, b *model.Book) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO books (`+bookColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.Title, b.Author, b.Category, b.Rating, b.CoverRef, b.ContentRef,
		b.TotalCopies, b.AvailableCopies, b.IssuedCopies, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// GetBook returns a single book or ErrBookNotFound.
func (r *BookRepository) GetBook(ctx context.Context, id string) (*model.Book, error) {
	b, err := scanBook(r.db.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

// GetBooks returns the books that exist among ids, keyed by id.
func (r *BookRepository) GetBooks(ctx context.Context, ids []string) (map[string]*model.Book, error) {
	out := make(map[string]*model.Book, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := pg.From("books").
		Select(bookColumnList...).
		Where(goqu.C("id").In(ids)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get books query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get books: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		out[b.ID] = b
	}
	return out, rows.Err()
}

// ListBooks returns the catalog ordered by title, narrowed by filter.
func (r *BookRepository) ListBooks(ctx context.Context, filter model.BookFilter) ([]model.Book, error) {
	ds := pg.From("books").
		Select(bookColumnList...).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc())

	if filter.Category != "" {
		ds = ds.Where(goqu.C("category").Eq(filter.Category))
	}
	if filter.Author != "" {
		ds = ds.Where(goqu.C("author").Eq(filter.Author))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").ILike(pattern),
			goqu.C("author").ILike(pattern),
		))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list books query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
