package repository

import (
	"errors"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// pg builds SQL for the queries whose shape depends on their input.
var pg = goqu.Dialect("postgres")

// Postgres bundles every PostgreSQL-backed repository behind one value so the
// app can hand the same pool-backed stores to all services.
type Postgres struct {
	*BookRepository
	*UserRepository
	*RequestRepository
	*IssuanceRepository
	*NotificationRepository
	*ProgressRepository
	*ActivityRepository
	*SessionRepository
}

// NewPostgres constructs all repositories over one pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{
		BookRepository:         NewBookRepository(db),
		UserRepository:         NewUserRepository(db),
		RequestRepository:      NewRequestRepository(db),
		IssuanceRepository:     NewIssuanceRepository(db),
		NotificationRepository: NewNotificationRepository(db),
		ProgressRepository:     NewProgressRepository(db),
		ActivityRepository:     NewActivityRepository(db),
		SessionRepository:      NewSessionRepository(db),
	}
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgForeignKeyViolation
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
