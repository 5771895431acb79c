package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

const notificationColumns = `id, user_id, type, message, book_id, read, created_at`

// NotificationRepository handles persistence for user mailboxes.
type NotificationRepository struct {
	db *pgxpool.Pool
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var (
		n      model.Notification
		bookID *string
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &bookID, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.BookID = deref(bookID)
	return &n, nil
}

// InsertNotification stores a single notification.
func (r *NotificationRepository) InsertNotification(ctx context.Context, n *model.Notification) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notifications (`+notificationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.Type, n.Message, nullable(n.BookID), n.Read, n.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return model.ErrUserNotFound
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// InsertForAllUsers fans tmpl out to every registered user in one statement.
func (r *NotificationRepository) InsertForAllUsers(ctx context.Context, tmpl model.Notification) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx,
		`INSERT INTO notifications (`+notificationColumns+`)
		 SELECT gen_random_uuid(), id, $1, $2, $3, FALSE, $4 FROM users
		 RETURNING `+notificationColumns,
		tmpl.Type, tmpl.Message, nullable(tmpl.BookID), tmpl.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("broadcast notification: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// ListNotifications returns up to limit notifications, newest first.
func (r *NotificationRepository) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkNotificationRead sets read on a notification owned by userID. Marking
// an already-read notification succeeds.
func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, id, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotificationNotFound
	}
	return nil
}

// ClearNotifications deletes every notification of userID.
func (r *NotificationRepository) ClearNotifications(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
