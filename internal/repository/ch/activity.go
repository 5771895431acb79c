// Package ch implements the reading activity log on ClickHouse.
package ch

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

// Options configures the ClickHouse connection.
type Options struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	UseTLS   bool
}

// ActivityLog stores reading activity in a MergeTree table.
type ActivityLog struct {
	conn clickhouse.Conn
}

// NewActivityLog opens and pings a ClickHouse connection.
func NewActivityLog(ctx context.Context, opts Options) (*ActivityLog, error) {
	options := &clickhouse.Options{
		Addr:     []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
	}
	if opts.UseTLS {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &ActivityLog{conn: conn}, nil
}

// Initialize creates the activity table if it does not exist.
func (l *ActivityLog) Initialize(ctx context.Context) error {
	err := l.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reading_activity (
			id String,
			user_id String,
			book_id String,
			book_name String,
			page Int32,
			timestamp DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		ORDER BY (timestamp, id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create reading_activity table: %w", err)
	}
	return nil
}

// AppendActivity inserts one activity entry.
func (l *ActivityLog) AppendActivity(ctx context.Context, a *model.ReadingActivity) error {
	err := l.conn.Exec(ctx,
		`INSERT INTO reading_activity (id, user_id, book_id, book_name, page, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.BookID, a.BookName, int32(a.Page), a.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// RecentActivity returns one page of the feed, newest first.
func (l *ActivityLog) RecentActivity(ctx context.Context, offset, limit int) ([]model.ReadingActivity, error) {
	rows, err := l.conn.Query(ctx,
		`SELECT id, user_id, book_id, book_name, page, timestamp
		 FROM reading_activity
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	out := []model.ReadingActivity{}
	for rows.Next() {
		var (
			a    model.ReadingActivity
			page int32
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.BookID, &a.BookName, &page, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Page = int(page)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the connection.
func (l *ActivityLog) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
