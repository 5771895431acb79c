package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	postgresTC "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/config"
	"github.com/Shivanand-hulikatti/digital-library/internal/database"
	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

// setupTestDB starts PostgreSQL, applies migrations and returns the stores.
func setupTestDB(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	container, err := postgresTC.Run(ctx,
		"postgres:16-alpine",
		postgresTC.WithDatabase("library"),
		postgresTC.WithUsername("postgres"),
		postgresTC.WithPassword("postgres"),
		postgresTC.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.NewPool(ctx, config.DatabaseConfig{URL: dsn}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = database.Migrate(ctx, pool, database.MigrateUp)
	require.NoError(t, err, "Failed to run migrations")

	return NewPostgres(pool)
}

func newTestBook(t *testing.T, pg *Postgres, title string, copies int) *model.Book {
	t.Helper()
	b := &model.Book{
		ID:              uuid.NewString(),
		Title:           title,
		Author:          "Frank Herbert",
		Category:        "sci-fi",
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, pg.CreateBook(context.Background(), b))
	return b
}

func newTestUser(t *testing.T, pg *Postgres, name string) *model.User {
	t.Helper()
	u := &model.User{
		ID:           uuid.NewString(),
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, pg.CreateUser(context.Background(), u))
	return u
}

func requestIssue(t *testing.T, pg *Postgres, bookID, userID string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, pg.CreateIssueRequest(context.Background(), &model.IssueRequest{
		ID:          id,
		BookID:      bookID,
		UserID:      userID,
		Status:      model.RequestPending,
		RequestDate: time.Now().UTC(),
	}, false))
	return id
}

func TestPostgres_IssuanceLifecycle(t *testing.T) {
	pg := setupTestDB(t)
	ctx := context.Background()

	book := newTestBook(t, pg, "Dune", 2)
	user := newTestUser(t, pg, "alice")
	admin := newTestUser(t, pg, "admin")

	reqID := requestIssue(t, pg, book.ID, user.ID)

	err := pg.CreateIssueRequest(ctx, &model.IssueRequest{
		ID: uuid.NewString(), BookID: book.ID, UserID: user.ID,
		Status: model.RequestPending, RequestDate: time.Now().UTC(),
	}, false)
	assert.ErrorIs(t, err, model.ErrDuplicateRequest)

	pending, err := pg.ListPendingRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Dune", pending[0].BookTitle)
	assert.Equal(t, "alice", pending[0].Username)

	req, err := pg.ApproveIssueRequest(ctx, reqID, admin.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, req.Status)

	got, err := pg.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)
	assert.Equal(t, 1, got.IssuedCopies)

	u, err := pg.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Holds(book.ID))

	_, err = pg.ApproveIssueRequest(ctx, reqID, admin.ID, time.Now().UTC())
	assert.ErrorIs(t, err, model.ErrRequestNotPending)

	returned, err := pg.ReturnBook(ctx, user.ID, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, returned.AvailableCopies)
	assert.Equal(t, 0, returned.IssuedCopies)

	_, err = pg.ReturnBook(ctx, user.ID, book.ID)
	assert.ErrorIs(t, err, model.ErrBookNotIssued)
}

func TestPostgres_ConcurrentApprovalsIssueOneCopy(t *testing.T) {
	pg := setupTestDB(t)
	ctx := context.Background()

	book := newTestBook(t, pg, "Solaris", 1)
	admin := newTestUser(t, pg, "admin")

	const n = 8
	ids := make([]string, n)
	for i := range ids {
		u := newTestUser(t, pg, "reader"+uuid.NewString()[:8])
		ids[i] = requestIssue(t, pg, book.ID, u.ID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := pg.ApproveIssueRequest(ctx, id, admin.ID, time.Now().UTC()); err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, model.ErrNoCopiesAvailable)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, approved)
	got, err := pg.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableCopies)
	assert.Equal(t, 1, got.IssuedCopies)
}

func TestPostgres_DeleteBookAndRatings(t *testing.T) {
	pg := setupTestDB(t)
	ctx := context.Background()

	book := newTestBook(t, pg, "Hyperion", 1)
	alice := newTestUser(t, pg, "alice")
	bob := newTestUser(t, pg, "bob")

	mean, err := pg.RateBook(ctx, book.ID, alice.ID, 5, time.Now().UTC())
	require.NoError(t, err)
	assert.InDelta(t, 5.0, mean, 1e-9)
	mean, err = pg.RateBook(ctx, book.ID, bob.ID, 2, time.Now().UTC())
	require.NoError(t, err)
	assert.InDelta(t, 3.5, mean, 1e-9)
	mean, err = pg.RateBook(ctx, book.ID, alice.ID, 4, time.Now().UTC())
	require.NoError(t, err)
	assert.InDelta(t, 3.0, mean, 1e-9)

	reqID := requestIssue(t, pg, book.ID, alice.ID)
	_, err = pg.DeleteBook(ctx, book.ID)
	assert.ErrorIs(t, err, model.ErrBookInUse)

	_, err = pg.DeclineIssueRequest(ctx, reqID, bob.ID, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, pg.UpsertProgress(ctx, alice.ID, book.ID, 12, time.Now().UTC()))
	_, err = pg.DeleteBook(ctx, book.ID)
	require.NoError(t, err)

	_, err = pg.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, model.ErrBookNotFound)

	progress, err := pg.GetProgress(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, progress)

	req, err := pg.GetIssueRequest(ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestDeclined, req.Status)
}

func TestPostgres_ListBooksFilters(t *testing.T) {
	pg := setupTestDB(t)
	ctx := context.Background()

	newTestBook(t, pg, "Dune", 1)
	newTestBook(t, pg, "100% Coverage", 1)
	other := &model.Book{
		ID: uuid.NewString(), Title: "Emma", Author: "Jane Austen", Category: "classic",
		TotalCopies: 1, AvailableCopies: 1, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, pg.CreateBook(ctx, other))

	all, err := pg.ListBooks(ctx, model.BookFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "100% Coverage", all[0].Title)

	classics, err := pg.ListBooks(ctx, model.BookFilter{Category: "classic"})
	require.NoError(t, err)
	require.Len(t, classics, 1)
	assert.Equal(t, "Emma", classics[0].Title)

	byQuery, err := pg.ListBooks(ctx, model.BookFilter{Query: "austen"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)

	literal, err := pg.ListBooks(ctx, model.BookFilter{Query: "%"})
	require.NoError(t, err)
	require.Len(t, literal, 1)
	assert.Equal(t, "100% Coverage", literal[0].Title)
}

func TestPostgres_UsersNotificationsSessions(t *testing.T) {
	pg := setupTestDB(t)
	ctx := context.Background()

	alice := newTestUser(t, pg, "alice")
	newTestUser(t, pg, "bob")

	err := pg.CreateUser(ctx, &model.User{
		ID: uuid.NewString(), Username: "alice", Email: "other@example.com",
		PasswordHash: "x", CreatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, model.ErrUsernameTaken)

	byLogin, err := pg.GetUserByLogin(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byLogin.ID)

	sent, err := pg.InsertForAllUsers(ctx, model.Notification{
		Type: model.NotificationNewBook, Message: "New book", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Len(t, sent, 2)

	list, err := pg.ListNotifications(ctx, alice.ID, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, pg.MarkNotificationRead(ctx, list[0].ID, alice.ID))
	require.NoError(t, pg.MarkNotificationRead(ctx, list[0].ID, alice.ID))
	assert.ErrorIs(t, pg.MarkNotificationRead(ctx, uuid.NewString(), alice.ID), model.ErrNotificationNotFound)

	removed, err := pg.ClearNotifications(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	session := model.Session{TokenHash: "abc", UserID: alice.ID, ExpiresAt: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, pg.CreateSession(ctx, session))
	got, err := pg.GetSession(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.UserID)
	require.NoError(t, pg.DeleteSession(ctx, "abc"))
	_, err = pg.GetSession(ctx, "abc")
	assert.ErrorIs(t, err, model.ErrSessionExpired)
}
