package service

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository"
)

// ActivityPageSize is the number of entries per page of the activity feed.
const ActivityPageSize = 5

// maxActivityPage is the last page whose offset fits in an int.
const maxActivityPage = math.MaxInt/ActivityPageSize + 1

// ProgressService tracks the last page read per (user, book) and feeds the
// public reading activity stream.
type ProgressService struct {
	access
	catalog  repository.CatalogStore
	progress repository.ProgressStore
	activity repository.ActivityLog
	logger   *zap.Logger
	now      Clock
}

// NewProgressService constructs a ProgressService.
func NewProgressService(
	catalog repository.CatalogStore,
	members repository.MembershipStore,
	progress repository.ProgressStore,
	activity repository.ActivityLog,
	logger *zap.Logger,
) *ProgressService {
	return &ProgressService{
		access:   access{members: members},
		catalog:  catalog,
		progress: progress,
		activity: activity,
		logger:   logger,
		now:      utcNow,
	}
}

// SaveProgress upserts the page for (user, book) and appends an activity
// entry. Holding the book is not required.
func (s *ProgressService) SaveProgress(ctx context.Context, actorID string, req model.SaveProgressRequest) error {
	if err := parseID("bookId", req.BookID); err != nil {
		return err
	}
	if req.PageNumber < 1 {
		return model.Validationf("pageNumber must be at least 1")
	}
	target, err := s.actingFor(ctx, actorID, req.UserID)
	if err != nil {
		return err
	}

	book, err := s.catalog.GetBook(ctx, req.BookID)
	if err != nil {
		return err
	}

	at := s.now()
	if err := s.progress.UpsertProgress(ctx, target, book.ID, req.PageNumber, at); err != nil {
		return err
	}
	err = s.activity.AppendActivity(ctx, &model.ReadingActivity{
		ID:        uuid.NewString(),
		UserID:    target,
		BookID:    book.ID,
		BookName:  book.Title,
		Page:      req.PageNumber,
		Timestamp: at,
	})
	if err != nil {
		return err
	}

	s.logger.Debug("progress saved",
		zap.String("user_id", target),
		zap.String("book_id", book.ID),
		zap.Int("page", req.PageNumber),
	)
	return nil
}

// GetProgress returns bookId -> page for a user.
func (s *ProgressService) GetProgress(ctx context.Context, actorID, userID string) (map[string]int, error) {
	target, err := s.actingFor(ctx, actorID, userID)
	if err != nil {
		return nil, err
	}
	return s.progress.GetProgress(ctx, target)
}

// RecentActivity returns one page (1-based) of the global feed, newest
// first, joined with current book and user display names.
func (s *ProgressService) RecentActivity(ctx context.Context, page int) ([]model.ActivityView, error) {
	if page < 1 {
		page = 1
	}
	if page > maxActivityPage {
		return []model.ActivityView{}, nil
	}
	entries, err := s.activity.RecentActivity(ctx, (page-1)*ActivityPageSize, ActivityPageSize)
	if err != nil {
		return nil, err
	}

	bookIDs := make([]string, 0, len(entries))
	userIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		bookIDs = append(bookIDs, e.BookID)
		userIDs = append(userIDs, e.UserID)
	}
	books, err := s.catalog.GetBooks(ctx, bookIDs)
	if err != nil {
		return nil, err
	}
	users, err := s.members.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	views := make([]model.ActivityView, 0, len(entries))
	for _, e := range entries {
		v := model.ActivityView{
			ID:        e.ID,
			BookName:  e.BookName,
			UserName:  "Unknown reader",
			Page:      e.Page,
			Timestamp: e.Timestamp,
		}
		if b, ok := books[e.BookID]; ok {
			v.BookName = b.Title
			v.BookCover = b.CoverRef
		}
		if u, ok := users[e.UserID]; ok {
			v.UserName = u.Username
		}
		views = append(views, v)
	}
	return views, nil
}
