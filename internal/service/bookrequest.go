package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository"
)

// BookRequestService handles suggestions for titles the library does not
// own yet. Decisions are advisory: approving never creates a Book.
type BookRequestService struct {
	access
	ledger   repository.LedgerStore
	notifier *NotificationService
	logger   *zap.Logger
	now      Clock
}

// NewBookRequestService constructs a BookRequestService.
func NewBookRequestService(
	members repository.MembershipStore,
	ledger repository.LedgerStore,
	notifier *NotificationService,
	logger *zap.Logger,
) *BookRequestService {
	return &BookRequestService{
		access:   access{members: members},
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		now:      utcNow,
	}
}

// Create files a pending new-book request for the actor.
func (s *BookRequestService) Create(ctx context.Context, actorID string, p model.NewBookRequestPayload) (*model.NewBookRequest, error) {
	if p.UserID != "" && p.UserID != actorID {
		return nil, model.ErrForbidden
	}
	p.BookName = strings.TrimSpace(p.BookName)
	if p.BookName == "" {
		return nil, model.Validationf("bookName is required")
	}

	user, err := s.members.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	req := &model.NewBookRequest{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		UserName:    user.Username,
		UserEmail:   user.Email,
		BookName:    p.BookName,
		Author:      strings.TrimSpace(p.Author),
		Description: strings.TrimSpace(p.Description),
		Status:      model.NewBookPending,
		CreatedAt:   s.now(),
	}
	if err := s.ledger.CreateNewBookRequest(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("new book requested", zap.String("request_id", req.ID), zap.String("book_name", req.BookName))
	return req, nil
}

// List returns every new-book request, newest first. Admin only.
func (s *BookRequestService) List(ctx context.Context, actorID string) ([]model.NewBookRequest, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.ledger.ListNewBookRequests(ctx)
}

// Decide approves or rejects a pending request and tells the requester.
func (s *BookRequestService) Decide(ctx context.Context, actorID, id string, status model.NewBookRequestStatus) (*model.NewBookRequest, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if err := parseID("id", id); err != nil {
		return nil, err
	}
	if status != model.NewBookApproved && status != model.NewBookRejected {
		return nil, model.Validationf("status must be approved or rejected")
	}

	req, err := s.ledger.DecideNewBookRequest(ctx, id, status, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("new book request decided",
		zap.String("request_id", req.ID),
		zap.String("status", string(req.Status)),
		zap.String("admin_id", actorID),
	)
	s.notifier.notifyBestEffort(ctx, req.UserID, model.NotificationGeneric,
		fmt.Sprintf("Your request for %q has been %s", req.BookName, req.Status), "")
	return req, nil
}
