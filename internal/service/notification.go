package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/notify"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository"
)

// recentNotifications caps ListRecent.
const recentNotifications = 50

// NotificationService is the per-user mailbox. Stored notifications are
// also pushed to live subscribers through the broker.
type NotificationService struct {
	access
	store  repository.NotificationStore
	broker notify.Broker
	logger *zap.Logger
	now    Clock
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(
	members repository.MembershipStore,
	store repository.NotificationStore,
	broker notify.Broker,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		access: access{members: members},
		store:  store,
		broker: broker,
		logger: logger,
		now:    utcNow,
	}
}

// Notify stores a notification for userID and pushes it to subscribers.
func (s *NotificationService) Notify(ctx context.Context, userID string, typ model.NotificationType, message, bookID string) (*model.Notification, error) {
	n := &model.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Message:   message,
		BookID:    bookID,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return nil, err
	}
	s.publish(ctx, *n)
	return n, nil
}

// notifyBestEffort is Notify for workflow side effects: failures are logged
// and never returned.
func (s *NotificationService) notifyBestEffort(ctx context.Context, userID string, typ model.NotificationType, message, bookID string) {
	if _, err := s.Notify(ctx, userID, typ, message, bookID); err != nil {
		s.logger.Warn("notification failed",
			zap.String("user_id", userID),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) publish(ctx context.Context, n model.Notification) {
	if err := s.broker.Publish(ctx, n); err != nil {
		s.logger.Warn("notification push failed",
			zap.String("user_id", n.UserID),
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
	}
}

// broadcast stores one copy of the notification per user. Best effort.
func (s *NotificationService) broadcast(ctx context.Context, typ model.NotificationType, message, bookID string) int {
	sent, err := s.store.InsertForAllUsers(ctx, model.Notification{
		Type:      typ,
		Message:   message,
		BookID:    bookID,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("broadcast failed", zap.String("type", string(typ)), zap.Error(err))
		return 0
	}
	for _, n := range sent {
		s.publish(ctx, n)
	}
	s.logger.Debug("broadcast sent", zap.String("type", string(typ)), zap.Int("recipients", len(sent)))
	return len(sent)
}

// BroadcastNewBook tells every registered user about a new title.
func (s *NotificationService) BroadcastNewBook(ctx context.Context, book *model.Book) int {
	return s.broadcast(ctx, model.NotificationNewBook,
		fmt.Sprintf("New book added: %s by %s", book.Title, book.Author), book.ID)
}

// BroadcastBookDeleted tells every registered user a title was removed.
func (s *NotificationService) BroadcastBookDeleted(ctx context.Context, book *model.Book) int {
	return s.broadcast(ctx, model.NotificationBookDeleted,
		fmt.Sprintf("%s has been removed from the library", book.Title), book.ID)
}

// ListRecent returns the newest notifications of userID.
func (s *NotificationService) ListRecent(ctx context.Context, actorID, userID string) ([]model.Notification, error) {
	target, err := s.actingFor(ctx, actorID, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListNotifications(ctx, target, recentNotifications)
}

// MarkRead flags a notification of the actor as read. Repeating it is not
// an error.
func (s *NotificationService) MarkRead(ctx context.Context, actorID, notificationID string) error {
	if err := parseID("notificationId", notificationID); err != nil {
		return err
	}
	return s.store.MarkNotificationRead(ctx, notificationID, actorID)
}

// ClearAll deletes every notification of userID.
func (s *NotificationService) ClearAll(ctx context.Context, actorID, userID string) (int64, error) {
	target, err := s.actingFor(ctx, actorID, userID)
	if err != nil {
		return 0, err
	}
	return s.store.ClearNotifications(ctx, target)
}

// Subscribe streams new notifications of the actor. Only the owner may
// subscribe to a mailbox.
func (s *NotificationService) Subscribe(ctx context.Context, actorID, userID string) (<-chan model.Notification, func(), error) {
	if userID != "" && !strings.EqualFold(userID, actorID) {
		return nil, nil, model.ErrForbidden
	}
	return s.broker.Subscribe(ctx, actorID)
}
