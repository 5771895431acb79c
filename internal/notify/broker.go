// Package notify pushes stored notifications to connected clients. Delivery
// is best effort: the mailbox in the store stays the source of truth.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

// subscriberBuffer is how many undelivered notifications a slow subscriber
// may hold before new ones are dropped for it.
const subscriberBuffer = 16

// Broker fans notifications out to live subscribers of a user.
type Broker interface {
	Publish(ctx context.Context, n model.Notification) error
	// Subscribe returns a channel of notifications for userID. The channel is
	// closed when ctx is done or cancel is called.
	Subscribe(ctx context.Context, userID string) (ch <-chan model.Notification, cancel func(), err error)
	Close() error
}

// MemoryBroker is an in-process Broker for single-instance deployments.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[chan model.Notification]struct{}
	logger *zap.Logger
}

// NewMemoryBroker returns an empty MemoryBroker.
func NewMemoryBroker(logger *zap.Logger) *MemoryBroker {
	return &MemoryBroker{
		subs:   make(map[string]map[chan model.Notification]struct{}),
		logger: logger,
	}
}

func (b *MemoryBroker) Publish(_ context.Context, n model.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[n.UserID] {
		select {
		case ch <- n:
		default:
			b.logger.Warn("dropping notification for slow subscriber",
				zap.String("user_id", n.UserID),
				zap.String("notification_id", n.ID),
			)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, userID string) (<-chan model.Notification, func(), error) {
	ch := make(chan model.Notification, subscriberBuffer)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan model.Notification]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.remove(userID, ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// remove unregisters ch and closes it unless Close already did.
func (b *MemoryBroker) remove(userID string, ch chan model.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[userID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(b.subs, userID)
	}
	close(ch)
}

// Close drops every subscriber.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, userID)
	}
	return nil
}
