package notify

import (
	"context"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const channelPrefix = "library:notifications:"

func channelFor(userID string) string {
	return channelPrefix + userID
}

// RedisBroker relays notifications over Redis pub/sub so every API instance
// can serve any user's stream.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroker wraps an existing client. The broker owns the client and
// closes it in Close.
func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(n.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (<-chan model.Notification, func(), error) {
	sub := b.client.Subscribe(ctx, channelFor(userID))
	// Wait for the subscription to be confirmed before handing out the channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan model.Notification, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(done) })
	}

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n model.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					b.logger.Warn("discarding malformed notification payload",
						zap.String("channel", msg.Channel),
						zap.Error(err),
					)
					continue
				}
				select {
				case out <- n:
				default:
					b.logger.Warn("dropping notification for slow subscriber",
						zap.String("user_id", userID),
						zap.String("notification_id", n.ID),
					)
				}
			}
		}
	}()

	return out, cancel, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
