package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBridge fans broadcasts out over a Redis pub/sub channel.
type RedisBridge struct {
	client  *redis.Client
	channel string
	origin  uuid.UUID
	logger  *slog.Logger
}

// NewRedis wraps an existing client. The bridge owns the client from then on.
func NewRedis(client *redis.Client, channel string, origin uuid.UUID, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger,
	}
}

// Publish implements Bridge.
func (b *RedisBridge) Publish(ctx context.Context, payload string) error {
	data, err := Encode(b.origin, payload)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to redis channel %q: %w", b.channel, err)
	}
	return nil
}

// Run implements Bridge.
func (b *RedisBridge) Run(ctx context.Context, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		if err := pubsub.Close(); err != nil && !isClosedNetErr(err) {
			b.logger.Warn("failed to close pubsub", "error", err)
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to redis channel %q: %w", b.channel, err)
	}
	b.logger.Info("redis bridge is running", "channel", b.channel)

	msgCh := pubsub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				b.logger.Warn("pubsub channel closed by redis")
				return nil
			}
			dispatch(b.logger, b.origin, []byte(msg.Payload), handler)
		case <-ctx.Done():
			b.logger.Info("shutting down redis bridge")
			return nil
		}
	}
}

// Close implements Bridge.
func (b *RedisBridge) Close() error {
	if err := b.client.Close(); err != nil && !isClosedNetErr(err) {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
