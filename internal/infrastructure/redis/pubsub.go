package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/finthenticate/server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// EventBus publishes authentication events on the shared pub/sub channel and
// lets the socket server subscribe to them. Delivery is fire-and-forget:
// subscribers that are down simply miss the event.
type EventBus struct {
	rdb     redis.UniversalClient
	channel string
	logger  *slog.Logger
}

func NewEventBus(rdb redis.UniversalClient, channel string, logger *slog.Logger) *EventBus {
	return &EventBus{rdb: rdb, channel: channel, logger: logger}
}

// Publish marshals the event and pushes it on the channel.
func (b *EventBus) Publish(ctx context.Context, ev *domain.AuthEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event encode: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("event publish: %w", domain.ErrDownstream)
	}
	return nil
}

// Subscribe opens a subscription and decodes incoming messages onto the
// returned channel. Malformed payloads are logged and skipped; the channel
// closes when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan *domain.AuthEvent, error) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("event subscribe: %w", domain.ErrDownstream)
	}

	out := make(chan *domain.AuthEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.AuthEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("dropping malformed event", "channel", b.channel, "error", err)
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
