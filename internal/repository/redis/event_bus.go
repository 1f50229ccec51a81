package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"sealedchat-backend/internal/database"
	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/logger"
	"sealedchat-backend/pkg/metrics"
)

// EventsChannel is the pub/sub channel every relay instance subscribes to
const EventsChannel = "chat-events"

// EventBus fans relay events out to every instance. Each event names its
// recipients; instances deliver only to local connections of those users.
type EventBus struct {
	client *database.RedisClient
}

// NewEventBus creates a new EventBus
func NewEventBus(client *database.RedisClient) *EventBus {
	return &EventBus{client: client}
}

// Publish sends an event to all relay instances
func (b *EventBus) Publish(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := b.client.SafePublish(ctx, EventsChannel, payload).Err(); err != nil {
		metrics.ChatEventsPublishedTotal.WithLabelValues(string(event.Type), "error").Inc()
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	metrics.ChatEventsPublishedTotal.WithLabelValues(string(event.Type), "success").Inc()
	return nil
}

// Subscribe delivers decoded events to handle until ctx is done.
// Undecodable payloads are logged and skipped.
func (b *EventBus) Subscribe(ctx context.Context, handle func(*domain.Event)) error {
	pubsub := b.client.Client.Subscribe(ctx, EventsChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", EventsChannel, err)
	}
	logger.Info("Subscribed to relay events", zap.String("channel", EventsChannel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn("Dropping undecodable relay event", zap.Error(err))
				continue
			}
			handle(&event)
		}
	}
}
