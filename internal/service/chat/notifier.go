package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sealedchat-backend/internal/domain"
)

// StatusNotifier delivers aggregate status changes to the message sender
type StatusNotifier struct {
	publisher EventPublisher
}

// NewStatusNotifier creates a StatusNotifier
func NewStatusNotifier(publisher EventPublisher) *StatusNotifier {
	return &StatusNotifier{publisher: publisher}
}

// NotifyStatus publishes update to senderID only
func (n *StatusNotifier) NotifyStatus(ctx context.Context, senderID uuid.UUID, update domain.StatusUpdate) error {
	event, err := domain.NewEvent(domain.EventStatusUpdate, update.ChatID, []uuid.UUID{senderID}, update)
	if err != nil {
		return err
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to notify sender: %w", err)
	}
	return nil
}
