package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sealedchat-backend/internal/database"
)

// TypingRepository holds short-lived typing indicators, one key per chat
// and user. Keys expire on their own if stop_typing is never received.
type TypingRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewTypingRepository creates a new TypingRepository
func NewTypingRepository(client *database.RedisClient, ttl time.Duration) *TypingRepository {
	return &TypingRepository{client: client, ttl: ttl}
}

func typingKey(chatID, userID uuid.UUID) string {
	return fmt.Sprintf("typing:%s:%s", chatID, userID)
}

// StartTyping marks userID as typing in chatID, refreshing the TTL
func (r *TypingRepository) StartTyping(ctx context.Context, chatID, userID uuid.UUID) error {
	if err := r.client.SafeSet(ctx, typingKey(chatID, userID), 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// StopTyping clears the indicator and reports whether one was set
func (r *TypingRepository) StopTyping(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	n, err := r.client.SafeDel(ctx, typingKey(chatID, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to clear typing: %w", err)
	}
	return n > 0, nil
}

// IsTyping reports whether userID is typing in chatID
func (r *TypingRepository) IsTyping(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	n, err := r.client.SafeExists(ctx, typingKey(chatID, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check typing: %w", err)
	}
	return n > 0, nil
}
