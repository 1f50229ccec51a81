package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sealedchat-backend/internal/database"
)

// PresenceRepository tracks online users across relay instances.
// Each websocket connection is a member of presence:{user}; the user is
// online while the set is non-empty. The key expires unless refreshed so a
// crashed instance cannot leave users online forever.
type PresenceRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{client: client, ttl: ttl}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

// Connect registers a connection and reports whether it is the user's first
func (r *PresenceRepository) Connect(ctx context.Context, userID uuid.UUID, connID string) (bool, error) {
	key := presenceKey(userID)
	var card *redis.IntCmd

	err := r.client.SafeTxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, connID)
		pipe.Expire(ctx, key, r.ttl)
		card = pipe.SCard(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to set user online: %w", err)
	}

	return card.Val() == 1, nil
}

// Disconnect removes a connection and reports whether the user went offline
func (r *PresenceRepository) Disconnect(ctx context.Context, userID uuid.UUID, connID string) (bool, error) {
	key := presenceKey(userID)
	var card *redis.IntCmd

	err := r.client.SafeTxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, key, connID)
		card = pipe.SCard(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to set user offline: %w", err)
	}

	return card.Val() == 0, nil
}

// Refresh extends the presence TTL (heartbeat)
func (r *PresenceRepository) Refresh(ctx context.Context, userID uuid.UUID) error {
	err := r.client.SafeTxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, presenceKey(userID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// IsUserOnline checks if user has at least one live connection
func (r *PresenceRepository) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := r.client.SafeSCard(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return n > 0, nil
}
