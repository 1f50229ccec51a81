package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sealedchat-backend/internal/database"
	"sealedchat-backend/internal/domain"
)

// DirectoryRepository caches published identity keys in front of
// CockroachDB. Keys are immutable once published, so entries never go stale;
// the TTL only bounds memory.
type DirectoryRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(client *database.RedisClient, ttl time.Duration) *DirectoryRepository {
	return &DirectoryRepository{client: client, ttl: ttl}
}

func directoryKey(userID uuid.UUID) string {
	return fmt.Sprintf("directory:key:%s", userID)
}

// GetKey returns the cached key, or domain.ErrKeyNotFound on a miss
func (r *DirectoryRepository) GetKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error) {
	if r.client.IsDegraded() {
		return nil, database.ErrRedisDegraded
	}

	raw, err := r.client.Client.Get(ctx, directoryKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get cached key: %w", err)
	}

	var key domain.IdentityKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("failed to decode cached key: %w", err)
	}
	return &key, nil
}

// SetKey caches a published key
func (r *DirectoryRepository) SetKey(ctx context.Context, key *domain.IdentityKey) error {
	raw, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}
	if err := r.client.SafeSet(ctx, directoryKey(key.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache key: %w", err)
	}
	return nil
}
