package client

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/cache"
	"sealedchat-backend/pkg/e2ee"
)

// Directory resolves a user's published identity key
type Directory interface {
	GetPublicKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error)
}

type directoryEntry struct {
	pem string
	pub *rsa.PublicKey
}

// CachedDirectory parses and caches directory lookups
type CachedDirectory struct {
	inner Directory
	cache *cache.MemoryCache[uuid.UUID, *directoryEntry]
}

// NewCachedDirectory wraps inner with a TTL cache
func NewCachedDirectory(inner Directory, ttl time.Duration, maxSize int) *CachedDirectory {
	return &CachedDirectory{
		inner: inner,
		cache: cache.NewMemoryCache[uuid.UUID, *directoryEntry](ttl, maxSize),
	}
}

// PublicKey returns the parsed key of userID and its PEM form
func (d *CachedDirectory) PublicKey(ctx context.Context, userID uuid.UUID) (*rsa.PublicKey, string, error) {
	if entry, ok := d.cache.Get(userID); ok {
		return entry.pub, entry.pem, nil
	}

	key, err := d.inner.GetPublicKey(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up key for %s: %w", userID, err)
	}

	pub, err := e2ee.ParsePublicKey(key.PublicKey)
	if err != nil {
		return nil, "", fmt.Errorf("directory key for %s: %w", userID, err)
	}

	d.cache.Set(userID, &directoryEntry{pem: key.PublicKey, pub: pub}, 0)
	return pub, key.PublicKey, nil
}

// PublicKeys resolves every id; any miss fails the whole lookup
func (d *CachedDirectory) PublicKeys(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*rsa.PublicKey, error) {
	keys := make(map[uuid.UUID]*rsa.PublicKey, len(userIDs))
	for _, id := range userIDs {
		pub, _, err := d.PublicKey(ctx, id)
		if err != nil {
			return nil, err
		}
		keys[id] = pub
	}
	return keys, nil
}

// Invalidate drops the cached key of userID
func (d *CachedDirectory) Invalidate(userID uuid.UUID) {
	d.cache.Delete(userID)
}
