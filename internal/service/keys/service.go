package keys

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/e2ee"
	apperrors "sealedchat-backend/pkg/errors"
	"sealedchat-backend/pkg/logger"
)

// KeyRepository is the durable identity key directory
type KeyRepository interface {
	SaveIdentityKey(ctx context.Context, key *domain.IdentityKey) (*domain.IdentityKey, error)
	GetIdentityKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error)
	GetIdentityKeys(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.IdentityKey, error)
}

// KeyCache caches published keys. Cache failures are never fatal.
type KeyCache interface {
	GetKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error)
	SetKey(ctx context.Context, key *domain.IdentityKey) error
}

// Service manages the public identity key directory
type Service struct {
	keyRepo KeyRepository
	cache   KeyCache
}

// NewService creates a new keys service. cache may be nil.
func NewService(keyRepo KeyRepository, cache KeyCache) *Service {
	return &Service{
		keyRepo: keyRepo,
		cache:   cache,
	}
}

// PublishKeyInput contains the key a user publishes
type PublishKeyInput struct {
	UserID    uuid.UUID
	PublicKey string
}

// PublishIdentityKey stores the user's identity public key. The first
// published key wins: publishing the same key again is a no-op and a
// different key is rejected because keys cannot be rotated.
func (s *Service) PublishIdentityKey(ctx context.Context, input *PublishKeyInput) (*domain.IdentityKey, error) {
	pub, err := e2ee.ParsePublicKey(input.PublicKey)
	if err != nil {
		return nil, apperrors.InvalidPublicKeyError(err)
	}

	// Stored form is the re-encoded key so equal keys compare equal
	canonical, err := e2ee.ExportPublicKey(pub)
	if err != nil {
		return nil, apperrors.InvalidPublicKeyError(err)
	}

	stored, err := s.keyRepo.SaveIdentityKey(ctx, &domain.IdentityKey{
		UserID:    input.UserID,
		PublicKey: canonical,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if stored.PublicKey != canonical {
		logger.Warn("Rejected identity key replacement", zap.String("user_id", input.UserID.String()))
		return nil, apperrors.KeyExistsError()
	}

	s.cacheKey(ctx, stored)
	return stored, nil
}

// GetPublicKey returns the published key of userID
func (s *Service) GetPublicKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error) {
	if s.cache != nil {
		if key, err := s.cache.GetKey(ctx, userID); err == nil {
			return key, nil
		}
	}

	key, err := s.keyRepo.GetIdentityKey(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return nil, apperrors.NotFoundError("Identity key")
		}
		return nil, apperrors.DatabaseError(err)
	}

	s.cacheKey(ctx, key)
	return key, nil
}

// GetPublicKeys returns the published keys of every listed user that has one
func (s *Service) GetPublicKeys(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.IdentityKey, error) {
	keys, err := s.keyRepo.GetIdentityKeys(ctx, userIDs)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return keys, nil
}

// SafetyNumber computes the fingerprint self and peer compare out of band
func (s *Service) SafetyNumber(ctx context.Context, self, peer uuid.UUID) (*domain.SafetyNumber, error) {
	if self == peer {
		return nil, apperrors.ValidationError("Cannot compute a safety number with yourself")
	}

	selfKey, err := s.GetPublicKey(ctx, self)
	if err != nil {
		return nil, err
	}
	peerKey, err := s.GetPublicKey(ctx, peer)
	if err != nil {
		return nil, err
	}

	return &domain.SafetyNumber{
		UserID:      self,
		PeerID:      peer,
		Fingerprint: e2ee.ComputeFingerprint(self.String(), selfKey.PublicKey, peer.String(), peerKey.PublicKey),
	}, nil
}

func (s *Service) cacheKey(ctx context.Context, key *domain.IdentityKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetKey(ctx, key); err != nil {
		logger.Debug("Failed to cache identity key", zap.String("user_id", key.UserID.String()), zap.Error(err))
	}
}
