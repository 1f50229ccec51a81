package keys

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/e2ee"
	apperrors "sealedchat-backend/pkg/errors"
)

type MockKeyRepository struct {
	mock.Mock
}

func (m *MockKeyRepository) SaveIdentityKey(ctx context.Context, key *domain.IdentityKey) (*domain.IdentityKey, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IdentityKey), args.Error(1)
}

func (m *MockKeyRepository) GetIdentityKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IdentityKey), args.Error(1)
}

func (m *MockKeyRepository) GetIdentityKeys(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.IdentityKey, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]*domain.IdentityKey), args.Error(1)
}

type MockKeyCache struct {
	mock.Mock
}

func (m *MockKeyCache) GetKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IdentityKey), args.Error(1)
}

func (m *MockKeyCache) SetKey(ctx context.Context, key *domain.IdentityKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

var (
	pemOnce sync.Once
	pemKeys []string
)

func testKeys(t *testing.T) (string, string) {
	t.Helper()
	pemOnce.Do(func() {
		for i := 0; i < 2; i++ {
			id, err := e2ee.GenerateIdentity(e2ee.MinKeyBits)
			if err != nil {
				panic(err)
			}
			pemKey, err := e2ee.ExportPublicKey(id.PublicKey)
			if err != nil {
				panic(err)
			}
			pemKeys = append(pemKeys, pemKey)
		}
	})
	return pemKeys[0], pemKeys[1]
}

func TestPublishIdentityKey_FirstPublish(t *testing.T) {
	repo := new(MockKeyRepository)
	cache := new(MockKeyCache)
	service := NewService(repo, cache)
	ctx := context.Background()

	key, _ := testKeys(t)
	userID := uuid.New()

	repo.On("SaveIdentityKey", ctx, mock.MatchedBy(func(k *domain.IdentityKey) bool {
		return k.UserID == userID && k.PublicKey == key
	})).Return(&domain.IdentityKey{UserID: userID, PublicKey: key}, nil)
	cache.On("SetKey", ctx, mock.Anything).Return(nil)

	stored, err := service.PublishIdentityKey(ctx, &PublishKeyInput{UserID: userID, PublicKey: key})
	require.NoError(t, err)
	assert.Equal(t, key, stored.PublicKey)

	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestPublishIdentityKey_DifferentKeyConflicts(t *testing.T) {
	repo := new(MockKeyRepository)
	service := NewService(repo, nil)
	ctx := context.Background()

	first, second := testKeys(t)
	userID := uuid.New()

	repo.On("SaveIdentityKey", ctx, mock.Anything).
		Return(&domain.IdentityKey{UserID: userID, PublicKey: first}, nil)

	_, err := service.PublishIdentityKey(ctx, &PublishKeyInput{UserID: userID, PublicKey: second})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeKeyExists))
}

func TestPublishIdentityKey_RejectsInvalidKey(t *testing.T) {
	repo := new(MockKeyRepository)
	service := NewService(repo, nil)

	_, err := service.PublishIdentityKey(context.Background(), &PublishKeyInput{UserID: uuid.New(), PublicKey: "garbage"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidPublicKey))
	repo.AssertNotCalled(t, "SaveIdentityKey", mock.Anything, mock.Anything)
}

func TestGetPublicKey(t *testing.T) {
	ctx := context.Background()
	key, _ := testKeys(t)
	userID := uuid.New()
	stored := &domain.IdentityKey{UserID: userID, PublicKey: key}

	t.Run("cache hit skips repository", func(t *testing.T) {
		repo := new(MockKeyRepository)
		cache := new(MockKeyCache)
		cache.On("GetKey", ctx, userID).Return(stored, nil)

		got, err := NewService(repo, cache).GetPublicKey(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, stored, got)
		repo.AssertNotCalled(t, "GetIdentityKey", mock.Anything, mock.Anything)
	})

	t.Run("cache miss falls through and fills cache", func(t *testing.T) {
		repo := new(MockKeyRepository)
		cache := new(MockKeyCache)
		cache.On("GetKey", ctx, userID).Return(nil, domain.ErrKeyNotFound)
		repo.On("GetIdentityKey", ctx, userID).Return(stored, nil)
		cache.On("SetKey", ctx, stored).Return(assert.AnError)

		got, err := NewService(repo, cache).GetPublicKey(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, stored, got)
		cache.AssertExpectations(t)
	})

	t.Run("unknown user", func(t *testing.T) {
		repo := new(MockKeyRepository)
		repo.On("GetIdentityKey", ctx, userID).Return(nil, domain.ErrKeyNotFound)

		_, err := NewService(repo, nil).GetPublicKey(ctx, userID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestSafetyNumber_IsSymmetric(t *testing.T) {
	ctx := context.Background()
	keyA, keyB := testKeys(t)
	alice, bob := uuid.New(), uuid.New()

	repo := new(MockKeyRepository)
	repo.On("GetIdentityKey", ctx, alice).Return(&domain.IdentityKey{UserID: alice, PublicKey: keyA}, nil)
	repo.On("GetIdentityKey", ctx, bob).Return(&domain.IdentityKey{UserID: bob, PublicKey: keyB}, nil)
	service := NewService(repo, nil)

	ab, err := service.SafetyNumber(ctx, alice, bob)
	require.NoError(t, err)
	ba, err := service.SafetyNumber(ctx, bob, alice)
	require.NoError(t, err)

	assert.Equal(t, ab.Fingerprint, ba.Fingerprint)
	assert.Len(t, ab.Fingerprint, 71)

	_, err = service.SafetyNumber(ctx, alice, alice)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}
