package client

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/e2ee"
	"sealedchat-backend/pkg/logger"
)

var (
	// ErrLocked is returned by operations that need the private key
	ErrLocked = errors.New("session is locked")
	// ErrNotParticipant is returned when composing into a chat the user left
	ErrNotParticipant = errors.New("not a participant of this chat")
)

// KeyResolver supplies public keys for sealing and fingerprints
type KeyResolver interface {
	PublicKey(ctx context.Context, userID uuid.UUID) (*rsa.PublicKey, string, error)
	PublicKeys(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*rsa.PublicKey, error)
}

// Session is one signed-in device. It holds the unlocked private key in
// memory between Unlock and Lock.
type Session struct {
	userID    uuid.UUID
	vault     Vault
	keyStore  *e2ee.KeyStore
	directory KeyResolver

	mu   sync.RWMutex
	priv *rsa.PrivateKey
}

// NewSession creates a locked session
func NewSession(userID uuid.UUID, vault Vault, keyStore *e2ee.KeyStore, directory KeyResolver) *Session {
	return &Session{
		userID:    userID,
		vault:     vault,
		keyStore:  keyStore,
		directory: directory,
	}
}

// UserID returns the session owner
func (s *Session) UserID() uuid.UUID {
	return s.userID
}

// Unlock opens the sealed private key. e2ee.ErrWrongPassphrase means the
// caller should prompt again.
func (s *Session) Unlock(password string) error {
	sealed, err := s.vault.Load()
	if err != nil {
		return err
	}

	priv, err := s.keyStore.OpenPrivateKey(sealed, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.priv = priv
	s.mu.Unlock()

	logger.Info("Session unlocked", zap.String("user_id", s.userID.String()))
	return nil
}

// Lock drops the private key
func (s *Session) Lock() {
	s.mu.Lock()
	s.priv = nil
	s.mu.Unlock()
}

// Unlocked reports whether the private key is available
func (s *Session) Unlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priv != nil
}

func (s *Session) privateKey() *rsa.PrivateKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priv
}

// Compose seals plaintext for every current participant of chat, the
// sender included, so the sender can read its own history.
func (s *Session) Compose(ctx context.Context, chat *domain.Chat, plaintext []byte) (*e2ee.Envelope, error) {
	if !chat.IsParticipant(s.userID) {
		return nil, ErrNotParticipant
	}

	keys, err := s.directory.PublicKeys(ctx, chat.Participants)
	if err != nil {
		return nil, err
	}

	return e2ee.SealForRecipients(plaintext, keys)
}

// SafetyNumber computes the fingerprint shared with peerID
func (s *Session) SafetyNumber(ctx context.Context, peerID uuid.UUID) (string, error) {
	if peerID == s.userID {
		return "", fmt.Errorf("safety number needs two distinct users")
	}

	_, selfPEM, err := s.directory.PublicKey(ctx, s.userID)
	if err != nil {
		return "", err
	}
	_, peerPEM, err := s.directory.PublicKey(ctx, peerID)
	if err != nil {
		return "", err
	}

	return e2ee.ComputeFingerprint(s.userID.String(), selfPEM, peerID.String(), peerPEM), nil
}
