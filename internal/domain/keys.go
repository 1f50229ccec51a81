package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdentityKey is a user's published identity public key.
// Only the public key is stored on the server; the private key never leaves
// the owning device. Maps to CockroachDB identity_keys.
type IdentityKey struct {
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	PublicKey string    `json:"public_key" db:"public_key"` // PEM (SPKI)
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SafetyNumber is the fingerprint two users compare out of band
type SafetyNumber struct {
	UserID      uuid.UUID `json:"user_id"`
	PeerID      uuid.UUID `json:"peer_id"`
	Fingerprint string    `json:"fingerprint"`
}
