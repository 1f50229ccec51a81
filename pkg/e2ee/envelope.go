package e2ee

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// Envelope is one encrypted message: AES-256-GCM content plus the content key
// wrapped once per recipient with RSA-OAEP. All binary fields are base64.
//
// An Envelope is immutable after SealForRecipients returns.
type Envelope struct {
	ContentCiphertext string               `json:"content_ciphertext"`
	IV                string               `json:"iv"`
	WrappedKeys       map[uuid.UUID]string `json:"wrapped_keys"`
}

// Recipients returns the ids holding a wrapped key.
func (e *Envelope) Recipients() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(e.WrappedKeys))
	for id := range e.WrappedKeys {
		ids = append(ids, id)
	}
	return ids
}

// HasRecipient reports whether userID holds a wrapped key.
func (e *Envelope) HasRecipient(userID uuid.UUID) bool {
	_, ok := e.WrappedKeys[userID]
	return ok
}

// Validate checks every encoded field without performing any cryptography.
// The relay uses it on ingest since it can never decrypt.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: envelope is missing", ErrMalformedEncoding)
	}
	if _, err := decode("content_ciphertext", e.ContentCiphertext); err != nil {
		return err
	}
	if _, err := decodeIV(e.IV); err != nil {
		return err
	}
	if len(e.WrappedKeys) == 0 {
		return fmt.Errorf("%w: envelope has no wrapped keys", ErrMalformedEncoding)
	}
	for id, wrapped := range e.WrappedKeys {
		if _, err := decode("wrapped_keys["+id.String()+"]", wrapped); err != nil {
			return err
		}
	}
	return nil
}

// SealForRecipients encrypts plaintext under a fresh content key and IV and
// wraps that key for every recipient. The key and IV are drawn here and never
// accepted from the caller, so an IV can never be reused under the same key.
//
// recipients must contain every current participant, including the sender.
func SealForRecipients(plaintext []byte, recipients map[uuid.UUID]*rsa.PublicKey) (*Envelope, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}
	defer wipe(key)

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	wrapped := make(map[uuid.UUID]string, len(recipients))
	for userID, pub := range recipients {
		if pub == nil {
			return nil, fmt.Errorf("%w: no key for %s", ErrInvalidPublicKey, userID)
		}
		wk, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to wrap key for %s: %w", userID, err)
		}
		wrapped[userID] = encode(wk)
	}

	return &Envelope{
		ContentCiphertext: encode(gcm.Seal(nil, iv, plaintext, nil)),
		IV:                encode(iv),
		WrappedKeys:       wrapped,
	}, nil
}

// OpenAsRecipient unwraps the content key for self and decrypts the content.
// Encodings are validated first; the returned error wraps exactly one of
// ErrMalformedEncoding, ErrNoKeyForRecipient, ErrUnwrapFailed or ErrDecryptFailed.
func OpenAsRecipient(env *Envelope, self uuid.UUID, priv *rsa.PrivateKey) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: envelope is missing", ErrMalformedEncoding)
	}
	if priv == nil {
		return nil, fmt.Errorf("%w: private key is not unlocked", ErrUnwrapFailed)
	}

	encodedKey, ok := env.WrappedKeys[self]
	if !ok {
		return nil, ErrNoKeyForRecipient
	}

	wrapped, err := decode("wrapped_key", encodedKey)
	if err != nil {
		return nil, err
	}
	ciphertext, err := decode("content_ciphertext", env.ContentCiphertext)
	if err != nil {
		return nil, err
	}
	iv, err := decodeIV(env.IV)
	if err != nil {
		return nil, err
	}

	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	defer wipe(key)
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: content key is %d bytes", ErrUnwrapFailed, len(key))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	return plaintext, nil
}
