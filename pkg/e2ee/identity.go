package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinKeyBits is the smallest accepted identity modulus.
	MinKeyBits = 2048
	// DefaultIterations is the PBKDF2 work factor for sealing private keys.
	DefaultIterations = 100000
	// DefaultSaltContext namespaces the password KDF. Each sealed blob is
	// already stored per user, so a fixed context string is acceptable.
	DefaultSaltContext = "sealedchat-identity-v1"

	pemPublicKeyType = "PUBLIC KEY"
)

// Identity is a participant's asymmetric identity keypair. The private half
// never leaves the owning device; only PublicKey is published.
type Identity struct {
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
}

// GenerateIdentity creates a new RSA identity keypair of the given size.
func GenerateIdentity(bits int) (*Identity, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("identity key must be at least %d bits, got %d", MinKeyBits, bits)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}

	return &Identity{PublicKey: &priv.PublicKey, PrivateKey: priv}, nil
}

// ExportPublicKey encodes a public key as a PEM "PUBLIC KEY" block (SPKI).
// This is the canonical form stored in the directory.
func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("%w: nil key", ErrInvalidPublicKey)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPublicKeyType, Bytes: der})), nil
}

// ParsePublicKey decodes a PEM-encoded RSA public key and enforces MinKeyBits.
func ParsePublicKey(serialized string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(serialized))
	if block == nil || block.Type != pemPublicKeyType {
		return nil, fmt.Errorf("%w: not a PEM public key", ErrInvalidPublicKey)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
	}
	if pub.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("%w: modulus is %d bits", ErrInvalidPublicKey, pub.N.BitLen())
	}

	return pub, nil
}

// SealedKey is a private key encrypted at rest under a password-derived key.
// It is the only form of the private key that is ever persisted.
type SealedKey struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// KeyStore seals and opens identity private keys.
type KeyStore struct {
	Iterations  int
	SaltContext string
}

// NewKeyStore returns a KeyStore with the default work factor and salt context.
func NewKeyStore() *KeyStore {
	return &KeyStore{Iterations: DefaultIterations, SaltContext: DefaultSaltContext}
}

func (ks *KeyStore) deriveKey(password string) []byte {
	iterations := ks.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	salt := ks.SaltContext
	if salt == "" {
		salt = DefaultSaltContext
	}
	return pbkdf2.Key([]byte(password), []byte(salt), iterations, KeySize, sha256.New)
}

// SealPrivateKey exports priv as PKCS#8 and encrypts it with AES-256-GCM
// under a PBKDF2-SHA256 key derived from password.
func (ks *KeyStore) SealPrivateKey(priv *rsa.PrivateKey, password string) (*SealedKey, error) {
	if priv == nil {
		return nil, fmt.Errorf("private key is required")
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	defer wipe(der)

	key := ks.deriveKey(password)
	defer wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	return &SealedKey{
		Ciphertext: encode(gcm.Seal(nil, iv, der, nil)),
		IV:         encode(iv),
	}, nil
}

// OpenPrivateKey reverses SealPrivateKey. An authentication failure returns
// ErrWrongPassphrase; callers should re-prompt rather than abort.
func (ks *KeyStore) OpenPrivateKey(sealed *SealedKey, password string) (*rsa.PrivateKey, error) {
	if sealed == nil {
		return nil, fmt.Errorf("%w: sealed key is empty", ErrMalformedEncoding)
	}

	ciphertext, err := decode("ciphertext", sealed.Ciphertext)
	if err != nil {
		return nil, err
	}
	iv, err := decodeIV(sealed.IV)
	if err != nil {
		return nil, err
	}

	key := ks.deriveKey(password)
	defer wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	der, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	defer wipe(der)

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: sealed payload is not a private key", ErrWrongPassphrase)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: sealed payload is not an RSA key", ErrWrongPassphrase)
	}

	return priv, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
