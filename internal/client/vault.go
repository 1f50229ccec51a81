package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sealedchat-backend/pkg/e2ee"
)

// ErrNoIdentity is returned when a vault holds no sealed key yet
var ErrNoIdentity = errors.New("no identity stored")

// Vault persists the sealed private key. Plaintext key material is never
// written to it.
type Vault interface {
	Load() (*e2ee.SealedKey, error)
	Store(sealed *e2ee.SealedKey) error
}

// FileVault keeps the sealed key as a JSON file
type FileVault struct {
	path string
}

// NewFileVault creates a vault backed by path
func NewFileVault(path string) *FileVault {
	return &FileVault{path: path}
}

// Load reads the sealed key
func (v *FileVault) Load() (*e2ee.SealedKey, error) {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoIdentity
		}
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var sealed e2ee.SealedKey
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("%w: vault is not a sealed key", e2ee.ErrMalformedEncoding)
	}
	return &sealed, nil
}

// Store replaces the sealed key atomically
func (v *FileVault) Store(sealed *e2ee.SealedKey) error {
	data, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sealed key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace vault: %w", err)
	}
	return nil
}
