package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealedchat-backend/pkg/e2ee"
)

func TestFileVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.json")
	vault := NewFileVault(path)

	_, err := vault.Load()
	assert.ErrorIs(t, err, ErrNoIdentity)

	sealed := &e2ee.SealedKey{Ciphertext: "Y2lwaGVy", IV: "aXZpdml2aXZpdml2"}
	require.NoError(t, vault.Store(sealed))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := vault.Load()
	require.NoError(t, err)
	assert.Equal(t, sealed, loaded)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = vault.Load()
	assert.ErrorIs(t, err, e2ee.ErrMalformedEncoding)
}
