package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealedchat-backend/pkg/e2ee"
)

func TestGenerateOpenSafety(t *testing.T) {
	dir := t.TempDir()
	a := &args{Iterations: 1000}

	paths := map[string][2]string{}
	for _, name := range []string{"alice", "bob"} {
		vault := filepath.Join(dir, name+".json")
		pub := filepath.Join(dir, name+".pem")
		a.Generate = &generateCmd{Out: vault, PublicOut: pub, Bits: e2ee.MinKeyBits, Password: "pw-" + name}

		var out bytes.Buffer
		require.NoError(t, run(a, &out))
		assert.Contains(t, out.String(), vault)
		paths[name] = [2]string{vault, pub}
	}
	a.Generate = nil

	t.Run("open with correct password", func(t *testing.T) {
		a.Open = &openCmd{Vault: paths["alice"][0], Password: "pw-alice"}
		defer func() { a.Open = nil }()

		var out bytes.Buffer
		require.NoError(t, run(a, &out))

		pub, err := os.ReadFile(paths["alice"][1])
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(out.String(), string(pub)))
	})

	t.Run("open with wrong password", func(t *testing.T) {
		a.Open = &openCmd{Vault: paths["alice"][0], Password: "pw-bob"}
		defer func() { a.Open = nil }()

		assert.ErrorIs(t, run(a, &bytes.Buffer{}), e2ee.ErrWrongPassphrase)
	})

	t.Run("safety number is symmetric", func(t *testing.T) {
		aliceID, bobID := uuid.NewString(), uuid.NewString()

		var ab, ba bytes.Buffer
		require.NoError(t, runSafety(&safetyCmd{SelfID: aliceID, SelfKey: paths["alice"][1], PeerID: bobID, PeerKey: paths["bob"][1]}, &ab))
		require.NoError(t, runSafety(&safetyCmd{SelfID: bobID, SelfKey: paths["bob"][1], PeerID: aliceID, PeerKey: paths["alice"][1]}, &ba))

		assert.Equal(t, ab.String(), ba.String())
		assert.Len(t, strings.TrimSpace(ab.String()), 71)
	})

	t.Run("safety rejects bad input", func(t *testing.T) {
		err := runSafety(&safetyCmd{SelfID: "nope", SelfKey: paths["alice"][1], PeerID: uuid.NewString(), PeerKey: paths["bob"][1]}, &bytes.Buffer{})
		assert.Error(t, err)

		err = runSafety(&safetyCmd{SelfID: uuid.NewString(), SelfKey: paths["alice"][0], PeerID: uuid.NewString(), PeerKey: paths["bob"][1]}, &bytes.Buffer{})
		assert.ErrorIs(t, err, e2ee.ErrInvalidPublicKey)
	})
}
