package client

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustStore_StatusFollowsFingerprint(t *testing.T) {
	ts, err := NewTrustStore("")
	require.NoError(t, err)
	peer := uuid.New()

	assert.Equal(t, TrustUnverified, ts.Status(peer, "11111 22222"))

	require.NoError(t, ts.MarkVerified(peer, "11111 22222"))
	assert.Equal(t, TrustVerified, ts.Status(peer, "11111 22222"))
	assert.Equal(t, TrustStale, ts.Status(peer, "33333 44444"))

	require.NoError(t, ts.Forget(peer))
	assert.Equal(t, TrustUnverified, ts.Status(peer, "11111 22222"))
}

func TestTrustStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	peer := uuid.New()

	ts, err := NewTrustStore(path)
	require.NoError(t, err)
	require.NoError(t, ts.MarkVerified(peer, "fp"))

	reloaded, err := NewTrustStore(path)
	require.NoError(t, err)
	assert.Equal(t, TrustVerified, reloaded.Status(peer, "fp"))
}
