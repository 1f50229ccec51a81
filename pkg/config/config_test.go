package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Chat.MaxGroupParticipants)
	assert.Equal(t, time.Hour, cfg.Chat.DeleteForAllWindow)
	assert.Equal(t, 2048, cfg.Crypto.RSABits)
	assert.Equal(t, 100000, cfg.Crypto.PBKDF2Iterations)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CASSANDRA_HOSTS", "c1,c2")
	t.Setenv("CHAT_DELETE_FOR_ALL_WINDOW", "30m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, cfg.Cassandra.Hosts)
	assert.Equal(t, 30*time.Minute, cfg.Chat.DeleteForAllWindow)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"short production secret", map[string]string{"ENV": "production", "JWT_SECRET": "short"}},
		{"oversized groups", map[string]string{"CHAT_MAX_GROUP_PARTICIPANTS": "51"}},
		{"weak modulus", map[string]string{"CRYPTO_RSA_BITS": "1024"}},
		{"cheap kdf", map[string]string{"CRYPTO_PBKDF2_ITERATIONS": "1000"}},
		{"page size above max", map[string]string{"CHAT_HISTORY_PAGE_SIZE": "500"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
