package cassandra

import (
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
)

func TestIndexedKey(t *testing.T) {
	chatID := gocql.TimeUUID()
	createdAt := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	t.Run("claimed id", func(t *testing.T) {
		key, ok := indexedKey(map[string]interface{}{
			"message_id": gocql.TimeUUID(),
			"chat_id":    chatID,
			"created_at": createdAt,
		})
		assert.True(t, ok)
		assert.Equal(t, chatID, key.chatID)
		assert.True(t, createdAt.Equal(key.createdAt))
	})

	t.Run("missing columns", func(t *testing.T) {
		_, ok := indexedKey(map[string]interface{}{"chat_id": chatID})
		assert.False(t, ok)

		_, ok = indexedKey(map[string]interface{}{"chat_id": chatID, "created_at": time.Time{}})
		assert.False(t, ok)

		_, ok = indexedKey(map[string]interface{}{})
		assert.False(t, ok)
	})
}
