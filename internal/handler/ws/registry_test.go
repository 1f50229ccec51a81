package ws

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestClient(userID uuid.UUID, queue int) *Client {
	return &Client{userID: userID, send: make(chan []byte, queue), connID: uuid.New().String()}
}

func TestConnectionRegistry_AddRemove(t *testing.T) {
	r := NewConnectionRegistry()
	user := uuid.New()
	phone, laptop := newTestClient(user, 1), newTestClient(user, 1)

	assert.True(t, r.Add(phone))
	assert.False(t, r.Add(laptop))
	assert.Equal(t, 2, r.Connections(user))

	assert.True(t, r.Remove(phone))
	assert.False(t, r.Remove(phone))
	assert.Equal(t, 1, r.Connections(user))

	_, open := <-phone.send
	assert.False(t, open)

	assert.True(t, r.Remove(laptop))
	assert.Equal(t, 0, r.Connections(user))
}

func TestConnectionRegistry_SendReachesEveryConnection(t *testing.T) {
	r := NewConnectionRegistry()
	alice, bob := uuid.New(), uuid.New()
	a1, a2, b1 := newTestClient(alice, 1), newTestClient(alice, 1), newTestClient(bob, 1)
	r.Add(a1)
	r.Add(a2)
	r.Add(b1)

	assert.Equal(t, 2, r.Send(alice, []byte("hi")))
	assert.Equal(t, "hi", string(<-a1.send))
	assert.Equal(t, "hi", string(<-a2.send))
	assert.Len(t, b1.send, 0)

	assert.Equal(t, 0, r.Send(uuid.New(), []byte("nobody")))
}

func TestConnectionRegistry_DropsSlowConsumer(t *testing.T) {
	r := NewConnectionRegistry()
	user := uuid.New()
	slow := newTestClient(user, 1)
	r.Add(slow)

	assert.Equal(t, 1, r.Send(user, []byte("first")))
	assert.Equal(t, 0, r.Send(user, []byte("second")))
	assert.Equal(t, 0, r.Connections(user))

	assert.Equal(t, "first", string(<-slow.send))
	_, open := <-slow.send
	assert.False(t, open)
}
