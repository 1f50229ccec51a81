package client

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealedchat-backend/internal/domain"
)

func TestOutbox_ConfirmIsIdempotent(t *testing.T) {
	o := NewOutbox()
	chatID := uuid.New()

	entry := o.Enqueue(chatID, domain.KindText, nil)
	assert.Equal(t, EntryPending, entry.State)

	relayCopy := &domain.Message{MessageID: entry.MessageID, ChatID: chatID}
	assert.True(t, o.Confirm(relayCopy))
	assert.False(t, o.Confirm(relayCopy))
	assert.False(t, o.Confirm(&domain.Message{MessageID: uuid.New()}))

	got, ok := o.Get(entry.MessageID)
	require.True(t, ok)
	assert.Equal(t, EntryConfirmed, got.State)
	assert.Same(t, relayCopy, got.Confirmed)
}

func TestOutbox_FailRetryKeepsMessageID(t *testing.T) {
	o := NewOutbox()
	chatID := uuid.New()
	entry := o.Enqueue(chatID, domain.KindText, nil)

	assert.True(t, o.Fail(entry.MessageID, errors.New("timeout")))
	assert.False(t, o.Fail(entry.MessageID, errors.New("again")))

	failed, _ := o.Get(entry.MessageID)
	assert.Equal(t, EntryFailed, failed.State)
	assert.Equal(t, "timeout", failed.LastError)
	assert.Equal(t, 1, failed.Attempts)

	retried, ok := o.Retry(entry.MessageID)
	require.True(t, ok)
	assert.Equal(t, entry.MessageID, retried.MessageID)
	assert.Equal(t, EntryPending, retried.State)

	_, ok = o.Retry(entry.MessageID)
	assert.False(t, ok)
}

func TestOutbox_ReconcileAndPrune(t *testing.T) {
	o := NewOutbox()
	chatID, otherChat := uuid.New(), uuid.New()

	a := o.Enqueue(chatID, domain.KindText, nil)
	b := o.Enqueue(chatID, domain.KindText, nil)
	c := o.Enqueue(otherChat, domain.KindText, nil)

	// history arrives with a duplicate of a
	changed := o.Reconcile([]*domain.Message{
		{MessageID: a.MessageID},
		{MessageID: a.MessageID},
		{MessageID: uuid.New()},
	})
	assert.Equal(t, 1, changed)

	pending := o.Unconfirmed(chatID)
	require.Len(t, pending, 1)
	assert.Equal(t, b.MessageID, pending[0].MessageID)

	assert.Equal(t, 1, o.Prune())
	_, ok := o.Get(a.MessageID)
	assert.False(t, ok)
	assert.Len(t, o.Unconfirmed(otherChat), 1)
	assert.Equal(t, c.MessageID, o.Unconfirmed(otherChat)[0].MessageID)
}

func TestOutbox_AbortOnlyBeforeDispatch(t *testing.T) {
	o := NewOutbox()
	chatID := uuid.New()

	early := o.Enqueue(chatID, domain.KindText, nil)
	assert.True(t, o.Abort(early.MessageID))
	_, ok := o.Get(early.MessageID)
	assert.False(t, ok)
	assert.Empty(t, o.Unconfirmed(chatID))
	assert.False(t, o.Abort(early.MessageID))

	sent := o.Enqueue(chatID, domain.KindText, nil)
	require.True(t, o.MarkDispatched(sent.MessageID))
	assert.False(t, o.Abort(sent.MessageID))

	// a failed dispatched send stays retryable under its id
	require.True(t, o.Fail(sent.MessageID, errors.New("timeout")))
	assert.False(t, o.Abort(sent.MessageID))
	got, ok := o.Get(sent.MessageID)
	require.True(t, ok)
	assert.True(t, got.Dispatched)
	assert.Len(t, o.Unconfirmed(chatID), 1)
}
