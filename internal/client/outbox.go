package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/e2ee"
)

// EntryState is the send phase of an outbox entry
type EntryState string

const (
	EntryPending   EntryState = "pending"
	EntryConfirmed EntryState = "confirmed"
	EntryFailed    EntryState = "failed"
)

// OutboxEntry is a locally composed message. The message id is fixed at
// enqueue time and reused by retries so the relay can dedupe them.
type OutboxEntry struct {
	MessageID uuid.UUID
	ChatID    uuid.UUID
	Kind      domain.MessageKind
	Envelope  *e2ee.Envelope
	State     EntryState
	QueuedAt  time.Time
	Attempts  int
	LastError string
	// Dispatched is set once the envelope was handed to the relay. From
	// then on the send can no longer be aborted.
	Dispatched bool

	// Confirmed is the relay's copy once the send is acknowledged
	Confirmed *domain.Message
}

// Outbox tracks optimistic sends until the relay confirms them
type Outbox struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*OutboxEntry
	order   []uuid.UUID
	now     func() time.Time
}

// NewOutbox creates an empty outbox
func NewOutbox() *Outbox {
	return &Outbox{
		entries: make(map[uuid.UUID]*OutboxEntry),
		now:     time.Now,
	}
}

// Enqueue records a pending send and returns a snapshot of it
func (o *Outbox) Enqueue(chatID uuid.UUID, kind domain.MessageKind, env *e2ee.Envelope) OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry := &OutboxEntry{
		MessageID: uuid.New(),
		ChatID:    chatID,
		Kind:      kind,
		Envelope:  env,
		State:     EntryPending,
		QueuedAt:  o.now(),
	}
	o.entries[entry.MessageID] = entry
	o.order = append(o.order, entry.MessageID)
	return *entry
}

// Confirm reconciles a relay copy with its pending entry. It reports
// whether anything changed; repeated or unknown confirmations are no-ops.
func (o *Outbox) Confirm(msg *domain.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[msg.MessageID]
	if !ok || entry.State == EntryConfirmed {
		return false
	}
	entry.State = EntryConfirmed
	entry.Confirmed = msg
	entry.LastError = ""
	return true
}

// Reconcile confirms every entry present in msgs and returns how many changed
func (o *Outbox) Reconcile(msgs []*domain.Message) int {
	changed := 0
	for _, msg := range msgs {
		if o.Confirm(msg) {
			changed++
		}
	}
	return changed
}

// Fail marks a pending entry failed
func (o *Outbox) Fail(messageID uuid.UUID, cause error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[messageID]
	if !ok || entry.State != EntryPending {
		return false
	}
	entry.State = EntryFailed
	entry.Attempts++
	if cause != nil {
		entry.LastError = cause.Error()
	}
	return true
}

// MarkDispatched records that a pending entry is being handed to the relay
func (o *Outbox) MarkDispatched(messageID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[messageID]
	if !ok || entry.State != EntryPending {
		return false
	}
	entry.Dispatched = true
	return true
}

// Abort drops an entry that was never dispatched. Dispatched sends are
// delivered at least once and cannot be taken back, so Abort reports false
// for them.
func (o *Outbox) Abort(messageID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[messageID]
	if !ok || entry.Dispatched || entry.State == EntryConfirmed {
		return false
	}
	delete(o.entries, messageID)
	for i, id := range o.order {
		if id == messageID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return true
}

// Retry moves a failed entry back to pending under the same message id
func (o *Outbox) Retry(messageID uuid.UUID) (OutboxEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[messageID]
	if !ok || entry.State != EntryFailed {
		return OutboxEntry{}, false
	}
	entry.State = EntryPending
	return *entry, true
}

// Get returns a snapshot of one entry
func (o *Outbox) Get(messageID uuid.UUID) (OutboxEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[messageID]
	if !ok {
		return OutboxEntry{}, false
	}
	return *entry, true
}

// Unconfirmed returns pending and failed entries of chatID in enqueue order
func (o *Outbox) Unconfirmed(chatID uuid.UUID) []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []OutboxEntry
	for _, id := range o.order {
		entry := o.entries[id]
		if entry.ChatID == chatID && entry.State != EntryConfirmed {
			out = append(out, *entry)
		}
	}
	return out
}

// Prune forgets confirmed entries
func (o *Outbox) Prune() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.order[:0]
	pruned := 0
	for _, id := range o.order {
		if o.entries[id].State == EntryConfirmed {
			delete(o.entries, id)
			pruned++
			continue
		}
		kept = append(kept, id)
	}
	o.order = kept
	return pruned
}
