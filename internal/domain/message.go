package domain

import (
	"time"

	"github.com/google/uuid"

	"sealedchat-backend/pkg/e2ee"
)

// MessageKind is the content type of a message
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindAudio  MessageKind = "audio"
	KindCall   MessageKind = "call"
	KindSystem MessageKind = "system"
)

// IsUserAuthored reports whether messages of this kind carry an envelope.
// Call logs and system messages are plaintext.
func (k MessageKind) IsUserAuthored() bool {
	switch k {
	case KindText, KindImage, KindFile, KindAudio:
		return true
	}
	return false
}

// SystemFields describes a membership change carried by a system message
type SystemFields struct {
	Action     MembershipAction `json:"action"`
	TargetUser uuid.UUID        `json:"target_user"`
	Initiator  uuid.UUID        `json:"initiator"`
}

// CallData is the log entry for a finished or missed call
type CallData struct {
	CallType string `json:"call_type"` // voice, video
	Duration int    `json:"duration"`  // seconds
	Status   string `json:"status"`    // missed, declined, completed, no-answer
}

// Message is a relayed chat message.
// Maps to the Cassandra messages table. The relay stores Envelope as opaque
// text and never decrypts it.
type Message struct {
	MessageID     uuid.UUID      `json:"message_id"`
	ChatID        uuid.UUID      `json:"chat_id"`
	SenderID      uuid.UUID      `json:"sender_id"`
	Kind          MessageKind    `json:"kind"`
	CreatedAt     time.Time      `json:"created_at"`
	Envelope      *e2ee.Envelope `json:"envelope,omitempty"`
	System        *SystemFields  `json:"system,omitempty"`
	Call          *CallData      `json:"call,omitempty"`
	ForwardedFrom *uuid.UUID     `json:"forwarded_from,omitempty"`

	// Recipients is the non-sender participant snapshot taken at send time.
	// Aggregate delivery status is computed over it.
	Recipients []uuid.UUID `json:"-"`
	IsGroup    bool        `json:"-"`

	DeliveredTo   []uuid.UUID `json:"delivered_to"`
	SeenBy        []uuid.UUID `json:"seen_by"`
	DeletedFor    []uuid.UUID `json:"deleted_for"`
	DeletedForAll bool        `json:"deleted_for_all"`

	// MembershipInconsistent marks a message shown only because the
	// membership log could not be interpreted.
	MembershipInconsistent bool `json:"membership_inconsistent,omitempty"`
}

// IsDeletedFor reports whether the message is hidden for userID
func (m *Message) IsDeletedFor(userID uuid.UUID) bool {
	return ContainsID(m.DeletedFor, userID)
}

// IsUnreadFor reports whether the message counts as unread for userID.
// Gap filtering is applied separately.
func (m *Message) IsUnreadFor(userID uuid.UUID) bool {
	return m.SenderID != userID &&
		!m.DeletedForAll &&
		!ContainsID(m.SeenBy, userID) &&
		!ContainsID(m.DeletedFor, userID)
}

// Tombstone returns the copy served for a message deleted for everyone
func (m *Message) Tombstone() *Message {
	t := *m
	t.Envelope = nil
	t.DeletedForAll = true
	return &t
}

// ContainsID reports whether id is in ids
func ContainsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// UnionIDs appends to ids every element of more that is not already present,
// preserving first-seen order.
func UnionIDs(ids []uuid.UUID, more ...uuid.UUID) []uuid.UUID {
	for _, id := range more {
		if !ContainsID(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// HistoryCursor is a position in a chat's history, which is ordered by
// created_at descending and message_id ascending. A page after the cursor
// holds the messages that follow it in that order. A nil MessageID only
// bounds created_at.
type HistoryCursor struct {
	CreatedAt time.Time `json:"created_at"`
	MessageID uuid.UUID `json:"message_id"`
}

// IsZero reports whether the cursor points at the latest message
func (c HistoryCursor) IsZero() bool {
	return c.CreatedAt.IsZero()
}

// Now returns the current time at the precision messages are stored with.
// Cassandra keeps milliseconds, so event and message times taken from it
// compare the same before and after a reload.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
