package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxGroupParticipants is the hard cap on group membership
const MaxGroupParticipants = 50

// MembershipAction is the kind of a membership change
type MembershipAction string

const (
	ActionAdd    MembershipAction = "add"
	ActionRemove MembershipAction = "remove"
	ActionLeave  MembershipAction = "leave"
)

// MembershipEvent is one entry of a group's append-only membership log.
// Maps to the CockroachDB membership_events table.
type MembershipEvent struct {
	Action     MembershipAction `json:"action" db:"action"`
	TargetUser uuid.UUID        `json:"target_user" db:"target_user"`
	Initiator  uuid.UUID        `json:"initiator" db:"initiator"`
	At         time.Time        `json:"at" db:"at"`
}

// Chat represents a private (exactly two participants) or group conversation.
// Maps to CockroachDB chats, chat_participants, chat_admins.
type Chat struct {
	ChatID           uuid.UUID         `json:"chat_id" db:"chat_id"`
	IsGroup          bool              `json:"is_group" db:"is_group"`
	Name             *string           `json:"name,omitempty" db:"name"`
	Participants     []uuid.UUID       `json:"participants"`
	Admins           []uuid.UUID       `json:"admins,omitempty"`
	MembershipEvents []MembershipEvent `json:"membership_events,omitempty"`
	CreatedBy        uuid.UUID         `json:"created_by" db:"created_by"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// IsParticipant reports whether userID is a current participant
func (c *Chat) IsParticipant(userID uuid.UUID) bool {
	return ContainsID(c.Participants, userID)
}

// IsAdmin reports whether userID administers the group
func (c *Chat) IsAdmin(userID uuid.UUID) bool {
	return ContainsID(c.Admins, userID)
}

// WasMember reports whether userID appears in the membership log as a target,
// i.e. is a former participant that may still read pre-removal history.
func (c *Chat) WasMember(userID uuid.UUID) bool {
	for _, ev := range c.MembershipEvents {
		if ev.TargetUser == userID {
			return true
		}
	}
	return false
}

// OtherParticipants returns the participants except userID
func (c *Chat) OtherParticipants(userID uuid.UUID) []uuid.UUID {
	others := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			others = append(others, p)
		}
	}
	return others
}

// ChatSummary is a chat as listed for one user
type ChatSummary struct {
	Chat          *Chat    `json:"chat"`
	LatestMessage *Message `json:"latest_message,omitempty"`
	UnreadCount   int      `json:"unread_count"`
	// UnreadCountCapped is set when only the most recent messages were
	// scanned, so the chat may hold more unread messages than counted.
	UnreadCountCapped bool `json:"unread_count_capped,omitempty"`
	IsMember          bool `json:"is_member"`
}

// ChatCreate represents data to create a group
type ChatCreate struct {
	Name           string      `json:"name" binding:"required"`
	ParticipantIDs []uuid.UUID `json:"participant_ids" binding:"required,min=2"`
}
