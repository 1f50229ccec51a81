package delivery

import (
	"github.com/google/uuid"

	"sealedchat-backend/internal/domain"
)

// Status is a delivery state. Ordered: Sent < Delivered < Seen.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusSeen
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusSeen:
		return "seen"
	default:
		return "sent"
	}
}

// State is the delivery bookkeeping of one message
type State struct {
	MessageID uuid.UUID
	ChatID    uuid.UUID
	SenderID  uuid.UUID
	IsGroup   bool

	// Recipients are the non-sender participants at send time
	Recipients  []uuid.UUID
	DeliveredTo []uuid.UUID
	SeenBy      []uuid.UUID
}

// StateFromMessage extracts the delivery state of m
func StateFromMessage(m *domain.Message) *State {
	return &State{
		MessageID:   m.MessageID,
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		IsGroup:     m.IsGroup,
		Recipients:  m.Recipients,
		DeliveredTo: m.DeliveredTo,
		SeenBy:      m.SeenBy,
	}
}

// IsRecipient reports whether userID may acknowledge the message
func (s *State) IsRecipient(userID uuid.UUID) bool {
	return userID != s.SenderID && domain.ContainsID(s.Recipients, userID)
}

// StatusOf returns the individual state of one recipient.
// A recorded Seen counts even if the Delivered ack was lost.
func (s *State) StatusOf(userID uuid.UUID) Status {
	switch {
	case domain.ContainsID(s.SeenBy, userID):
		return StatusSeen
	case domain.ContainsID(s.DeliveredTo, userID):
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Aggregate returns the status shown to the sender.
//
// For a private chat this is the state of the single other participant. For a
// group it is Seen only when every recipient has seen the message, else
// Delivered only when every recipient has at least received it, else Sent.
// Both rules reduce to the minimum over the recipient snapshot.
func Aggregate(s *State) Status {
	if len(s.Recipients) == 0 {
		return StatusSent
	}
	if !s.IsGroup {
		return s.StatusOf(s.Recipients[0])
	}

	agg := StatusSeen
	for _, r := range s.Recipients {
		if st := s.StatusOf(r); st < agg {
			agg = st
		}
	}
	return agg
}

// apply merges one acknowledgement into the state in memory and reports
// whether anything was added. The merge is a set union, so replays are no-ops.
func (s *State) apply(userID uuid.UUID, status Status) bool {
	changed := false
	if status >= StatusDelivered && !domain.ContainsID(s.DeliveredTo, userID) {
		s.DeliveredTo = append(s.DeliveredTo, userID)
		changed = true
	}
	if status == StatusSeen && !domain.ContainsID(s.SeenBy, userID) {
		s.SeenBy = append(s.SeenBy, userID)
		changed = true
	}
	return changed
}

func (s *State) update(status Status) domain.StatusUpdate {
	return domain.StatusUpdate{
		MessageID:   s.MessageID,
		ChatID:      s.ChatID,
		Status:      status.String(),
		DeliveredTo: s.DeliveredTo,
		SeenBy:      s.SeenBy,
	}
}
