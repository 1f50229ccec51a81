package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a relay event delivered over the websocket
type EventType string

const (
	EventReceiveMessage EventType = "receive_message"
	EventStatusUpdate   EventType = "message_status_update"
	EventMessageDeleted EventType = "message_deleted"
	EventGroupUpdated   EventType = "group_updated"
	EventGroupRemoval   EventType = "group_removal_notification"
	EventChatDeleted    EventType = "chat_deleted"
	EventNewChat        EventType = "new_chat"
	EventUserTyping     EventType = "user_typing"
	EventUserStopTyping EventType = "user_stop_typing"
	EventUserOnline     EventType = "user_online"
	EventUserOffline    EventType = "user_offline"
)

// Event is fanned out by the relay to the connections of Recipients only.
// Routing never depends on Payload contents.
type Event struct {
	Type       EventType       `json:"type"`
	ChatID     uuid.UUID       `json:"chat_id"`
	Recipients []uuid.UUID     `json:"recipients"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewEvent builds an event with a JSON payload
func NewEvent(eventType EventType, chatID uuid.UUID, recipients []uuid.UUID, payload interface{}) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		raw = b
	}
	return &Event{
		Type:       eventType,
		ChatID:     chatID,
		Recipients: recipients,
		Payload:    raw,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// StatusUpdate is the payload of EventStatusUpdate
type StatusUpdate struct {
	MessageID   uuid.UUID   `json:"message_id"`
	ChatID      uuid.UUID   `json:"chat_id"`
	Status      string      `json:"status"`
	DeliveredTo []uuid.UUID `json:"delivered_to"`
	SeenBy      []uuid.UUID `json:"seen_by"`
}
