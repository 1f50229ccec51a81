package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/internal/middleware"
	"sealedchat-backend/pkg/logger"
	"sealedchat-backend/pkg/metrics"
	"sealedchat-backend/pkg/response"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
	maxFrameSize  = 64 * 1024
	sendQueueSize = 256
	opTimeout     = 5 * time.Second
	maxSeenPerAck = 100
)

// EventBus carries events between relay instances
type EventBus interface {
	Publish(ctx context.Context, event *domain.Event) error
	Subscribe(ctx context.Context, handle func(*domain.Event)) error
}

// PresenceRegistry tracks which users have live connections anywhere
type PresenceRegistry interface {
	Connect(ctx context.Context, userID uuid.UUID, connID string) (bool, error)
	Disconnect(ctx context.Context, userID uuid.UUID, connID string) (bool, error)
	Refresh(ctx context.Context, userID uuid.UUID) error
}

// TypingRegistry holds short-lived typing indicators
type TypingRegistry interface {
	StartTyping(ctx context.Context, chatID, userID uuid.UUID) error
	StopTyping(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
}

// ChatDirectory resolves chat participants
type ChatDirectory interface {
	GetByID(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Chat, error)
}

// AckHandler applies delivery acknowledgements
type AckHandler interface {
	MarkDelivered(ctx context.Context, messageID, userID uuid.UUID) (*domain.StatusUpdate, error)
	MarkSeen(ctx context.Context, messageIDs []uuid.UUID, userID uuid.UUID) ([]domain.StatusUpdate, error)
}

// Client frame types
const (
	FrameDelivered  = "delivered"
	FrameSeen       = "seen"
	FrameTyping     = "typing"
	FrameStopTyping = "stop_typing"
)

// ClientFrame is a frame sent by a client over the websocket
type ClientFrame struct {
	Type       string      `json:"type"`
	MessageID  uuid.UUID   `json:"message_id,omitempty"`
	MessageIDs []uuid.UUID `json:"message_ids,omitempty"`
	ChatID     uuid.UUID   `json:"chat_id,omitempty"`
}

// ServerFrame is a frame pushed to clients
type ServerFrame struct {
	Type      domain.EventType `json:"type"`
	ChatID    uuid.UUID        `json:"chat_id"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// userEvent is the payload of typing and presence events
type userEvent struct {
	UserID uuid.UUID `json:"user_id"`
	ChatID uuid.UUID `json:"chat_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens, not cookies, authenticate the upgrade
	},
}

// ChatHub relays events to websocket clients. Every instance subscribes to
// the shared event bus and delivers each event to the local connections of
// its recipients.
type ChatHub struct {
	registry *ConnectionRegistry
	bus      EventBus
	presence PresenceRegistry
	typing   TypingRegistry
	chats    ChatDirectory
	acks     AckHandler

	register   chan *Client
	unregister chan *Client
	// done is closed when Run returns
	done chan struct{}
}

// Client represents a WebSocket client
type Client struct {
	hub    *ChatHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	connID string
}

// NewChatHub creates a new chat hub
func NewChatHub(bus EventBus, presence PresenceRegistry, typing TypingRegistry, chats ChatDirectory, acks AckHandler) *ChatHub {
	return &ChatHub{
		registry:   NewConnectionRegistry(),
		bus:        bus,
		presence:   presence,
		typing:     typing,
		chats:      chats,
		acks:       acks,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Registry exposes the hub's connection registry
func (h *ChatHub) Registry() *ConnectionRegistry {
	return h.registry
}

// Run processes registrations and bus events until ctx is done. On return
// every local connection is closed so clients reconnect to another instance.
func (h *ChatHub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.registry.CloseAll()
	}()

	go func() {
		if err := h.bus.Subscribe(ctx, h.Dispatch); err != nil {
			logger.Error("Relay event subscription ended", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			if h.registry.Add(client) {
				logger.Debug("User connected", zap.String("user_id", client.userID.String()))
			}
			h.connected(ctx, client)
		case client := <-h.unregister:
			// a slow consumer may already have been evicted by Send
			h.registry.Remove(client)
			h.disconnected(ctx, client)
		}
	}
}

// Dispatch delivers an event to local connections of its recipients
func (h *ChatHub) Dispatch(event *domain.Event) {
	frame, err := json.Marshal(ServerFrame{
		Type:      event.Type,
		ChatID:    event.ChatID,
		Payload:   event.Payload,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		logger.Warn("Failed to encode frame", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	for _, userID := range event.Recipients {
		if n := h.registry.Send(userID, frame); n > 0 {
			metrics.ChatWebSocketMessagesTotal.WithLabelValues("out").Add(float64(n))
		}
	}
}

// ServeWS upgrades an authenticated request to a websocket connection
// GET /v1/ws
func (h *ChatHub) ServeWS(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		userID: userID,
		connID: uuid.New().String(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseServiceRestart, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *ChatHub) connected(ctx context.Context, c *Client) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	online, err := h.presence.Connect(opCtx, c.userID, c.connID)
	if err != nil {
		logger.Warn("Failed to record presence", zap.String("user_id", c.userID.String()), zap.Error(err))
		return
	}
	if online {
		h.broadcastPresence(opCtx, c.userID, domain.EventUserOnline)
	}
}

func (h *ChatHub) disconnected(ctx context.Context, c *Client) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()

	offline, err := h.presence.Disconnect(opCtx, c.userID, c.connID)
	if err != nil {
		logger.Warn("Failed to clear presence", zap.String("user_id", c.userID.String()), zap.Error(err))
		return
	}
	if offline {
		h.broadcastPresence(opCtx, c.userID, domain.EventUserOffline)
	}
}

// broadcastPresence tells everyone sharing a chat with userID
func (h *ChatHub) broadcastPresence(ctx context.Context, userID uuid.UUID, eventType domain.EventType) {
	chats, err := h.chats.ListForUser(ctx, userID)
	if err != nil {
		logger.Warn("Failed to resolve presence audience", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	var peers []uuid.UUID
	for _, chat := range chats {
		if chat.IsParticipant(userID) {
			peers = domain.UnionIDs(peers, chat.OtherParticipants(userID)...)
		}
	}
	if len(peers) == 0 {
		return
	}

	h.publish(ctx, eventType, uuid.Nil, peers, userEvent{UserID: userID})
}

// HandleFrame applies one client frame on behalf of userID
func (h *ChatHub) HandleFrame(ctx context.Context, userID uuid.UUID, frame *ClientFrame) {
	metrics.ChatWebSocketMessagesTotal.WithLabelValues("in").Inc()

	switch frame.Type {
	case FrameDelivered:
		if frame.MessageID == uuid.Nil {
			metrics.ChatClientMessageDroppedTotal.WithLabelValues("invalid").Inc()
			return
		}
		if _, err := h.acks.MarkDelivered(ctx, frame.MessageID, userID); err != nil {
			logger.Debug("Delivered ack failed", zap.String("message_id", frame.MessageID.String()), zap.Error(err))
		}

	case FrameSeen:
		if len(frame.MessageIDs) == 0 || len(frame.MessageIDs) > maxSeenPerAck {
			metrics.ChatClientMessageDroppedTotal.WithLabelValues("invalid").Inc()
			return
		}
		if _, err := h.acks.MarkSeen(ctx, frame.MessageIDs, userID); err != nil {
			logger.Debug("Seen ack failed", zap.Int("batch", len(frame.MessageIDs)), zap.Error(err))
		}

	case FrameTyping, FrameStopTyping:
		h.handleTyping(ctx, userID, frame)

	default:
		metrics.ChatClientMessageDroppedTotal.WithLabelValues("unknown_type").Inc()
	}
}

func (h *ChatHub) handleTyping(ctx context.Context, userID uuid.UUID, frame *ClientFrame) {
	chat, err := h.chats.GetByID(ctx, frame.ChatID)
	if err != nil || !chat.IsParticipant(userID) {
		metrics.ChatClientMessageDroppedTotal.WithLabelValues("not_participant").Inc()
		return
	}

	eventType := domain.EventUserTyping
	if frame.Type == FrameStopTyping {
		eventType = domain.EventUserStopTyping
		if _, err := h.typing.StopTyping(ctx, chat.ChatID, userID); err != nil {
			logger.Debug("Failed to clear typing", zap.Error(err))
		}
	} else if err := h.typing.StartTyping(ctx, chat.ChatID, userID); err != nil {
		logger.Debug("Failed to set typing", zap.Error(err))
	}

	h.publish(ctx, eventType, chat.ChatID, chat.OtherParticipants(userID), userEvent{UserID: userID, ChatID: chat.ChatID})
}

func (h *ChatHub) publish(ctx context.Context, eventType domain.EventType, chatID uuid.UUID, recipients []uuid.UUID, payload interface{}) {
	event, err := domain.NewEvent(eventType, chatID, recipients, payload)
	if err == nil {
		err = h.bus.Publish(ctx, event)
	}
	if err != nil {
		logger.Warn("Failed to publish relay event", zap.String("type", string(eventType)), zap.Error(err))
	}
}

// readPump reads frames from the websocket
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.hub.disconnected(context.Background(), c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := c.hub.presence.Refresh(ctx, c.userID); err != nil {
			logger.Debug("Failed to refresh presence", zap.Error(err))
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket closed unexpectedly", zap.String("user_id", c.userID.String()), zap.Error(err))
			}
			break
		}

		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			metrics.ChatClientMessageDroppedTotal.WithLabelValues("malformed").Inc()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		c.hub.HandleFrame(ctx, c.userID, &frame)
		cancel()
	}
}

// writePump writes queued frames and keepalive pings to the websocket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
