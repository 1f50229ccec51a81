package chat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/internal/middleware"
	"sealedchat-backend/internal/service/chat"
	"sealedchat-backend/pkg/e2ee"
	"sealedchat-backend/pkg/response"
)

// Handler handles chat HTTP requests
type Handler struct {
	chatService *chat.Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService *chat.Service) *Handler {
	return &Handler{
		chatService: chatService,
	}
}

// SendMessageRequest represents send message request. MessageID is the
// client-generated id that makes retries idempotent.
type SendMessageRequest struct {
	MessageID uuid.UUID      `json:"message_id"`
	ChatID    uuid.UUID      `json:"chat_id" binding:"required"`
	Kind      string         `json:"kind" binding:"required,oneof=text image file audio"`
	Envelope  *e2ee.Envelope `json:"envelope" binding:"required"`
}

// ForwardRequest represents a forward request carrying the re-encrypted copy
type ForwardRequest struct {
	MessageID uuid.UUID      `json:"message_id"`
	ChatID    uuid.UUID      `json:"chat_id" binding:"required"`
	Envelope  *e2ee.Envelope `json:"envelope" binding:"required"`
}

// MarkSeenRequest represents a bulk seen acknowledgement
type MarkSeenRequest struct {
	MessageIDs []uuid.UUID `json:"message_ids" binding:"required,min=1"`
}

// RecordCallRequest represents a call log entry
type RecordCallRequest struct {
	CallType string `json:"call_type" binding:"required,oneof=voice video"`
	Duration int    `json:"duration" binding:"min=0"`
	Status   string `json:"status" binding:"required"`
}

// SendMessage handles sending a new message
// POST /v1/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	senderID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	output, err := h.chatService.SendMessage(c.Request.Context(), &chat.SendMessageInput{
		MessageID: req.MessageID,
		ChatID:    req.ChatID,
		SenderID:  senderID,
		Kind:      domain.MessageKind(req.Kind),
		Envelope:  req.Envelope,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	status := http.StatusCreated
	if output.Duplicate {
		status = http.StatusOK
	}
	response.Success(c, status, output.Message)
}

// GetMessages returns a page of chat history, newest first
// GET /v1/messages/:chat_id?before=RFC3339&before_id=uuid&limit=50
func (h *Handler) GetMessages(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	input := &chat.GetHistoryInput{ChatID: chatID, UserID: userID}
	if before := c.Query("before"); before != "" {
		input.Before.CreatedAt, err = time.Parse(time.RFC3339Nano, before)
		if err != nil {
			response.ValidationError(c, "Invalid before cursor")
			return
		}
	}
	if beforeID := c.Query("before_id"); beforeID != "" {
		input.Before.MessageID, err = uuid.Parse(beforeID)
		if err != nil || input.Before.CreatedAt.IsZero() {
			response.ValidationError(c, "Invalid before_id cursor")
			return
		}
	}
	if limit := c.Query("limit"); limit != "" {
		input.Limit, err = strconv.Atoi(limit)
		if err != nil || input.Limit < 0 {
			response.ValidationError(c, "Invalid limit")
			return
		}
	}

	output, err := h.chatService.GetHistory(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, output)
}

// MarkDelivered acknowledges delivery of a message
// POST /v1/messages/:message_id/delivered
func (h *Handler) MarkDelivered(c *gin.Context) {
	userID, messageID, ok := messageParams(c)
	if !ok {
		return
	}

	update, err := h.chatService.MarkDelivered(c.Request.Context(), messageID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"update": update})
}

// MarkSeen acknowledges that messages were viewed
// POST /v1/messages/seen
func (h *Handler) MarkSeen(c *gin.Context) {
	var req MarkSeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	updates, err := h.chatService.MarkSeen(c.Request.Context(), req.MessageIDs, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updates": updates})
}

// DeleteMessage deletes a message for the caller, or for everyone
// DELETE /v1/messages/:message_id?for_all=true
func (h *Handler) DeleteMessage(c *gin.Context) {
	userID, messageID, ok := messageParams(c)
	if !ok {
		return
	}

	forAll, _ := strconv.ParseBool(c.Query("for_all"))

	var err error
	if forAll {
		err = h.chatService.DeleteForAll(c.Request.Context(), messageID, userID)
	} else {
		err = h.chatService.DeleteForMe(c.Request.Context(), messageID, userID)
	}
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Message deleted", "for_all": forAll})
}

// ForwardMessage forwards a message into another chat
// POST /v1/messages/:message_id/forward
func (h *Handler) ForwardMessage(c *gin.Context) {
	userID, sourceID, ok := messageParams(c)
	if !ok {
		return
	}

	var req ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.chatService.Forward(c.Request.Context(), &chat.ForwardInput{
		SourceMessageID: sourceID,
		MessageID:       req.MessageID,
		TargetChatID:    req.ChatID,
		UserID:          userID,
		Envelope:        req.Envelope,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, output.Message)
}

// RecordCall stores a call log entry in a chat
// POST /v1/chats/:chat_id/calls
func (h *Handler) RecordCall(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	var req RecordCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.RecordCall(c.Request.Context(), &chat.RecordCallInput{
		ChatID:   chatID,
		CallerID: userID,
		CallType: req.CallType,
		Duration: req.Duration,
		Status:   req.Status,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

func messageParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}

	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return uuid.Nil, uuid.Nil, false
	}

	return userID, messageID, true
}
