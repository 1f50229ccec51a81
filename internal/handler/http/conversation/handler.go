package conversation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sealedchat-backend/internal/middleware"
	"sealedchat-backend/internal/service/conversation"
	"sealedchat-backend/pkg/response"
)

// Handler handles conversation HTTP requests
type Handler struct {
	conversationService *conversation.Service
}

// NewHandler creates a new conversation handler
func NewHandler(conversationService *conversation.Service) *Handler {
	return &Handler{
		conversationService: conversationService,
	}
}

// CreatePrivateRequest represents a private chat request
type CreatePrivateRequest struct {
	ParticipantID uuid.UUID `json:"participant_id" binding:"required"`
}

// CreateGroupRequest represents a group creation request
type CreateGroupRequest struct {
	Name           string      `json:"name" binding:"required"`
	ParticipantIDs []uuid.UUID `json:"participant_ids" binding:"required,min=2"`
}

// AddParticipantRequest represents an add participant request
type AddParticipantRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// CreatePrivate creates or returns the private chat with a user
// POST /v1/chats
func (h *Handler) CreatePrivate(c *gin.Context) {
	var req CreatePrivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	chat, err := h.conversationService.CreatePrivate(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, chat)
}

// CreateGroup creates a group chat
// POST /v1/chats/group
func (h *Handler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	chat, err := h.conversationService.CreateGroup(c.Request.Context(), &conversation.CreateGroupInput{
		CreatorID:      userID,
		Name:           req.Name,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, chat)
}

// ListChats lists the caller's chats with unread counts
// GET /v1/chats
func (h *Handler) ListChats(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	summaries, err := h.conversationService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"chats": summaries})
}

// GetChat returns one chat
// GET /v1/chats/:chat_id
func (h *Handler) GetChat(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	chat, err := h.conversationService.Get(c.Request.Context(), chatID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, chat)
}

// AddParticipant adds a user to a group
// POST /v1/chats/:chat_id/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	chat, err := h.conversationService.AddParticipant(c.Request.Context(), chatID, userID, req.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, chat)
}

// RemoveParticipant removes a user from a group
// DELETE /v1/chats/:chat_id/participants/:user_id
func (h *Handler) RemoveParticipant(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	targetID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	chat, err := h.conversationService.RemoveParticipant(c.Request.Context(), chatID, userID, targetID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, chat)
}

// Leave removes the caller from a group
// DELETE /v1/chats/:chat_id/leave
func (h *Handler) Leave(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	if _, err := h.conversationService.Leave(c.Request.Context(), chatID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Left chat"})
}

// DeleteChat deletes a chat
// DELETE /v1/chats/:chat_id
func (h *Handler) DeleteChat(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	if err := h.conversationService.Delete(c.Request.Context(), chatID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Chat deleted"})
}

// chatParams resolves the caller and the :chat_id parameter, writing the
// error response itself when either is missing.
func (h *Handler) chatParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}

	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return uuid.Nil, uuid.Nil, false
	}

	return userID, chatID, true
}
