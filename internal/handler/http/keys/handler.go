package keys

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sealedchat-backend/internal/middleware"
	"sealedchat-backend/internal/service/keys"
	"sealedchat-backend/pkg/response"
)

// Handler handles identity key directory HTTP requests
type Handler struct {
	keysService *keys.Service
}

// NewHandler creates a new keys handler
func NewHandler(keysService *keys.Service) *Handler {
	return &Handler{
		keysService: keysService,
	}
}

// PublishKeyRequest represents an identity key publish request
type PublishKeyRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
}

// PublishKey publishes the caller's identity public key
// POST /v1/keys
func (h *Handler) PublishKey(c *gin.Context) {
	var req PublishKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	key, err := h.keysService.PublishIdentityKey(c.Request.Context(), &keys.PublishKeyInput{
		UserID:    userID,
		PublicKey: req.PublicKey,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, key)
}

// GetPublicKey returns a user's published key
// GET /v1/keys/:user_id
func (h *Handler) GetPublicKey(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	key, err := h.keysService.GetPublicKey(c.Request.Context(), targetID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, key)
}

// GetSafetyNumber returns the safety number between the caller and a peer
// GET /v1/keys/:user_id/safety-number
func (h *Handler) GetSafetyNumber(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	peerID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	sn, err := h.keysService.SafetyNumber(c.Request.Context(), userID, peerID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sn)
}
