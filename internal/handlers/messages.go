package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"channel-service/internal/models"
	"channel-service/internal/services"
	"channel-service/internal/telemetry"
)

// MessageHandler serves message, reaction and read-receipt endpoints.
type MessageHandler struct {
	messages  *services.Messages
	reactions *services.Reactions
	reads     *services.ReadReceipts
	audit     *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler. audit may be nil.
func NewMessageHandler(messages *services.Messages, reactions *services.Reactions, reads *services.ReadReceipts, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{messages: messages, reactions: reactions, reads: reads, audit: audit}
}

// Register mounts the routes on r.
func (h *MessageHandler) Register(r gin.IRouter) {
	r.POST("/messages", h.CreateMessage)
	r.GET("/messages/:id", h.GetMessage)
	r.PUT("/messages/:id", h.UpdateMessage)
	r.DELETE("/messages/:id", h.DeleteMessage)
	r.POST("/messages/:id/read", h.MarkRead)
	r.POST("/messages/:id/reactions", h.SetReaction)
	r.DELETE("/messages/:id/reactions/:userId", h.ClearReaction)
}

// CreateMessage handles POST /messages.
func (h *MessageHandler) CreateMessage(c *gin.Context) {
	var req struct {
		ChannelID      string   `json:"channelId"`
		ConversationID string   `json:"conversationId"`
		Sender         string   `json:"sender"`
		Recipients     []string `json:"recipients"`
		Content        string   `json:"content"`
		ContentType    string   `json:"contentType"`
		RepliedTo      *string  `json:"repliedTo"`
		ClientID       string   `json:"clientId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := models.ResolveRoom(req.ChannelID, req.ConversationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channelId or conversationId is required"})
		return
	}

	msg, err := h.messages.Create(c.Request.Context(), models.NewMessage{
		Room:        room,
		Sender:      req.Sender,
		Recipients:  req.Recipients,
		Content:     req.Content,
		ContentType: req.ContentType,
		RepliedTo:   req.RepliedTo,
		ClientID:    req.ClientID,
	})
	if err != nil {
		respondError(c, err, "failed to store message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetMessage handles GET /messages/:id.
func (h *MessageHandler) GetMessage(c *gin.Context) {
	msg, err := h.messages.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to load message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// UpdateMessage handles PUT /messages/:id.
func (h *MessageHandler) UpdateMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err, "failed to update message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /messages/:id.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	msg, err := h.messages.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to delete message")
		return
	}
	audit(c, h.audit, "message.delete", msg.ID, fmt.Sprintf("message by %s deleted from %s", msg.Sender, msg.Room.String()))
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted", "deletedItem": msg})
}

// MarkRead handles POST /messages/:id/read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.reads.MarkMessageRead(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		respondError(c, err, "failed to mark message as read")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// SetReaction handles POST /messages/:id/reactions.
func (h *MessageHandler) SetReaction(c *gin.Context) {
	var req struct {
		User string `json:"user" binding:"required"`
		Type string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.reactions.SetReaction(c.Request.Context(), c.Param("id"), req.User, req.Type)
	if err != nil {
		respondError(c, err, "failed to set reaction")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// ClearReaction handles DELETE /messages/:id/reactions/:userId.
func (h *MessageHandler) ClearReaction(c *gin.Context) {
	msg, err := h.reactions.ClearReaction(c.Request.Context(), c.Param("id"), c.Param("userId"))
	if err != nil {
		respondError(c, err, "failed to remove reaction")
		return
	}
	c.JSON(http.StatusOK, msg)
}
