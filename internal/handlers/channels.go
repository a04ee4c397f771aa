package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"channel-service/internal/repositories"
	"channel-service/internal/services"
	"channel-service/internal/telemetry"
)

// ChannelHandler serves the channel endpoints.
type ChannelHandler struct {
	directory *services.ChannelDirectory
	messages  *services.Messages
	reads     *services.ReadReceipts
	audit     *telemetry.AuditEmitter
}

// NewChannelHandler builds a ChannelHandler. audit may be nil.
func NewChannelHandler(directory *services.ChannelDirectory, messages *services.Messages, reads *services.ReadReceipts, audit *telemetry.AuditEmitter) *ChannelHandler {
	return &ChannelHandler{directory: directory, messages: messages, reads: reads, audit: audit}
}

// Register mounts the routes on r.
func (h *ChannelHandler) Register(r gin.IRouter) {
	r.POST("/channels/:id", h.CreateChannel)
	r.GET("/channels/:id", h.ListChannels)
	r.PUT("/channels/:id", h.UpdateChannel)
	r.DELETE("/channels/:id", h.DeleteChannel)
	r.POST("/channels/:id/archive", h.ArchiveChannel)
	r.GET("/channels/:id/messages", h.ListMessages)
	r.POST("/channels/:id/read", h.MarkChannelRead)
	r.GET("/channels/:id/unread", h.ChannelUnread)
	r.GET("/projects/:projectId/unread", h.ProjectUnread)
}

// CreateChannel handles POST /channels/:projectId.
func (h *ChannelHandler) CreateChannel(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ch, err := h.directory.Create(c.Request.Context(), c.Param("id"), req.Name, req.Description)
	if err != nil {
		respondError(c, err, "failed to create channel")
		return
	}
	c.JSON(http.StatusCreated, ch)
}

// ListChannels handles GET /channels/:projectId.
func (h *ChannelHandler) ListChannels(c *gin.Context) {
	channels, err := h.directory.ListByProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to load channels")
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// UpdateChannel handles PUT /channels/:channelId.
func (h *ChannelHandler) UpdateChannel(c *gin.Context) {
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == nil && req.Description == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name or description is required"})
		return
	}

	ch, err := h.directory.Update(c.Request.Context(), c.Param("id"), req.Name, req.Description)
	if err != nil {
		respondError(c, err, "failed to update channel")
		return
	}
	c.JSON(http.StatusOK, ch)
}

// DeleteChannel handles DELETE /channels/:channelId.
func (h *ChannelHandler) DeleteChannel(c *gin.Context) {
	out, err := h.directory.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to delete channel")
		return
	}
	audit(c, h.audit, "channel.delete", out.Channel.ID,
		fmt.Sprintf("channel %q deleted with %d messages", out.Channel.Name, out.DeletedMessages))
	c.JSON(http.StatusOK, gin.H{
		"message":         "Channel deleted",
		"channel":         out.Channel,
		"deletedMessages": out.DeletedMessages,
	})
}

// ArchiveChannel handles POST /channels/:channelId/archive.
func (h *ChannelHandler) ArchiveChannel(c *gin.Context) {
	ch, err := h.directory.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to archive channel")
		return
	}
	audit(c, h.audit, "channel.archive", ch.ID, fmt.Sprintf("channel %q archived", ch.Name))
	c.JSON(http.StatusOK, ch)
}

// ListMessages handles GET /channels/:channelId/messages?limit=&before=&beforeId=.
// before is the createdAt of the oldest message already shown and beforeId its id.
func (h *ChannelHandler) ListMessages(c *gin.Context) {
	room, err := parseRoomParam(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}
	var before *repositories.Cursor
	if raw := c.Query("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		before = &repositories.Cursor{CreatedAt: ts, ID: c.Query("beforeId")}
	}

	msgs, err := h.messages.History(c.Request.Context(), room, limit, before)
	if err != nil {
		respondError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkChannelRead handles POST /channels/:channelId/read.
func (h *ChannelHandler) MarkChannelRead(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := parseRoomParam(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	count, err := h.reads.MarkChannelRead(c.Request.Context(), room, req.UserID)
	if err != nil {
		respondError(c, err, "failed to mark channel as read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// ChannelUnread handles GET /channels/:channelId/unread?userId=.
func (h *ChannelHandler) ChannelUnread(c *gin.Context) {
	room, err := parseRoomParam(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	userID := c.Query("userId")

	unread, err := h.reads.UnreadCount(c.Request.Context(), room, userID)
	if err != nil {
		respondError(c, err, "failed to count unread messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"channelId": room.String(), "userId": userID, "unread": unread})
}

// ProjectUnread handles GET /projects/:projectId/unread?userId=.
func (h *ChannelHandler) ProjectUnread(c *gin.Context) {
	counts, err := h.reads.UnreadByProject(c.Request.Context(), c.Param("projectId"), c.Query("userId"))
	if err != nil {
		respondError(c, err, "failed to count unread messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": counts})
}

