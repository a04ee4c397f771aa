package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"channel-service/internal/middleware"
	"channel-service/internal/telemetry"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}

	requestID := c.GetHeader(middleware.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.UserIDKey); id != "" {
		return id
	}
	return c.GetHeader(middleware.UserIDHeader)
}

func audit(c *gin.Context, emitter *telemetry.AuditEmitter, action, resource, text string) {
	emitter.Emit(c.Request.Context(), telemetry.AuditRecord{
		Action:    action,
		Resource:  resource,
		Text:      text,
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
	})
}
