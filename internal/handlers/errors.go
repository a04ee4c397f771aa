package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"channel-service/internal/models"
	"channel-service/internal/repositories"
	"channel-service/internal/services"
)

// respondError maps domain errors onto HTTP statuses. Unknown errors are logged
// and answered with fallback.
func respondError(c *gin.Context, err error, fallback string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrChannelNotFound),
		errors.Is(err, repositories.ErrReactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repositories.ErrChannelNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrProtectedChannel):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "method", c.Request.Method, "route", c.FullPath(),
			"request_id", requestIDFromContext(c), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parseRoomParam(raw string) (models.RoomID, error) {
	if strings.TrimSpace(raw) == "" {
		return models.RoomID{}, models.ErrInvalidRoom
	}
	return models.ParseRoomID(raw)
}
