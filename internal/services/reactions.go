package services

import (
	"context"
	"strings"

	"channel-service/internal/models"
	"channel-service/internal/observability"
	"channel-service/internal/repositories"
)

// Reactions keeps at most one reaction per user per message.
type Reactions struct {
	repo repositories.MessageRepository
	bus  Broadcaster
}

// NewReactions builds a Reactions service.
func NewReactions(repo repositories.MessageRepository, bus Broadcaster) *Reactions {
	return &Reactions{repo: repo, bus: orNop(bus)}
}

// SetReaction adds or replaces the user's reaction in a single store operation.
func (s *Reactions) SetReaction(ctx context.Context, messageID, user, reactionType string) (models.Message, error) {
	user = strings.TrimSpace(user)
	reactionType = strings.TrimSpace(reactionType)
	if user == "" {
		return models.Message{}, invalid("user", "user is required")
	}
	if reactionType == "" {
		return models.Message{}, invalid("type", "reaction type is required")
	}
	msg, err := s.repo.UpsertReaction(ctx, messageID, user, reactionType)
	if err != nil {
		return models.Message{}, err
	}
	observability.IncReactionOp("set")
	s.bus.Publish(msg.Room, models.EventReactionUpdated, msg)
	emitDomainEvent(ctx, "reaction_set", map[string]string{"messageId": msg.ID, "user": user, "type": reactionType})
	return msg, nil
}

// ClearReaction removes the user's reaction.
func (s *Reactions) ClearReaction(ctx context.Context, messageID, user string) (models.Message, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return models.Message{}, invalid("userId", "user id is required")
	}
	msg, err := s.repo.DeleteReaction(ctx, messageID, user)
	if err != nil {
		return models.Message{}, err
	}
	observability.IncReactionOp("clear")
	s.bus.Publish(msg.Room, models.EventReactionUpdated, msg)
	emitDomainEvent(ctx, "reaction_cleared", map[string]string{"messageId": msg.ID, "user": user})
	return msg, nil
}
