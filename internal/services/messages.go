package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"channel-service/internal/models"
	"channel-service/internal/observability"
	"channel-service/internal/repositories"
)

const MaxContentLength = 1000

// Messages persists messages and announces every change to the room.
type Messages struct {
	repo repositories.MessageRepository
	bus  Broadcaster
}

// NewMessages builds a Messages service.
func NewMessages(repo repositories.MessageRepository, bus Broadcaster) *Messages {
	return &Messages{repo: repo, bus: orNop(bus)}
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return invalid("content", "message content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return invalid("content", fmt.Sprintf("message content must be at most %d characters", MaxContentLength))
	}
	return nil
}

// Validate checks a message before it reaches the store.
func Validate(in models.NewMessage) error {
	if strings.TrimSpace(in.Sender) == "" {
		return invalid("sender", "sender is required")
	}
	if in.Room.IsZero() {
		return invalid("channelId", "channelId or conversationId is required")
	}
	return validateContent(in.Content)
}

// Create stores the message and publishes receiveMessage to its room. Nothing is
// published when the store rejects the write.
func (s *Messages) Create(ctx context.Context, in models.NewMessage) (models.Message, error) {
	if err := Validate(in); err != nil {
		return models.Message{}, err
	}
	in.Sender = strings.TrimSpace(in.Sender)
	if strings.TrimSpace(in.ContentType) == "" {
		in.ContentType = models.DefaultContentType
	}
	if in.RepliedTo != nil && strings.TrimSpace(*in.RepliedTo) == "" {
		in.RepliedTo = nil
	}

	start := time.Now()
	msg, err := s.repo.CreateMessage(ctx, in)
	observability.ObserveStoreLatency("create_message", start)
	if err != nil {
		observability.IncMessageOp("create", "error")
		return models.Message{}, err
	}
	observability.IncMessageOp("create", "ok")

	s.bus.Publish(msg.Room, models.EventReceiveMessage, msg)
	emitDomainEvent(ctx, "message_created", msg)
	return msg, nil
}

// Get returns a message by id.
func (s *Messages) Get(ctx context.Context, messageID string) (models.Message, error) {
	return s.repo.GetMessage(ctx, messageID)
}

// History returns a page of the room's messages, newest last.
func (s *Messages) History(ctx context.Context, room models.RoomID, limit int, before *repositories.Cursor) ([]models.Message, error) {
	if room.IsZero() {
		return nil, invalid("channelId", "channel id is required")
	}
	return s.repo.ListMessages(ctx, room, limit, before)
}

// Edit replaces the content of a message.
func (s *Messages) Edit(ctx context.Context, messageID, content string) (models.Message, error) {
	if err := validateContent(content); err != nil {
		return models.Message{}, err
	}
	msg, err := s.repo.UpdateContent(ctx, messageID, content)
	if err != nil {
		return models.Message{}, err
	}
	observability.IncMessageOp("edit", "ok")
	s.bus.Publish(msg.Room, models.EventMessageUpdated, msg)
	emitDomainEvent(ctx, "message_updated", msg)
	return msg, nil
}

// Delete hard-deletes a message and returns what was removed.
func (s *Messages) Delete(ctx context.Context, messageID string) (models.Message, error) {
	msg, err := s.repo.DeleteMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	observability.IncMessageOp("delete", "ok")
	s.bus.Publish(msg.Room, models.EventMessageDeleted, models.MessageDeletedPayload{
		ChannelID: msg.Room.String(),
		MessageID: msg.ID,
	})
	emitDomainEvent(ctx, "message_deleted", msg)
	return msg, nil
}
