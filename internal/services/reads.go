package services

import (
	"context"
	"strings"
	"time"

	"channel-service/internal/models"
	"channel-service/internal/observability"
	"channel-service/internal/repositories"
)

// ReadReceipts tracks which users have seen which messages.
type ReadReceipts struct {
	messages repositories.MessageRepository
	channels repositories.ChannelRepository
	bus      Broadcaster
	now      func() time.Time
}

// NewReadReceipts builds a ReadReceipts service.
func NewReadReceipts(messages repositories.MessageRepository, channels repositories.ChannelRepository, bus Broadcaster) *ReadReceipts {
	return &ReadReceipts{
		messages: messages,
		channels: channels,
		bus:      orNop(bus),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MarkMessageRead records a receipt. Repeating it changes nothing.
func (s *ReadReceipts) MarkMessageRead(ctx context.Context, messageID, user string) (models.Message, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return models.Message{}, invalid("userId", "user id is required")
	}
	msg, err := s.messages.AddReadReceipt(ctx, messageID, user)
	if err != nil {
		return models.Message{}, err
	}
	observability.IncReadReceipts("message", 1)
	s.bus.Publish(msg.Room, models.EventMessageRead, models.MessageReadPayload{
		ChannelID: msg.Room.String(),
		MessageID: msg.ID,
		UserID:    user,
	})
	return msg, nil
}

// MarkChannelRead adds a receipt to every message of the room the user has not
// read and returns how many were added.
func (s *ReadReceipts) MarkChannelRead(ctx context.Context, room models.RoomID, user string) (int64, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return 0, invalid("userId", "user id is required")
	}
	if room.IsZero() {
		return 0, invalid("channelId", "channel id is required")
	}
	count, err := s.messages.MarkRoomRead(ctx, room, user, s.now())
	if err != nil {
		return 0, err
	}
	observability.IncReadReceipts("channel", count)
	s.bus.Publish(room, models.EventChannelMarkedRead, models.ChannelReadPayload{
		ChannelID: room.String(),
		UserID:    user,
	})
	emitDomainEvent(ctx, "channel_read", map[string]any{"channelId": room.String(), "userId": user, "count": count})
	return count, nil
}

// UnreadCount returns how many messages by others the user has not read in the room.
func (s *ReadReceipts) UnreadCount(ctx context.Context, room models.RoomID, user string) (int, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return 0, invalid("userId", "user id is required")
	}
	return s.messages.CountUnread(ctx, room, user)
}

// UnreadByProject returns unread counts for every live channel of a project.
func (s *ReadReceipts) UnreadByProject(ctx context.Context, projectID, user string) (map[string]int, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, invalid("userId", "user id is required")
	}
	channels, err := s.channels.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}
	return s.messages.CountUnreadByChannel(ctx, ids, user)
}
