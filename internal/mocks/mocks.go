package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"channel-service/internal/models"
	"channel-service/internal/repositories"
)

type ChannelRepositoryMock struct {
	mock.Mock
}

func channelResult(args mock.Arguments) (models.Channel, error) {
	var ch models.Channel
	if val := args.Get(0); val != nil {
		ch = val.(models.Channel)
	}
	return ch, args.Error(1)
}

func (m *ChannelRepositoryMock) CreateChannel(ctx context.Context, projectID, name, description string) (models.Channel, error) {
	return channelResult(m.Called(ctx, projectID, name, description))
}

func (m *ChannelRepositoryMock) GetChannel(ctx context.Context, channelID string) (models.Channel, error) {
	return channelResult(m.Called(ctx, channelID))
}

func (m *ChannelRepositoryMock) ListByProject(ctx context.Context, projectID string) ([]models.Channel, error) {
	args := m.Called(ctx, projectID)
	var list []models.Channel
	if val := args.Get(0); val != nil {
		list = val.([]models.Channel)
	}
	return list, args.Error(1)
}

func (m *ChannelRepositoryMock) UpdateChannel(ctx context.Context, channelID, name, description string) (models.Channel, error) {
	return channelResult(m.Called(ctx, channelID, name, description))
}

func (m *ChannelRepositoryMock) SoftDeleteChannel(ctx context.Context, channelID string) (models.Channel, error) {
	return channelResult(m.Called(ctx, channelID))
}

func (m *ChannelRepositoryMock) DeleteChannel(ctx context.Context, channelID string) (models.Channel, int64, error) {
	args := m.Called(ctx, channelID)
	var ch models.Channel
	if val := args.Get(0); val != nil {
		ch = val.(models.Channel)
	}
	return ch, args.Get(1).(int64), args.Error(2)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func messageResult(args mock.Arguments) (models.Message, error) {
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	return messageResult(m.Called(ctx, in))
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	return messageResult(m.Called(ctx, messageID))
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, room models.RoomID, limit int, before *repositories.Cursor) ([]models.Message, error) {
	args := m.Called(ctx, room, limit, before)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateContent(ctx context.Context, messageID, content string) (models.Message, error) {
	return messageResult(m.Called(ctx, messageID, content))
}

func (m *MessageRepositoryMock) DeleteMessage(ctx context.Context, messageID string) (models.Message, error) {
	return messageResult(m.Called(ctx, messageID))
}

func (m *MessageRepositoryMock) DeleteByRoom(ctx context.Context, room models.RoomID) (int64, error) {
	args := m.Called(ctx, room)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) UpsertReaction(ctx context.Context, messageID, userID, reactionType string) (models.Message, error) {
	return messageResult(m.Called(ctx, messageID, userID, reactionType))
}

func (m *MessageRepositoryMock) DeleteReaction(ctx context.Context, messageID, userID string) (models.Message, error) {
	return messageResult(m.Called(ctx, messageID, userID))
}

func (m *MessageRepositoryMock) AddReadReceipt(ctx context.Context, messageID, userID string) (models.Message, error) {
	return messageResult(m.Called(ctx, messageID, userID))
}

func (m *MessageRepositoryMock) MarkRoomRead(ctx context.Context, room models.RoomID, userID string, readAt time.Time) (int64, error) {
	args := m.Called(ctx, room, userID, readAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, room models.RoomID, userID string) (int, error) {
	args := m.Called(ctx, room, userID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) CountUnreadByChannel(ctx context.Context, channelIDs []string, userID string) (map[string]int, error) {
	args := m.Called(ctx, channelIDs, userID)
	var counts map[string]int
	if val := args.Get(0); val != nil {
		counts = val.(map[string]int)
	}
	return counts, args.Error(1)
}

var (
	_ repositories.ChannelRepository = (*ChannelRepositoryMock)(nil)
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
)

// BroadcasterMock records room publishes.
type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) Publish(room models.RoomID, event string, payload any) {
	m.Called(room, event, payload)
}
