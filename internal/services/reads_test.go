package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"channel-service/internal/mocks"
	"channel-service/internal/models"
	"channel-service/internal/repositories"
	"channel-service/internal/storage/memory"
)

func TestSendThenMarkChannelReadClearsUnread(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	bus := new(mocks.BroadcasterMock)
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything)
	messages := NewMessages(store, bus)
	reads := NewReadReceipts(store, store, bus)
	room := models.ChannelRoom("c1")

	for _, content := range []string{"a", "b", "c"} {
		_, err := messages.Create(ctx, models.NewMessage{Room: room, Sender: "u1", Content: content})
		require.NoError(t, err)
	}

	unread, err := reads.UnreadCount(ctx, room, "u2")
	require.NoError(t, err)
	assert.Equal(t, 3, unread)
	own, err := reads.UnreadCount(ctx, room, "u1")
	require.NoError(t, err)
	assert.Zero(t, own, "own messages never count as unread")

	count, err := reads.MarkChannelRead(ctx, room, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	unread, err = reads.UnreadCount(ctx, room, "u2")
	require.NoError(t, err)
	assert.Zero(t, unread)

	bus.AssertCalled(t, "Publish", room, models.EventChannelMarkedRead, models.ChannelReadPayload{ChannelID: "c1", UserID: "u2"})
}

func TestMarkMessageReadIsIdempotentAndMonotonic(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reads := NewReadReceipts(store, store, nil)
	reactions := NewReactions(store, nil)
	messages := NewMessages(store, nil)

	msg, err := messages.Create(ctx, models.NewMessage{Room: models.ChannelRoom("c1"), Sender: "u1", Content: "hi"})
	require.NoError(t, err)

	first, err := reads.MarkMessageRead(ctx, msg.ID, "u2")
	require.NoError(t, err)
	second, err := reads.MarkMessageRead(ctx, msg.ID, "u2")
	require.NoError(t, err)
	require.Len(t, second.ReadBy, 1)
	assert.Equal(t, first.ReadBy[0].ReadAt, second.ReadBy[0].ReadAt)

	_, err = reactions.SetReaction(ctx, msg.ID, "u2", "like")
	require.NoError(t, err)
	_, err = messages.Edit(ctx, msg.ID, "hi again")
	require.NoError(t, err)
	_, err = reads.MarkChannelRead(ctx, models.ChannelRoom("c1"), "u2")
	require.NoError(t, err)

	got, err := messages.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.ReadBySet("u2"))
	assert.Len(t, got.ReadBy, 1)
}

func TestConcurrentMarkChannelReadWritesOneReceiptPerMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reads := NewReadReceipts(store, store, nil)
	room := models.ChannelRoom("c1")
	for i := 0; i < 20; i++ {
		_, err := store.CreateMessage(ctx, models.NewMessage{Room: room, Sender: "u1", Content: "x"})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var total int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := reads.MarkChannelRead(ctx, room, "u2")
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 20, total)
}

func TestMarkMessageReadErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reads := NewReadReceipts(store, store, nil)

	_, err := reads.MarkMessageRead(ctx, "missing", "u1")
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
	_, err = reads.MarkMessageRead(ctx, "missing", "")
	assert.True(t, IsValidation(err))
	_, err = reads.MarkChannelRead(ctx, models.RoomID{}, "u1")
	assert.True(t, IsValidation(err))
}

func TestMarkMessageReadBroadcastsReceipt(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	bus := new(mocks.BroadcasterMock)
	reads := NewReadReceipts(repo, nil, bus)

	msg := models.Message{ID: "m1", Room: models.ChannelRoom("c1")}
	repo.On("AddReadReceipt", mock.Anything, "m1", "u2").Return(msg, nil).Once()
	bus.On("Publish", models.ChannelRoom("c1"), models.EventMessageRead,
		models.MessageReadPayload{ChannelID: "c1", MessageID: "m1", UserID: "u2"}).Once()

	_, err := reads.MarkMessageRead(context.Background(), "m1", "u2")
	require.NoError(t, err)
	repo.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestUnreadByProject(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dir := NewChannelDirectory(store)
	reads := NewReadReceipts(store, store, nil)

	a, err := dir.Create(ctx, "p1", "a", "")
	require.NoError(t, err)
	b, err := dir.Create(ctx, "p1", "b", "")
	require.NoError(t, err)
	_, err = store.CreateMessage(ctx, models.NewMessage{Room: a.Room(), Sender: "u1", Content: "x"})
	require.NoError(t, err)
	_, err = store.CreateMessage(ctx, models.NewMessage{Room: a.Room(), Sender: "u2", Content: "y"})
	require.NoError(t, err)

	counts, err := reads.UnreadByProject(ctx, "p1", "u2")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{a.ID: 1, b.ID: 0}, counts)
}
