package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-service/internal/models"
	"channel-service/internal/repositories"
)

func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestChannelNamesAreUniqueCaseInsensitivelyPerProject(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateChannel(ctx, "p1", "design", "")
	require.NoError(t, err)

	_, err = s.CreateChannel(ctx, "p1", "Design", "")
	require.ErrorIs(t, err, repositories.ErrChannelNameTaken)

	_, err = s.CreateChannel(ctx, "p2", "Design", "")
	require.NoError(t, err)
}

func TestSoftDeletedChannelFreesName(t *testing.T) {
	ctx := context.Background()
	s := New()

	ch, err := s.CreateChannel(ctx, "p1", "random", "")
	require.NoError(t, err)
	_, err = s.SoftDeleteChannel(ctx, ch.ID)
	require.NoError(t, err)

	_, err = s.GetChannel(ctx, ch.ID)
	require.ErrorIs(t, err, repositories.ErrChannelNotFound)

	list, err := s.ListByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.CreateChannel(ctx, "p1", "RANDOM", "")
	require.NoError(t, err)
}

func TestUpdateChannelKeepsOwnName(t *testing.T) {
	ctx := context.Background()
	s := New()
	ch, err := s.CreateChannel(ctx, "p1", "ops", "")
	require.NoError(t, err)
	_, err = s.CreateChannel(ctx, "p1", "dev", "")
	require.NoError(t, err)

	updated, err := s.UpdateChannel(ctx, ch.ID, "OPS", "on call")
	require.NoError(t, err)
	assert.Equal(t, "OPS", updated.Name)

	_, err = s.UpdateChannel(ctx, ch.ID, "Dev", "")
	require.ErrorIs(t, err, repositories.ErrChannelNameTaken)
}

func TestListMessagesPagination(t *testing.T) {
	ctx := context.Background()
	s := New().WithClock(tickingClock())
	room := models.ChannelRoom("c1")

	var created []models.Message
	for i := 0; i < 5; i++ {
		msg, err := s.CreateMessage(ctx, models.NewMessage{Room: room, Sender: "u1", Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		created = append(created, msg)
	}

	page, err := s.ListMessages(ctx, room, 2, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].Content)
	assert.Equal(t, "m4", page[1].Content)

	older, err := s.ListMessages(ctx, room, 10, &repositories.Cursor{CreatedAt: page[0].CreatedAt})
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, created[0].ID, older[0].ID)
}

func TestCreateMessageIsIdempotentPerClientID(t *testing.T) {
	ctx := context.Background()
	s := New()
	room := models.ChannelRoom("c1")

	first, err := s.CreateMessage(ctx, models.NewMessage{Room: room, Sender: "u1", Content: "hi", ClientID: "tmp-1"})
	require.NoError(t, err)
	again, err := s.CreateMessage(ctx, models.NewMessage{Room: room, Sender: "u1", Content: "hi", ClientID: "tmp-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := s.CreateMessage(ctx, models.NewMessage{Room: room, Sender: "u2", Content: "hi", ClientID: "tmp-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	list, err := s.ListMessages(ctx, room, 0, nil)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestConcurrentUpsertReactionKeepsOnePerUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	msg, err := s.CreateMessage(ctx, models.NewMessage{Room: models.ChannelRoom("c1"), Sender: "u1", Content: "vote"})
	require.NoError(t, err)

	types := []string{"like", "love", "laugh", "wow"}
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpsertReaction(ctx, msg.ID, "u2", types[i%len(types)])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "u2", got.Reactions[0].User)
}

func TestDeleteReactionNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	msg, err := s.CreateMessage(ctx, models.NewMessage{Room: models.ChannelRoom("c1"), Sender: "u1", Content: "x"})
	require.NoError(t, err)

	_, err = s.DeleteReaction(ctx, msg.ID, "u2")
	require.ErrorIs(t, err, repositories.ErrReactionNotFound)

	_, err = s.DeleteReaction(ctx, "missing", "u2")
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
}

func TestMarkRoomReadIsMonotonicAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	room := models.ChannelRoom("c1")
	for _, sender := range []string{"u1", "u1", "u2"} {
		_, err := s.CreateMessage(ctx, models.NewMessage{Room: room, Sender: sender, Content: "x"})
		require.NoError(t, err)
	}

	unread, err := s.CountUnread(ctx, room, "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	n, err := s.MarkRoomRead(ctx, room, "u2", time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = s.MarkRoomRead(ctx, room, "u2", time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	unread, err = s.CountUnread(ctx, room, "u2")
	require.NoError(t, err)
	assert.Zero(t, unread)

	list, err := s.ListMessages(ctx, room, 0, nil)
	require.NoError(t, err)
	for _, msg := range list {
		assert.Len(t, msg.ReadBy, 1)
	}
}

func TestDeleteByRoomAndCounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 3; i++ {
		_, err := s.CreateMessage(ctx, models.NewMessage{Room: models.ChannelRoom("c1"), Sender: "u1", Content: "x", ClientID: fmt.Sprint(i)})
		require.NoError(t, err)
	}
	_, err := s.CreateMessage(ctx, models.NewMessage{Room: models.ChannelRoom("c2"), Sender: "u1", Content: "y"})
	require.NoError(t, err)

	counts, err := s.CountUnreadByChannel(ctx, []string{"c1", "c2", "c3"}, "u9")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 3, "c2": 1, "c3": 0}, counts)

	n, err := s.DeleteByRoom(ctx, models.ChannelRoom("c1"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// clientId is reusable once its message is gone
	msg, err := s.CreateMessage(ctx, models.NewMessage{Room: models.ChannelRoom("c1"), Sender: "u1", Content: "z", ClientID: "0"})
	require.NoError(t, err)
	assert.Equal(t, "z", msg.Content)
}

func TestReturnedMessagesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	msg, err := s.CreateMessage(ctx, models.NewMessage{Room: models.ChannelRoom("c1"), Sender: "u1", Content: "x"})
	require.NoError(t, err)
	msg, err = s.UpsertReaction(ctx, msg.ID, "u2", "like")
	require.NoError(t, err)

	msg.Reactions[0].Type = "tampered"

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "like", got.Reactions[0].Type)
}

func TestDeleteChannelTakesItsMessages(t *testing.T) {
	ctx := context.Background()
	s := New()
	ch, err := s.CreateChannel(ctx, "p1", "random", "")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.CreateMessage(ctx, models.NewMessage{Room: ch.Room(), Sender: "u1", Content: "x"})
		require.NoError(t, err)
	}
	kept, err := s.CreateMessage(ctx, models.NewMessage{Room: models.ConversationRoom(ch.ID), Sender: "u1", Content: "dm"})
	require.NoError(t, err)

	deleted, n, err := s.DeleteChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, deleted.ID)
	assert.EqualValues(t, 2, n)

	left, err := s.ListMessages(ctx, ch.Room(), 0, nil)
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = s.GetMessage(ctx, kept.ID)
	require.NoError(t, err, "a conversation with the same id is a different room")

	_, _, err = s.DeleteChannel(ctx, ch.ID)
	assert.ErrorIs(t, err, repositories.ErrChannelNotFound)
}

func TestListMessagesPagesThroughSharedTimestamps(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New().WithClock(func() time.Time { return at })
	room := models.ChannelRoom("c1")

	want := map[string]bool{}
	for i := 0; i < 5; i++ {
		msg, err := s.CreateMessage(ctx, models.NewMessage{Room: room, Sender: "u1", Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		want[msg.ID] = true
	}

	seen := map[string]bool{}
	var before *repositories.Cursor
	for {
		page, err := s.ListMessages(ctx, room, 2, before)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			assert.False(t, seen[msg.ID], "message %s returned twice", msg.ID)
			seen[msg.ID] = true
		}
		before = &repositories.Cursor{CreatedAt: page[0].CreatedAt, ID: page[0].ID}
	}
	assert.Equal(t, want, seen)
}
