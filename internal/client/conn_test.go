package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-service/internal/models"
	"channel-service/internal/reconcile"
	"channel-service/internal/services"
	"channel-service/internal/storage/memory"
	"channel-service/internal/ws"
)

var room = models.ChannelRoom("c1")

func newServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.New()
	hub := ws.NewHub(0)
	handler := ws.NewHandler(hub, services.NewMessages(store, hub), services.NewReadReceipts(store, store, hub), nil, ws.DefaultOptions())

	r := gin.New()
	r.GET("/ws", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func dial(t *testing.T, srv *httptest.Server, user string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.URL, user, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// waitFor reads events until one named event arrives.
func waitFor(t *testing.T, c *Conn, event string) models.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-c.Events():
			require.True(t, ok, "connection closed while waiting for %s", event)
			if env.Event == event {
				return env
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for "+event)
		}
	}
}

func joinRoom(t *testing.T, c *Conn) {
	t.Helper()
	require.NoError(t, c.Join(room))
	waitFor(t, c, models.EventRoomJoined)
}

func TestSendPendingIsRetiredByEcho(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv, "u1")
	bob := dial(t, srv, "u2")
	joinRoom(t, alice)
	joinRoom(t, bob)

	tl := reconcile.NewTimeline(room)
	entry, err := alice.SendPending(tl, "hi")
	require.NoError(t, err)
	require.Len(t, tl.Pending(), 1)

	env := waitFor(t, alice, models.EventReceiveMessage)
	require.NoError(t, tl.Apply(env))

	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, reconcile.StateConfirmed, entries[0].State)
	assert.Equal(t, entry.ClientID, entries[0].ClientID)
	assert.NotEmpty(t, entries[0].ID)

	var got models.Message
	require.NoError(t, json.Unmarshal(waitFor(t, bob, models.EventReceiveMessage).Data, &got))
	assert.Equal(t, entries[0].ID, got.ID)
	assert.Equal(t, "u1", got.Sender)
}

func TestSendErrorFailsPlaceholder(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv, "u1")

	tl := reconcile.NewTimeline(room)
	entry, err := alice.SendPending(tl, "   ")
	require.NoError(t, err)

	env := waitFor(t, alice, models.EventMessageError)
	require.NoError(t, tl.Apply(env))
	pending := tl.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, reconcile.StateFailed, pending[0].State)
	assert.Equal(t, entry.TempID, pending[0].TempID)
}

func TestResendReusesClientID(t *testing.T) {
	srv, store := newServer(t)
	alice := dial(t, srv, "u1")
	joinRoom(t, alice)

	tl := reconcile.NewTimeline(room)
	entry, err := alice.SendPending(tl, "hi")
	require.NoError(t, err)
	first := waitFor(t, alice, models.EventReceiveMessage)
	tl.ExpirePending(time.Now().Add(time.Hour), time.Second)

	_, err = alice.Resend(tl, entry.TempID)
	require.NoError(t, err)
	second := waitFor(t, alice, models.EventReceiveMessage)

	require.NoError(t, tl.Apply(first))
	require.NoError(t, tl.Apply(second))
	assert.Len(t, tl.Entries(), 1)
	assert.Empty(t, tl.Pending())

	msgs, err := store.ListMessages(context.Background(), room, 0, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "resubmits are idempotent")
}

func TestMarkChannelReadAndMessagesRead(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv, "u1")
	bob := dial(t, srv, "u2")
	bobPhone := dial(t, srv, "u2")
	joinRoom(t, alice)
	joinRoom(t, bob)
	joinRoom(t, bobPhone)

	unread := reconcile.NewUnreadCounter("u2")
	_, err := alice.Send(models.SendMessagePayload{ChannelID: "c1", Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, unread.Apply(waitFor(t, bob, models.EventReceiveMessage)))
	assert.Equal(t, 1, unread.Count("c1"))

	require.NoError(t, bob.MarkChannelRead(room))
	require.NoError(t, unread.Apply(waitFor(t, bob, models.EventChannelMarkedRead)))
	assert.Equal(t, 0, unread.Count("c1"))
	waitFor(t, alice, models.EventChannelMarkedRead)

	require.NoError(t, bob.MessagesRead(room, 1))
	var p models.MessagesReadPayload
	require.NoError(t, json.Unmarshal(waitFor(t, bobPhone, models.EventMessagesReadUpdate).Data, &p))
	assert.Equal(t, models.MessagesReadPayload{ChannelID: "c1", UserID: "u2", Count: 1}, p)
}

func TestLeaveStopsDelivery(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv, "u1")
	bob := dial(t, srv, "u2")
	joinRoom(t, alice)
	joinRoom(t, bob)

	require.NoError(t, bob.Leave(room))
	waitFor(t, bob, models.EventRoomLeft)

	_, err := alice.Send(models.SendMessagePayload{ChannelID: "c1", Content: "anyone?"})
	require.NoError(t, err)
	waitFor(t, alice, models.EventReceiveMessage)

	select {
	case env := <-bob.Events():
		assert.Failf(t, "unexpected event", "%s", env.Event)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCloseEndsEventsAndRejectsSends(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv, "u1")

	require.NoError(t, alice.Close())
	_, ok := <-alice.Events()
	assert.False(t, ok)
	_, err := alice.Send(models.SendMessagePayload{ChannelID: "c1", Content: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, alice.Close())
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "http://127.0.0.1:1", "u1", Options{})
	assert.Error(t, err)

	_, err = Dial(ctx, "://bad", "u1", Options{})
	assert.Error(t, err)
}
