// Package client is a socket client for the channel service.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"channel-service/internal/models"
	"channel-service/internal/reconcile"
)

var ErrClosed = errors.New("connection closed")

// Options tunes a connection. Zero values fall back to the defaults.
type Options struct {
	Dialer      *websocket.Dialer
	SendBuffer  int
	EventBuffer int
	WriteWait   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// Conn is one socket connection. Each Conn is created by Dial and owned by the
// caller; nothing is shared between connections.
type Conn struct {
	ws     *websocket.Conn
	user   string
	opts   Options
	send   chan models.Envelope
	events chan models.Envelope
	done   chan struct{}

	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Dial connects to serverURL (http, https, ws or wss) as userID.
func Dial(ctx context.Context, serverURL, userID string, opts Options) (*Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	if userID != "" {
		q := u.Query()
		q.Set("userId", userID)
		u.RawQuery = q.Encode()
	}

	opts = opts.withDefaults()
	ws, _, err := opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	c := &Conn{
		ws:     ws,
		user:   userID,
		opts:   opts,
		send:   make(chan models.Envelope, opts.SendBuffer),
		events: make(chan models.Envelope, opts.EventBuffer),
		done:   make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
	return c, nil
}

// User returns the user the connection was opened for.
func (c *Conn) User() string {
	return c.user
}

// Events delivers every server event in arrival order. The channel is closed
// when the connection ends.
func (c *Conn) Events() <-chan models.Envelope {
	return c.events
}

// Err returns the error that ended the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Join subscribes the connection to room.
func (c *Conn) Join(room models.RoomID) error {
	return c.emit(models.EventJoinRoom, models.RoomPayload{RoomID: room.String()})
}

// Leave unsubscribes the connection from room.
func (c *Conn) Leave(room models.RoomID) error {
	return c.emit(models.EventLeaveRoom, models.RoomPayload{RoomID: room.String()})
}

// Send emits sendMessage. An empty sender defaults to the connection's user and
// an empty clientId gets a fresh one. The payload that was sent is returned.
func (c *Conn) Send(p models.SendMessagePayload) (models.SendMessagePayload, error) {
	if p.Sender == "" {
		p.Sender = c.user
	}
	if p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}
	return p, c.emit(models.EventSendMessage, p)
}

// SendPending adds a placeholder to tl and sends the message it stands for.
// When the send cannot be queued the placeholder is flagged failed.
func (c *Conn) SendPending(tl *reconcile.Timeline, content string) (reconcile.Entry, error) {
	room := tl.Room()
	entry := tl.AddPending(models.Message{
		Room:     room,
		Sender:   c.user,
		Content:  content,
		ClientID: uuid.NewString(),
	})
	if err := c.resend(room, entry); err != nil {
		tl.Fail(entry.ClientID, err.Error())
		return entry, err
	}
	return entry, nil
}

// Resend re-arms a failed placeholder and sends it again with its clientId.
func (c *Conn) Resend(tl *reconcile.Timeline, tempID string) (reconcile.Entry, error) {
	entry, err := tl.Retry(tempID)
	if err != nil {
		return reconcile.Entry{}, err
	}
	if err := c.resend(tl.Room(), entry); err != nil {
		tl.Fail(entry.ClientID, err.Error())
		return entry, err
	}
	return entry, nil
}

func (c *Conn) resend(room models.RoomID, entry reconcile.Entry) error {
	p := models.SendMessagePayload{
		Sender:      entry.Sender,
		Content:     entry.Content,
		ContentType: entry.ContentType,
		RepliedTo:   entry.RepliedTo,
		Recipients:  entry.Recipients,
		ClientID:    entry.ClientID,
	}
	if room.Kind == models.RoomConversation {
		p.ConversationID = room.ID
	} else {
		p.ChannelID = room.ID
	}
	_, err := c.Send(p)
	return err
}

// MarkChannelRead asks the server to mark every message of room read.
func (c *Conn) MarkChannelRead(room models.RoomID) error {
	return c.emit(models.EventMarkChannelAsRead, models.ChannelReadPayload{ChannelID: room.String(), UserID: c.user})
}

// MessagesRead tells the other members how many messages the user just read.
func (c *Conn) MessagesRead(room models.RoomID, count int) error {
	return c.emit(models.EventMessagesRead, models.MessagesReadPayload{ChannelID: room.String(), UserID: c.user, Count: count})
}

// Close shuts the connection down and waits for its goroutines.
func (c *Conn) Close() error {
	c.shutdown(nil)
	c.wg.Wait()
	return nil
}

func (c *Conn) emit(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	env := models.Envelope{Event: event, Data: raw}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conn) shutdown(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump() {
	defer c.wg.Done()
	defer close(c.events)
	for {
		var env models.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("socket read failed", "user_id", c.user, "err", err)
				}
				c.shutdown(err)
			}
			return
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	defer c.wg.Done()
	for {
		select {
		case env := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				c.shutdown(err)
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				slog.Warn("socket write failed", "user_id", c.user, "event", env.Event, "err", err)
				c.shutdown(err)
				return
			}
		case <-c.done:
			return
		}
	}
}
