package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"channel-service/internal/models"
)

// Options bounds a connection.
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{
		SendBuffer:     64,
		MaxMessageSize: 8 << 10,
		PingInterval:   25 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
	}
}

// Client is one socket connection.
// Lifecycle: newClient -> Start -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	info ConnInfo
	opts Options

	// rooms is guarded by hub.mu.
	rooms map[models.RoomID]struct{}

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newClient(hub *Hub, conn *websocket.Conn, info ConnInfo, opts Options) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, opts.SendBuffer),
		info:  info,
		opts:  opts,
		rooms: make(map[models.RoomID]struct{}),
		done:  make(chan struct{}),
	}
}

// Info returns the connection metadata.
func (c *Client) Info() ConnInfo {
	return c.info
}

// Start launches the pumps. handle is called from the read goroutine for every frame.
func (c *Client) Start(ctx context.Context, handle func(context.Context, *Client, []byte)) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c.done
		cancel()
	}()
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx, handle)
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close stops the connection. Safe to call more than once from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Shutdown sends a going-away close frame before closing.
func (c *Client) Shutdown(reason string) {
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
	}
	c.Close()
}

// enqueue never blocks; false means the buffer is full or the client is closed.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) readPump(ctx context.Context, handle func(context.Context, *Client, []byte)) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logConnError(c.info, "read", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		handle(ctx, c, raw)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logConnError(c.info, "write", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
