package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"channel-service/internal/models"
	"channel-service/internal/observability"
	"channel-service/internal/ratelimit"
	"channel-service/internal/services"
)

const eventTimeout = 5 * time.Second

var tracer = otel.Tracer("channel-service/ws")

// Handler upgrades HTTP requests and dispatches socket events.
type Handler struct {
	hub      *Hub
	messages *services.Messages
	reads    *services.ReadReceipts
	limiter  ratelimit.Limiter
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler. A nil limiter means unlimited.
func NewHandler(hub *Hub, messages *services.Messages, reads *services.ReadReceipts, limiter ratelimit.Limiter, opts Options) *Handler {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Handler{
		hub:      hub,
		messages: messages,
		reads:    reads,
		limiter:  limiter,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle serves GET /ws?userId=.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if h.hub.maxConns > 0 && h.hub.Connections() >= h.hub.maxConns {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrTooManyConnections.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      strings.TrimSpace(c.Query("userId")),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("ws.conn_id", info.ConnID), attribute.String("ws.user_id", info.UserID))

	client := newClient(h.hub, conn, info, h.opts)
	if err := h.hub.Register(client); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		_ = conn.Close()
		return
	}
	slog.Info("ws connected", "conn_id", info.ConnID, "user_id", info.UserID, "ip", info.IP)
	publishConnEvent(info, "ws_connected", nil)

	// the socket outlives the HTTP request context
	client.Start(context.WithoutCancel(ctx), h.dispatch)
	go func() {
		client.Wait()
		slog.Info("ws disconnected", "conn_id", info.ConnID, "user_id", info.UserID)
		publishConnEvent(info, "ws_disconnected", nil)
	}()
}

func (h *Handler) dispatch(parent context.Context, c *Client, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: "malformed event"})
		return
	}
	observability.IncWSEvent("in", env.Event)

	ctx, cancel := context.WithTimeout(parent, eventTimeout)
	defer cancel()
	ctx = observability.ContextWithRequestID(ctx, c.info.RequestID)
	ctx, span := tracer.Start(ctx, "ws."+env.Event)
	defer span.End()
	span.SetAttributes(attribute.String("ws.conn_id", c.info.ConnID))

	switch env.Event {
	case models.EventJoinRoom:
		h.handleJoin(c, env.Data)
	case models.EventLeaveRoom:
		h.handleLeave(c, env.Data)
	case models.EventSendMessage:
		h.handleSend(ctx, c, env.Data)
	case models.EventMarkChannelAsRead:
		h.handleMarkChannelRead(ctx, c, env.Data)
	case models.EventMessagesRead:
		h.handleMessagesRead(c, env.Data)
	default:
		span.SetStatus(codes.Error, "unknown event")
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: "unknown event: " + env.Event})
	}
}

// decodeRoom accepts "roomId" as a bare string or {"roomId": "..."}.
func decodeRoom(data json.RawMessage) (models.RoomID, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var obj models.RoomPayload
		if err := json.Unmarshal(data, &obj); err != nil {
			return models.RoomID{}, models.ErrInvalidRoom
		}
		raw = obj.RoomID
	}
	return models.ParseRoomID(raw)
}

func (h *Handler) handleJoin(c *Client, data json.RawMessage) {
	room, err := decodeRoom(data)
	if err != nil {
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: err.Error()})
		return
	}
	h.hub.Join(c, room)
	h.hub.SendTo(c, models.EventRoomJoined, models.RoomPayload{RoomID: room.String()})
}

func (h *Handler) handleLeave(c *Client, data json.RawMessage) {
	room, err := decodeRoom(data)
	if err != nil {
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: err.Error()})
		return
	}
	h.hub.Leave(c, room)
	h.hub.SendTo(c, models.EventRoomLeft, models.RoomPayload{RoomID: room.String()})
}

func (h *Handler) handleSend(ctx context.Context, c *Client, data json.RawMessage) {
	var p models.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: "malformed sendMessage payload"})
		return
	}
	room, err := models.ResolveRoom(p.ChannelID, p.ConversationID)
	if err != nil {
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: "channelId or conversationId is required", ClientID: p.ClientID})
		return
	}

	key := c.info.UserID
	if key == "" {
		key = strings.TrimSpace(p.Sender)
	}
	if ok, err := h.limiter.Allow(ctx, key); err != nil {
		slog.Error("ws rate limiter failed", "conn_id", c.info.ConnID, "err", err)
	} else if !ok {
		observability.IncRateLimited()
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: "rate limit exceeded", ClientID: p.ClientID})
		return
	}

	// Create publishes receiveMessage to the room, sender included.
	_, err = h.messages.Create(ctx, models.NewMessage{
		Room:        room,
		Sender:      p.Sender,
		Recipients:  p.Recipients,
		Content:     p.Content,
		ContentType: p.ContentType,
		RepliedTo:   p.RepliedTo,
		ClientID:    p.ClientID,
	})
	if err != nil {
		h.sendError(c, err, "failed to send message", p.ClientID)
	}
}

func (h *Handler) handleMarkChannelRead(ctx context.Context, c *Client, data json.RawMessage) {
	var p models.ChannelReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: "malformed markChannelAsRead payload"})
		return
	}
	room, err := models.ParseRoomID(p.ChannelID)
	if err != nil {
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: "channelId is required"})
		return
	}
	if _, err := h.reads.MarkChannelRead(ctx, room, p.UserID); err != nil {
		h.sendError(c, err, "failed to mark channel as read", "")
	}
}

// handleMessagesRead relays a client's local read count to the other members.
func (h *Handler) handleMessagesRead(c *Client, data json.RawMessage) {
	var p models.MessagesReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: "malformed messagesRead payload"})
		return
	}
	room, err := models.ParseRoomID(p.ChannelID)
	if err != nil {
		h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: "channelId is required"})
		return
	}
	h.hub.PublishExcept(room, models.EventMessagesReadUpdate, p, c)
}

// sendError reports a failure to the originating connection only.
func (h *Handler) sendError(c *Client, err error, fallback, clientID string) {
	msg := fallback
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		msg = verr.Error()
	} else {
		slog.Error("ws event failed", "conn_id", c.info.ConnID, "user_id", c.info.UserID, "err", err)
	}
	h.hub.SendTo(c, models.EventMessageError, models.ErrorPayload{Error: msg, ClientID: clientID})
}

func logConnError(info ConnInfo, op string, err error) {
	slog.Warn("ws connection error", "op", op, "conn_id", info.ConnID, "user_id", info.UserID, "err", err)
	publishConnEvent(info, "ws_error", map[string]interface{}{"reason": err.Error(), "op": op})
}
