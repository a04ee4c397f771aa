package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"channel-service/internal/models"
	"channel-service/internal/observability"
)

const wsRoutingKey = "ws_events.channels"

var ErrTooManyConnections = errors.New("too many websocket connections")

// Hub tracks which connections joined which rooms. Membership lives only as long
// as the connection.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[models.RoomID]map[*Client]struct{}
	clients  map[*Client]struct{}
	maxConns int
}

// NewHub creates an empty hub. maxConns <= 0 means unlimited.
func NewHub(maxConns int) *Hub {
	return &Hub{
		rooms:    make(map[models.RoomID]map[*Client]struct{}),
		clients:  make(map[*Client]struct{}),
		maxConns: maxConns,
	}
}

// Register admits a connection.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		return ErrTooManyConnections
	}
	h.clients[c] = struct{}{}
	observability.IncWSActive()
	return nil
}

// Unregister drops the connection from every room it joined.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	observability.DecWSActive()
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
}

// Join adds the connection to a room. It reports false when it was already a member.
func (h *Hub) Join(c *Client, room models.RoomID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	if _, ok := members[c]; ok {
		return false
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	observability.AddRoomMembers(1)
	return true
}

// Leave removes the connection from a room. It reports false when it was not a member.
func (h *Hub) Leave(c *Client, room models.RoomID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room models.RoomID) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	delete(c.rooms, room)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	observability.AddRoomMembers(-1)
	return true
}

// Publish delivers the event to every member of the room.
func (h *Hub) Publish(room models.RoomID, event string, payload any) {
	h.PublishExcept(room, event, payload, nil)
}

// PublishExcept delivers the event to every member of the room except one.
// Enqueueing never blocks: a member whose send buffer is full is disconnected.
// The hub lock is held for the whole fan-out so events of one room reach every
// member in publish order.
func (h *Hub) PublishExcept(room models.RoomID, event string, payload any, except *Client) {
	data, err := json.Marshal(models.OutgoingEvent{Event: event, Data: payload})
	if err != nil {
		slog.Error("ws marshal event failed", "event", event, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		if !c.enqueue(data) {
			h.dropLocked(c, room)
		}
	}
	observability.IncWSEvent("out", event)
}

// SendTo delivers an event to a single connection.
func (h *Hub) SendTo(c *Client, event string, payload any) {
	data, err := json.Marshal(models.OutgoingEvent{Event: event, Data: payload})
	if err != nil {
		slog.Error("ws marshal event failed", "event", event, "err", err)
		return
	}
	if !c.enqueue(data) {
		h.mu.Lock()
		h.dropLocked(c, models.RoomID{})
		h.mu.Unlock()
	}
	observability.IncWSEvent("out", event)
}

func (h *Hub) dropLocked(c *Client, room models.RoomID) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	slog.Warn("ws slow consumer dropped", "conn_id", c.info.ConnID, "user_id", c.info.UserID, "room", room.String())
	observability.IncSlowConsumerDrop()
	h.removeLocked(c)
	c.Close()
	go publishConnEvent(c.info, "slow_consumer", map[string]interface{}{"room_id": room.String()})
}

// CloseAll disconnects every registered connection.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Shutdown(reason)
	}
}

// Members returns how many connections joined the room.
func (h *Hub) Members(room models.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Connections returns how many connections are registered.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomsOf lists the rooms the connection joined.
func (h *Hub) RoomsOf(c *Client) []models.RoomID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.RoomID, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

func publishConnEvent(info ConnInfo, event string, extra map[string]interface{}) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   info.eventPayload(event, extra),
	}, headers)
	observability.IncWSEvent("lifecycle", event)
}
