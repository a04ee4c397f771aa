package models

import (
	"errors"
	"strings"
)

// RoomKind distinguishes channel rooms from legacy conversation rooms.
type RoomKind string

const (
	RoomChannel      RoomKind = "channel"
	RoomConversation RoomKind = "conversation"
)

const conversationPrefix = "conversation:"

var ErrInvalidRoom = errors.New("invalid room id")

// RoomID identifies a message grouping. It is resolved once at the boundary so the
// rest of the service never has to juggle channelId and conversationId separately.
type RoomID struct {
	Kind RoomKind
	ID   string
}

// ChannelRoom returns the room of a channel.
func ChannelRoom(id string) RoomID {
	return RoomID{Kind: RoomChannel, ID: id}
}

// ConversationRoom returns the room of a legacy conversation.
func ConversationRoom(id string) RoomID {
	return RoomID{Kind: RoomConversation, ID: id}
}

// ParseRoomID accepts "<channelId>" or "conversation:<id>".
func ParseRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, conversationPrefix) {
		id := strings.TrimSpace(strings.TrimPrefix(raw, conversationPrefix))
		if id == "" {
			return RoomID{}, ErrInvalidRoom
		}
		return ConversationRoom(id), nil
	}
	if raw == "" {
		return RoomID{}, ErrInvalidRoom
	}
	return ChannelRoom(raw), nil
}

// ResolveRoom picks the room from a pair of optional ids; channelId wins.
func ResolveRoom(channelID, conversationID string) (RoomID, error) {
	if id := strings.TrimSpace(channelID); id != "" {
		return ChannelRoom(id), nil
	}
	if id := strings.TrimSpace(conversationID); id != "" {
		return ConversationRoom(id), nil
	}
	return RoomID{}, ErrInvalidRoom
}

// IsZero reports whether the room is unset.
func (r RoomID) IsZero() bool {
	return r.ID == ""
}

// String renders the wire form understood by ParseRoomID.
func (r RoomID) String() string {
	if r.Kind == RoomConversation {
		return conversationPrefix + r.ID
	}
	return r.ID
}
