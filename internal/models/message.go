package models

import (
	"encoding/json"
	"time"
)

const DefaultContentType = "text"

// Reaction is a single-slot per-user label on a message.
type Reaction struct {
	User      string    `db:"user_id" json:"user"`
	Type      string    `db:"type" json:"type"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ReadReceipt records that a user has seen a message. Receipts are never removed.
type ReadReceipt struct {
	User   string    `db:"user_id" json:"user"`
	ReadAt time.Time `db:"read_at" json:"readAt"`
}

// Message represents a channel or conversation message.
type Message struct {
	ID          string        `json:"id"`
	Room        RoomID        `json:"-"`
	Sender      string        `json:"sender"`
	Recipients  []string      `json:"recipients"`
	Content     string        `json:"content"`
	ContentType string        `json:"contentType"`
	RepliedTo   *string       `json:"repliedTo,omitempty"`
	ClientID    string        `json:"clientId,omitempty"`
	Reactions   []Reaction    `json:"reactions"`
	ReadBy      []ReadReceipt `json:"readBy"`
	IsEdited    bool          `json:"isEdited"`
	EditedAt    *time.Time    `json:"editedAt,omitempty"`
	IsDeleted   bool          `json:"isDeleted"`
	DeletedAt   *time.Time    `json:"deletedAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// NewMessage carries the fields accepted when creating a message.
type NewMessage struct {
	Room        RoomID
	Sender      string
	Recipients  []string
	Content     string
	ContentType string
	RepliedTo   *string
	ClientID    string
}

// ReadBySet reports whether user has a receipt on the message.
func (m Message) ReadBySet(user string) bool {
	for _, r := range m.ReadBy {
		if r.User == user {
			return true
		}
	}
	return false
}

// ReactionOf returns the reaction of user, if any.
func (m Message) ReactionOf(user string) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.User == user {
			return r, true
		}
	}
	return Reaction{}, false
}

// UnreadFor reports whether the message counts towards user's unread badge.
func (m Message) UnreadFor(user string) bool {
	return m.Sender != user && !m.ReadBySet(user)
}

// MarshalJSON exposes the room as channelId or conversationId.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	out := struct {
		plain
		ChannelID      string `json:"channelId,omitempty"`
		ConversationID string `json:"conversationId,omitempty"`
	}{plain: plain(m)}
	if m.Room.Kind == RoomConversation {
		out.ConversationID = m.Room.ID
	} else {
		out.ChannelID = m.Room.ID
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the room from channelId or conversationId.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var in struct {
		plain
		ChannelID      string `json:"channelId"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Message(in.plain)
	if room, err := ResolveRoom(in.ChannelID, in.ConversationID); err == nil {
		m.Room = room
	}
	return nil
}
