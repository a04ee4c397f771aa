package models

import "encoding/json"

// Socket event names. Client→server and server→client share one envelope.
const (
	EventJoinRoom          = "joinRoom"
	EventLeaveRoom         = "leaveRoom"
	EventSendMessage       = "sendMessage"
	EventMarkChannelAsRead = "markChannelAsRead"
	EventMessagesRead      = "messagesRead"

	EventReceiveMessage     = "receiveMessage"
	EventChannelMarkedRead  = "channelMarkedAsRead"
	EventMessagesReadUpdate = "messagesReadUpdate"
	EventMessageError       = "messageError"
	EventMessageUpdated     = "messageUpdated"
	EventMessageDeleted     = "messageDeleted"
	EventReactionUpdated    = "reactionUpdated"
	EventMessageRead        = "messageRead"
	EventRoomJoined         = "roomJoined"
	EventRoomLeft           = "roomLeft"
)

// Envelope is the frame exchanged over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutgoingEvent is what the broker enqueues for a connection.
type OutgoingEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SendMessagePayload is the body of a sendMessage event.
type SendMessagePayload struct {
	ChannelID      string   `json:"channelId"`
	ConversationID string   `json:"conversationId"`
	Sender         string   `json:"sender"`
	Recipients     []string `json:"recipients"`
	Content        string   `json:"content"`
	ContentType    string   `json:"contentType"`
	RepliedTo      *string  `json:"repliedTo"`
	ClientID       string   `json:"clientId"`
}

// ChannelReadPayload is used by markChannelAsRead and channelMarkedAsRead.
type ChannelReadPayload struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

// MessagesReadPayload is used by messagesRead and messagesReadUpdate.
type MessagesReadPayload struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Count     int    `json:"count"`
}

// MessageReadPayload is broadcast when a single message is marked read.
type MessageReadPayload struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MessageDeletedPayload is broadcast after a hard delete.
type MessageDeletedPayload struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

// RoomPayload acknowledges joinRoom/leaveRoom.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Error    string `json:"error"`
	ClientID string `json:"clientId,omitempty"`
}
