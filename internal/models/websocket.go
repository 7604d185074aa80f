package models

type EventType string

// Inbound event types.
const (
	EventJoin    EventType = "join"
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
)

// Outbound event types.
const (
	EventWelcome         EventType = "welcome"
	EventUserJoined      EventType = "user_joined"
	EventUserLeft        EventType = "user_left"
	EventMembersList     EventType = "members_list"
	EventMessageReceived EventType = "message_received"
	EventUserTyping      EventType = "user_typing"
	EventMessageHistory  EventType = "message_history"
	EventError           EventType = "error"
)

// InboundEvent is a frame sent by a client.
type InboundEvent struct {
	Type     EventType `json:"type"`
	Username string    `json:"username,omitempty"`
	RoomID   int       `json:"roomId,omitempty"`
	Message  string    `json:"message,omitempty"`
	Token    string    `json:"token,omitempty"`
}

// Event is a frame sent to clients. Only the fields relevant to Type are set.
// Users and Messages use omitzero so an empty room still encodes as [].
type Event struct {
	Type           EventType  `json:"type"`
	ID             int64      `json:"id,omitempty"`
	ConnectionID   string     `json:"connectionId,omitempty"`
	Username       string     `json:"username,omitempty"`
	Message        string     `json:"message,omitempty"`
	RoomID         int        `json:"roomId,omitempty"`
	Timestamp      string     `json:"timestamp,omitempty"`
	Users          []string   `json:"users,omitzero"`
	Messages       []*Message `json:"messages,omitzero"`
	TypingWindowMS int64      `json:"typingWindowMs,omitempty"`
}
