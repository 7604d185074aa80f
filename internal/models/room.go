package models

import "time"

type Room struct {
	ID          int       `json:"id"`
	Name        string    `json:"room_name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is immutable once stored. Readers always see messages ordered by
// (CreatedAt, ID) ascending.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int       `json:"room_id"`
	UserID    int       `json:"user_id"`
	Username  string    `json:"username"`
	Text      string    `json:"message_text"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionEvent brackets one connection's stay in one room. At most one
// event per connection has a nil DisconnectedAt.
type ConnectionEvent struct {
	ID             int64      `json:"id"`
	UserID         int        `json:"user_id"`
	ConnectionID   string     `json:"socket_id"`
	RoomID         int        `json:"room_id"`
	JoinedAt       time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

type ActiveUser struct {
	ID          int       `json:"id"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connected_at"`
}

type CreateRoomRequest struct {
	Name        string `json:"room_name"`
	Description string `json:"description"`
}
