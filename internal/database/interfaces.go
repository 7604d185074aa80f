package database

import (
	"context"
	"errors"

	"roomchat/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("already exists")
)

type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	FindOrCreateUser(ctx context.Context, username string) (*models.User, error)
}

type RoomRepository interface {
	CreateRoom(ctx context.Context, name, description string) (*models.Room, error)
	GetRoomByID(ctx context.Context, id int) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, roomID, userID int, text string) (*models.Message, error)
	// LoadRecentMessages returns the newest limit messages, oldest first.
	LoadRecentMessages(ctx context.Context, roomID, limit int) ([]*models.Message, error)
}

type ConnectionRepository interface {
	// OpenConnection closes any open event for connectionID and opens a new
	// one in a single transaction.
	OpenConnection(ctx context.Context, userID int, connectionID string, roomID int) (*models.ConnectionEvent, error)
	// CloseConnection is a no-op when the connection has no open event.
	CloseConnection(ctx context.Context, connectionID string) error
	CloseStaleConnections(ctx context.Context) (int64, error)
	GetActiveUsersInRoom(ctx context.Context, roomID int) ([]*models.ActiveUser, error)
}

type Database interface {
	UserRepository
	RoomRepository
	MessageRepository
	ConnectionRepository
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func defaultEmail(username string) string {
	return username + "@chat.local"
}
