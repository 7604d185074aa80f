package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"roomchat/internal/cache"
	"roomchat/internal/database"
	"roomchat/internal/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrInvalidRoom  = errors.New("invalid room")
)

const (
	defaultRoomDescription = "Chat room"
	maxRoomNameLength      = 100
)

// RoomStore is the slice of the database the room service reads.
type RoomStore interface {
	database.RoomRepository
	GetActiveUsersInRoom(ctx context.Context, roomID int) ([]*models.ActiveUser, error)
}

type RoomService struct {
	db    RoomStore
	rooms *cache.RoomCache
}

func NewRoomService(db RoomStore, rooms *cache.RoomCache) *RoomService {
	return &RoomService{db: db, rooms: rooms}
}

func (s *RoomService) CreateRoom(ctx context.Context, req *models.CreateRoomRequest) (*models.Room, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: room name is required", ErrInvalidRoom)
	}
	if utf8.RuneCountInString(name) > maxRoomNameLength {
		return nil, fmt.Errorf("%w: room name must be at most %d characters", ErrInvalidRoom, maxRoomNameLength)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultRoomDescription
	}

	room, err := s.db.CreateRoom(ctx, name, description)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrRoomExists
		}
		return nil, err
	}
	s.rooms.Put(ctx, room)
	return room, nil
}

func (s *RoomService) ListRooms(ctx context.Context) ([]*models.Room, error) {
	return s.db.ListRooms(ctx)
}

func (s *RoomService) GetRoom(ctx context.Context, roomID int) (*models.Room, error) {
	room, err := s.rooms.Get(ctx, roomID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

func (s *RoomService) RoomExists(ctx context.Context, roomID int) (bool, error) {
	return s.rooms.RoomExists(ctx, roomID)
}

// ActiveUsers lists users with an open durable connection in the room.
func (s *RoomService) ActiveUsers(ctx context.Context, roomID int) ([]*models.ActiveUser, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.db.GetActiveUsersInRoom(ctx, roomID)
}
