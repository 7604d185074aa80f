package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"roomchat/internal/database"
	"roomchat/internal/models"
	"roomchat/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// RoomSource is the authoritative room store.
type RoomSource interface {
	GetRoomByID(ctx context.Context, id int) (*models.Room, error)
}

// RoomCache answers room lookups from the backend, falling back to the
// source on a miss or a backend error. Concurrent misses for one room share a
// single source query.
type RoomCache struct {
	backend Backend
	source  RoomSource
	ttl     time.Duration
	group   singleflight.Group
}

func NewRoomCache(backend Backend, source RoomSource, ttl time.Duration) *RoomCache {
	return &RoomCache{backend: backend, source: source, ttl: ttl}
}

func roomKey(id int) string {
	return "room:" + strconv.Itoa(id)
}

// Get returns the room or database.ErrNotFound.
func (c *RoomCache) Get(ctx context.Context, id int) (*models.Room, error) {
	key := roomKey(id)

	data, found, err := c.backend.Get(ctx, key)
	if err != nil {
		logger.Warn("room cache read failed", "room_id", id, "error", err)
	}
	if found {
		var room models.Room
		if err := json.Unmarshal(data, &room); err == nil {
			return &room, nil
		}
		logger.Warn("discarding corrupt room cache entry", "room_id", id)
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		return c.source.GetRoomByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	room, ok := val.(*models.Room)
	if !ok || room == nil {
		return nil, database.ErrNotFound
	}
	c.Put(ctx, room)
	return room, nil
}

// RoomExists reports whether the room is stored. Only storage failures are
// returned as errors.
func (c *RoomCache) RoomExists(ctx context.Context, id int) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	_, err := c.Get(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put stores room in the backend. Failures are logged only.
func (c *RoomCache) Put(ctx context.Context, room *models.Room) {
	data, err := json.Marshal(room)
	if err != nil {
		return
	}
	if err := c.backend.Set(ctx, roomKey(room.ID), data, c.ttl); err != nil {
		logger.Warn("room cache write failed", "room_id", room.ID, "error", err)
	}
}

func (c *RoomCache) Invalidate(ctx context.Context, id int) {
	if err := c.backend.Delete(ctx, roomKey(id)); err != nil {
		logger.Warn("room cache invalidate failed", "room_id", id, "error", err)
	}
}
