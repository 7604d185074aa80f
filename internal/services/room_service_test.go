package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"roomchat/internal/cache"
	"roomchat/internal/database"
	"roomchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoomService(t *testing.T) (*RoomService, *database.SQLiteDB) {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewSQLiteDB(ctx, filepath.Join(t.TempDir(), "rooms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	rooms := cache.NewRoomCache(cache.NewMemoryBackend(), db, time.Minute)
	return NewRoomService(db, rooms), db
}

func TestCreateRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestRoomService(t)

	room, err := svc.CreateRoom(ctx, &models.CreateRoomRequest{Name: "  random  "})
	require.NoError(t, err)
	assert.Equal(t, "random", room.Name)
	assert.Equal(t, "Chat room", room.Description)

	ok, err := svc.RoomExists(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.CreateRoom(ctx, &models.CreateRoomRequest{Name: "random"})
	assert.ErrorIs(t, err, ErrRoomExists)

	_, err = svc.CreateRoom(ctx, &models.CreateRoomRequest{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidRoom)

	rooms, err := svc.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "General", rooms[0].Name)
}

func TestGetRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestRoomService(t)

	room, err := svc.GetRoom(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "General", room.Name)

	_, err = svc.GetRoom(ctx, 404)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	ok, err := svc.RoomExists(ctx, 404)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActiveUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, db := newTestRoomService(t)

	alice, err := db.FindOrCreateUser(ctx, "alice")
	require.NoError(t, err)
	_, err = db.OpenConnection(ctx, alice.ID, "conn-a", 1)
	require.NoError(t, err)

	users, err := svc.ActiveUsers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)

	_, err = svc.ActiveUsers(ctx, 404)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
