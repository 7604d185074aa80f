package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"roomchat/internal/database"
	"roomchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls atomic.Int32
	delay time.Duration
	rooms map[int]*models.Room
	err   error
}

func (s *fakeSource) GetRoomByID(_ context.Context, id int) (*models.Room, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	room, ok := s.rooms[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return room, nil
}

type brokenBackend struct{}

func (brokenBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenBackend) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func newSource() *fakeSource {
	return &fakeSource{rooms: map[int]*models.Room{
		1: {ID: 1, Name: "General", Description: "General chat room"},
	}}
}

func TestRoomCacheHit(t *testing.T) {
	ctx := context.Background()
	src := newSource()
	c := NewRoomCache(NewMemoryBackend(), src, time.Minute)

	room, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "General", room.Name)

	room, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "General", room.Name)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestRoomCacheExists(t *testing.T) {
	ctx := context.Background()
	c := NewRoomCache(NewMemoryBackend(), newSource(), time.Minute)

	ok, err := c.RoomExists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.RoomExists(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.RoomExists(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoomCacheSourceError(t *testing.T) {
	src := newSource()
	src.err = errors.New("db down")
	c := NewRoomCache(NewMemoryBackend(), src, time.Minute)

	_, err := c.RoomExists(context.Background(), 1)
	assert.Error(t, err)
}

func TestRoomCacheBackendFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	src := newSource()
	c := NewRoomCache(brokenBackend{}, src, time.Minute)

	ok, err := c.RoomExists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	c.Invalidate(ctx, 1)
}

func TestRoomCachePutAndInvalidate(t *testing.T) {
	ctx := context.Background()
	src := newSource()
	c := NewRoomCache(NewMemoryBackend(), src, time.Minute)

	c.Put(ctx, &models.Room{ID: 5, Name: "fresh"})
	room, err := c.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "fresh", room.Name)
	assert.Zero(t, src.calls.Load())

	c.Invalidate(ctx, 5)
	_, err = c.Get(ctx, 5)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRoomCacheCollapsesConcurrentMisses(t *testing.T) {
	src := newSource()
	src.delay = 50 * time.Millisecond
	c := NewRoomCache(NewMemoryBackend(), src, time.Minute)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, src.calls.Load(), int32(10))
}

func TestMemoryBackendExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Second))
	data, found, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), data)

	now = now.Add(time.Second)
	_, found, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, b.Len())

	require.NoError(t, b.Set(ctx, "forever", []byte("x"), 0))
	now = now.Add(24 * time.Hour)
	_, found, _ = b.Get(ctx, "forever")
	assert.True(t, found)

	require.NoError(t, b.Delete(ctx, "forever"))
	_, found, _ = b.Get(ctx, "forever")
	assert.False(t, found)
}
