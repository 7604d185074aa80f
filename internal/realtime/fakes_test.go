package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"roomchat/internal/models"

	"github.com/stretchr/testify/require"
)

var errStorageDown = errors.New("storage down")

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.frames = append(c.frames, data)
	return true
}

func (c *fakeConn) setFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

func (c *fakeConn) events(t *testing.T) []models.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Event, 0, len(c.frames))
	for _, f := range c.frames {
		var ev models.Event
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, typ models.EventType) []models.Event {
	t.Helper()
	var out []models.Event
	for _, ev := range c.events(t) {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) last(t *testing.T, typ models.EventType) models.Event {
	t.Helper()
	evs := c.ofType(t, typ)
	require.NotEmpty(t, evs, "no %s event", typ)
	return evs[len(evs)-1]
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// memStore implements every collaborator the engine needs, with switches
// to inject storage faults.
type memStore struct {
	mu       sync.Mutex
	rooms    map[int]bool
	users    map[string]int
	names    map[int]string
	messages []*models.Message
	open     map[string]int
	connects int

	failSave   bool
	failLoad   bool
	failOpen   bool
	failClose  bool
	failLookup bool
	failUsers  bool
}

func newMemStore(roomIDs ...int) *memStore {
	s := &memStore{
		rooms: make(map[int]bool),
		users: make(map[string]int),
		names: make(map[int]string),
		open:  make(map[string]int),
	}
	for _, id := range roomIDs {
		s.rooms[id] = true
	}
	return s
}

func (s *memStore) set(fn func(*memStore)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *memStore) RoomExists(_ context.Context, roomID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookup {
		return false, errStorageDown
	}
	return s.rooms[roomID], nil
}

func (s *memStore) FindOrCreateUser(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers {
		return nil, errStorageDown
	}
	id, ok := s.users[username]
	if !ok {
		id = len(s.users) + 1
		s.users[username] = id
		s.names[id] = username
	}
	return &models.User{ID: id, Username: username}, nil
}

func (s *memStore) SaveMessage(_ context.Context, roomID, userID int, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return nil, errStorageDown
	}
	msg := &models.Message{
		ID:        int64(len(s.messages) + 1),
		RoomID:    roomID,
		UserID:    userID,
		Username:  s.names[userID],
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memStore) LoadRecentMessages(_ context.Context, roomID, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLoad {
		return nil, errStorageDown
	}
	var out []*models.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) OpenConnection(_ context.Context, userID int, connID string, roomID int) (*models.ConnectionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpen {
		return nil, errStorageDown
	}
	s.connects++
	s.open[connID] = roomID
	return &models.ConnectionEvent{UserID: userID, ConnectionID: connID, RoomID: roomID}, nil
}

func (s *memStore) CloseConnection(_ context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failClose {
		return errStorageDown
	}
	delete(s.open, connID)
	return nil
}

func (s *memStore) openRoom(connID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.open[connID]
	return roomID, ok
}

func (s *memStore) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func newTestEngine(store *memStore) *Engine {
	return NewEngine(store, store, store, Options{HistoryLimit: 100, MaxMessageLength: 50})
}
