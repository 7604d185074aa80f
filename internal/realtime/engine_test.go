package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"roomchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectAndJoin(t *testing.T, e *Engine, id, username string, roomID int) *fakeConn {
	t.Helper()
	conn := newFakeConn(id)
	e.Connect(conn)
	require.NoError(t, e.Join(context.Background(), id, username, roomID))
	return conn
}

func TestConnectSendsWelcome(t *testing.T) {
	e := newTestEngine(newMemStore(1))
	conn := newFakeConn("c1")

	s1 := e.Connect(conn)
	s2 := e.Connect(conn)
	assert.Same(t, s1, s2)

	welcomes := conn.ofType(t, models.EventWelcome)
	require.Len(t, welcomes, 1)
	assert.Equal(t, "c1", welcomes[0].ConnectionID)
	assert.EqualValues(t, 3000, welcomes[0].TypingWindowMS)
	assert.Equal(t, 1, e.SessionCount())
}

func TestJoinBroadcastsPresence(t *testing.T) {
	store := newMemStore(1)
	e := newTestEngine(store)

	alice := connectAndJoin(t, e, "a", "alice", 1)
	assert.Equal(t, []string{"alice"}, alice.last(t, models.EventMembersList).Users)

	history := alice.last(t, models.EventMessageHistory)
	assert.NotNil(t, history.Messages)
	assert.Empty(t, history.Messages)
	assert.Equal(t, 1, history.RoomID)

	alice.reset()
	connectAndJoin(t, e, "b", "bob", 1)

	joined := alice.last(t, models.EventUserJoined)
	assert.Equal(t, "bob", joined.Username)
	assert.Contains(t, joined.Message, "bob")
	assert.NotEmpty(t, joined.Timestamp)
	assert.Equal(t, []string{"alice", "bob"}, alice.last(t, models.EventMembersList).Users)
	assert.Equal(t, []string{"alice", "bob"}, e.MembersOf(1))

	roomID, ok := store.openRoom("b")
	require.True(t, ok)
	assert.Equal(t, 1, roomID)
}

func TestJoinEventOrder(t *testing.T) {
	e := newTestEngine(newMemStore(1))
	alice := connectAndJoin(t, e, "a", "alice", 1)

	var types []models.EventType
	for _, ev := range alice.events(t) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventWelcome,
		models.EventUserJoined,
		models.EventMembersList,
		models.EventMessageHistory,
	}, types)
}

func TestMessageReachesWholeRoomAndHistory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemStore(1))
	alice := connectAndJoin(t, e, "a", "alice", 1)
	bob := connectAndJoin(t, e, "b", "bob", 1)

	require.NoError(t, e.SendMessage(ctx, "a", 1, "  hi  "))

	for _, conn := range []*fakeConn{alice, bob} {
		got := conn.last(t, models.EventMessageReceived)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "hi", got.Message)
		assert.Equal(t, 1, got.RoomID)
		assert.NotZero(t, got.ID)
		assert.NotEmpty(t, got.Timestamp)
	}

	history, err := e.History(ctx, 1, 100)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, "hi", history[len(history)-1].Text)

	// roomId 0 means the sender's room
	require.NoError(t, e.SendMessage(ctx, "b", 0, "hello"))
	assert.Equal(t, "hello", alice.last(t, models.EventMessageReceived).Message)
}

func TestJoinReplaysHistory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemStore(1))
	connectAndJoin(t, e, "a", "alice", 1)
	for i := range 3 {
		require.NoError(t, e.SendMessage(ctx, "a", 1, fmt.Sprintf("m%d", i)))
	}

	bob := connectAndJoin(t, e, "b", "bob", 1)
	history := bob.last(t, models.EventMessageHistory)
	require.Len(t, history.Messages, 3)
	assert.Equal(t, "m0", history.Messages[0].Text)
	assert.Equal(t, "alice", history.Messages[2].Username)
}

func TestDisconnectBroadcastsLeft(t *testing.T) {
	store := newMemStore(1)
	e := newTestEngine(store)
	alice := connectAndJoin(t, e, "a", "alice", 1)
	connectAndJoin(t, e, "b", "bob", 1)
	alice.reset()

	e.Disconnect(context.Background(), "b")

	left := alice.last(t, models.EventUserLeft)
	assert.Equal(t, "bob", left.Username)
	assert.Equal(t, []string{"alice"}, alice.last(t, models.EventMembersList).Users)

	_, open := store.openRoom("b")
	assert.False(t, open)
	assert.Equal(t, 1, e.SessionCount())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	e := newTestEngine(newMemStore(1))
	alice := connectAndJoin(t, e, "a", "alice", 1)
	connectAndJoin(t, e, "b", "bob", 1)
	alice.reset()

	e.Disconnect(context.Background(), "b")
	e.Disconnect(context.Background(), "b")
	e.Disconnect(context.Background(), "never-connected")

	assert.Len(t, alice.ofType(t, models.EventUserLeft), 1)
	assert.Equal(t, []string{"alice"}, e.MembersOf(1))
}

func TestDisconnectStorageFailureStillCleansUp(t *testing.T) {
	store := newMemStore(1)
	e := newTestEngine(store)
	alice := connectAndJoin(t, e, "a", "alice", 1)
	connectAndJoin(t, e, "b", "bob", 1)
	store.set(func(s *memStore) { s.failClose = true })

	e.Disconnect(context.Background(), "b")

	assert.Equal(t, []string{"alice"}, e.MembersOf(1))
	assert.Equal(t, "bob", alice.last(t, models.EventUserLeft).Username)
}

func TestDisconnectBeforeJoin(t *testing.T) {
	store := newMemStore(1)
	e := newTestEngine(store)
	e.Connect(newFakeConn("a"))

	e.Disconnect(context.Background(), "a")
	assert.Zero(t, e.SessionCount())
}

func TestAppendFailureNotifiesOnlySender(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(1)
	e := newTestEngine(store)
	alice := connectAndJoin(t, e, "a", "alice", 1)
	bob := connectAndJoin(t, e, "b", "bob", 1)
	alice.reset()
	bob.reset()
	store.set(func(s *memStore) { s.failSave = true })

	err := e.HandleEvent(ctx, "a", models.InboundEvent{Type: models.EventMessage, Message: "lost", RoomID: 1})
	require.ErrorIs(t, err, ErrPersistence)

	assert.Len(t, alice.ofType(t, models.EventError), 1)
	assert.Empty(t, alice.ofType(t, models.EventMessageReceived))
	assert.Empty(t, bob.events(t))

	history, err := e.History(ctx, 1, 100)
	require.NoError(t, err)
	for _, m := range history {
		assert.NotEqual(t, "lost", m.Text)
	}
	// the earlier join is not undone
	assert.Equal(t, []string{"alice", "bob"}, e.MembersOf(1))
}

func TestMessageRejections(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemStore(1, 2))
	e.Connect(newFakeConn("lurker"))
	connectAndJoin(t, e, "a", "alice", 1)

	tests := []struct {
		name   string
		connID string
		roomID int
		text   string
		kind   error
	}{
		{"not open", "ghost", 1, "hi", ErrNotOpen},
		{"not joined", "lurker", 1, "hi", ErrNotIdentified},
		{"empty", "a", 1, "   ", ErrValidation},
		{"too long", "a", 1, strings.Repeat("x", 51), ErrValidation},
		{"other room", "a", 2, "hi", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.SendMessage(ctx, tt.connID, tt.roomID, tt.text)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	history, err := e.History(ctx, 1, 100)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestJoinRejections(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(1)
	e := newTestEngine(store)
	e.Connect(newFakeConn("a"))

	assert.ErrorIs(t, e.Join(ctx, "ghost", "alice", 1), ErrNotOpen)
	assert.ErrorIs(t, e.Join(ctx, "a", " ", 1), ErrValidation)
	assert.ErrorIs(t, e.Join(ctx, "a", strings.Repeat("n", 31), 1), ErrValidation)
	assert.ErrorIs(t, e.Join(ctx, "a", "alice", 0), ErrValidation)
	assert.ErrorIs(t, e.Join(ctx, "a", "alice", 99), ErrRoomNotFound)

	store.set(func(s *memStore) { s.failLookup = true })
	assert.ErrorIs(t, e.Join(ctx, "a", "alice", 1), ErrPersistence)
	store.set(func(s *memStore) { s.failLookup = false; s.failUsers = true })
	assert.ErrorIs(t, e.Join(ctx, "a", "alice", 1), ErrPersistence)

	assert.Empty(t, e.MembersOf(1))
	assert.Zero(t, store.connectCount())
}

func TestJoinRecordConnectFailureChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(1, 2)
	e := newTestEngine(store)
	alice := connectAndJoin(t, e, "a", "alice", 1)
	store.set(func(s *memStore) { s.failOpen = true })
	alice.reset()

	err := e.Join(ctx, "a", "alice", 2)
	require.ErrorIs(t, err, ErrPersistence)

	assert.Equal(t, []string{"alice"}, e.MembersOf(1))
	assert.Empty(t, e.MembersOf(2))
	assert.Empty(t, alice.ofType(t, models.EventUserLeft))
	roomID, _ := store.openRoom("a")
	assert.Equal(t, 1, roomID)
}

func TestRoomSwitch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(1, 2)
	e := newTestEngine(store)
	alice := connectAndJoin(t, e, "a", "alice", 1)
	bob := connectAndJoin(t, e, "b", "bob", 1)
	bob.reset()

	require.NoError(t, e.Join(ctx, "a", "alice", 2))

	assert.Equal(t, "alice", bob.last(t, models.EventUserLeft).Username)
	assert.Equal(t, []string{"bob"}, bob.last(t, models.EventMembersList).Users)
	assert.Equal(t, []string{"bob"}, e.MembersOf(1))
	assert.Equal(t, []string{"alice"}, e.MembersOf(2))
	assert.Equal(t, 2, alice.last(t, models.EventMessageHistory).RoomID)

	roomID, ok := store.openRoom("a")
	require.True(t, ok)
	assert.Equal(t, 2, roomID)
}

func TestRejoinSameRoomOnlyReplays(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(1)
	e := newTestEngine(store)
	alice := connectAndJoin(t, e, "a", "alice", 1)
	bob := connectAndJoin(t, e, "b", "bob", 1)
	alice.reset()
	bob.reset()

	require.NoError(t, e.Join(ctx, "a", "alice", 1))

	assert.Equal(t, 2, store.connectCount())
	assert.Empty(t, bob.events(t))
	assert.Equal(t, []string{"alice", "bob"}, alice.last(t, models.EventMembersList).Users)
	assert.Len(t, alice.ofType(t, models.EventMessageHistory), 1)
}

func TestRenameInPlaceKeepsPosition(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemStore(1))
	connectAndJoin(t, e, "a", "alice", 1)
	connectAndJoin(t, e, "b", "bob", 1)

	require.NoError(t, e.Join(ctx, "a", "alicia", 1))
	assert.Equal(t, []string{"alicia", "bob"}, e.MembersOf(1))
}

func TestDuplicateUsernamesListedPerConnection(t *testing.T) {
	e := newTestEngine(newMemStore(1))
	connectAndJoin(t, e, "a1", "alice", 1)
	connectAndJoin(t, e, "a2", "alice", 1)

	assert.Equal(t, []string{"alice", "alice"}, e.MembersOf(1))
}

func TestTypingExcludesSender(t *testing.T) {
	e := newTestEngine(newMemStore(1, 2))
	alice := connectAndJoin(t, e, "a", "alice", 1)
	bob := connectAndJoin(t, e, "b", "bob", 1)
	carol := connectAndJoin(t, e, "c", "carol", 2)

	require.NoError(t, e.Typing("a", 1))
	require.NoError(t, e.Typing("a", 1))

	assert.Empty(t, alice.ofType(t, models.EventUserTyping))
	assert.Empty(t, carol.ofType(t, models.EventUserTyping))
	typing := bob.ofType(t, models.EventUserTyping)
	require.Len(t, typing, 2, "no dedup")
	assert.Equal(t, "alice", typing[0].Username)

	assert.ErrorIs(t, e.Typing("a", 2), ErrValidation)
	e.Connect(newFakeConn("lurker"))
	assert.ErrorIs(t, e.Typing("lurker", 1), ErrNotIdentified)
}

func TestAuthenticatedIdentity(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(1)
	e := newTestEngine(store)
	conn := newFakeConn("a")
	e.Connect(conn)
	require.NoError(t, e.Authenticate("a", Identity{UserID: 42, Username: "alice"}))

	assert.ErrorIs(t, e.Join(ctx, "a", "mallory", 1), ErrValidation)
	require.NoError(t, e.Join(ctx, "a", "", 1))
	assert.Equal(t, []string{"alice"}, e.MembersOf(1))

	s, err := e.registry.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 42, s.UserID())
	store.mu.Lock()
	assert.Empty(t, store.users, "token users are not re-resolved")
	store.mu.Unlock()
}

func TestSlowRecipientIsSkipped(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemStore(1))
	alice := connectAndJoin(t, e, "a", "alice", 1)
	bob := connectAndJoin(t, e, "b", "bob", 1)
	carol := connectAndJoin(t, e, "c", "carol", 1)
	bob.setFull(true)

	require.NoError(t, e.SendMessage(ctx, "a", 1, "hi"))

	assert.Len(t, alice.ofType(t, models.EventMessageReceived), 1)
	assert.Len(t, carol.ofType(t, models.EventMessageReceived), 1)
	assert.Empty(t, bob.ofType(t, models.EventMessageReceived))
	// still a member
	assert.Equal(t, []string{"alice", "bob", "carol"}, e.MembersOf(1))
}

func TestHandleEventReportsErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemStore(1))
	conn := newFakeConn("a")
	e.Connect(conn)

	err := e.HandleEvent(ctx, "a", models.InboundEvent{Type: "dance"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, conn.last(t, models.EventError).Message, "unknown event type")

	err = e.HandleEvent(ctx, "a", models.InboundEvent{Type: models.EventMessage, Message: "hi"})
	require.ErrorIs(t, err, ErrNotIdentified)
	assert.Equal(t, "join a room before sending messages", conn.last(t, models.EventError).Message)

	require.NoError(t, e.HandleEvent(ctx, "a", models.InboundEvent{Type: models.EventJoin, Username: "alice", RoomID: 1}))
	require.NoError(t, e.HandleEvent(ctx, "a", models.InboundEvent{Type: models.EventTyping, RoomID: 1}))
	require.NoError(t, e.HandleEvent(ctx, "a", models.InboundEvent{Type: models.EventMessage, Message: "hi", RoomID: 1}))
}

func TestHistoryFailureOnJoinSendsError(t *testing.T) {
	store := newMemStore(1)
	e := newTestEngine(store)
	store.set(func(s *memStore) { s.failLoad = true })

	alice := connectAndJoin(t, e, "a", "alice", 1)
	assert.Len(t, alice.ofType(t, models.EventError), 1)
	assert.Empty(t, alice.ofType(t, models.EventMessageHistory))
	assert.Equal(t, []string{"alice"}, e.MembersOf(1))
}

func TestShutdownClosesEverySession(t *testing.T) {
	store := newMemStore(1, 2)
	e := newTestEngine(store)
	connectAndJoin(t, e, "a", "alice", 1)
	connectAndJoin(t, e, "b", "bob", 2)
	e.Connect(newFakeConn("c"))

	require.NoError(t, e.Shutdown(context.Background()))

	assert.Zero(t, e.SessionCount())
	assert.Empty(t, e.MembersOf(1))
	assert.Empty(t, e.MembersOf(2))
	store.mu.Lock()
	assert.Empty(t, store.open)
	store.mu.Unlock()
}

func TestConcurrentSessionsNeverInTwoRooms(t *testing.T) {
	ctx := context.Background()
	rooms := []int{1, 2, 3, 4}
	e := newTestEngine(newMemStore(rooms...))

	const sessions = 8
	for i := range sessions {
		e.Connect(newFakeConn(fmt.Sprintf("s%d", i)))
	}

	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			for j := range 50 {
				roomID := rooms[(i+j)%len(rooms)]
				assert.NoError(t, e.Join(ctx, id, fmt.Sprintf("user%d", i), roomID))
				if j%7 == 0 {
					assert.NoError(t, e.SendMessage(ctx, id, 0, "ping"))
				}
			}
		}(i)
	}

	wg.Wait()

	seen := map[string]int{}
	for _, r := range rooms {
		for _, m := range e.dir.Members(r) {
			seen[m.ConnectionID]++
		}
	}
	assert.Len(t, seen, sessions)
	for id, n := range seen {
		assert.Equal(t, 1, n, "session %s in %d rooms", id, n)
	}
}
