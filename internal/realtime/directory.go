package realtime

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// RoomLookup answers whether a room exists in durable storage.
type RoomLookup interface {
	RoomExists(ctx context.Context, roomID int) (bool, error)
}

// Member is one session's presence in a room.
type Member struct {
	ConnectionID string
	Username     string

	conn Conn
	seq  uint64
}

type roomShard struct {
	mu      sync.Mutex
	members map[string]*Member
}

// Directory tracks room membership. Each room has its own lock; d.mu only
// guards the shard map, so different rooms never contend.
type Directory struct {
	mu     sync.Mutex
	shards map[int]*roomShard
	seq    atomic.Uint64
	lookup RoomLookup
}

func NewDirectory(lookup RoomLookup) *Directory {
	return &Directory{
		shards: make(map[int]*roomShard),
		lookup: lookup,
	}
}

// shard returns the shard for roomID, creating it on first use. Shards are
// never removed so a lock, once taken, stays the room's lock.
func (d *Directory) shard(roomID int) *roomShard {
	d.mu.Lock()
	defer d.mu.Unlock()

	sh, ok := d.shards[roomID]
	if !ok {
		sh = &roomShard{members: make(map[string]*Member)}
		d.shards[roomID] = sh
	}
	return sh
}

func (d *Directory) RoomExists(ctx context.Context, roomID int) (bool, error) {
	if roomID <= 0 {
		return false, nil
	}
	return d.lookup.RoomExists(ctx, roomID)
}

// AddMember records s in roomID. Adding a present member is a no-op.
func (d *Directory) AddMember(roomID int, s *Session) {
	sh := d.shard(roomID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.members[s.ID()]; ok {
		return
	}
	sh.members[s.ID()] = d.newMember(s, s.Username())
}

// RemoveMember drops connID from roomID. Removing a non-member is a no-op.
func (d *Directory) RemoveMember(roomID int, connID string) {
	sh := d.shard(roomID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.members, connID)
}

// MembersOf returns the usernames in roomID in the order their sessions
// entered the room. A username appears once per connection.
func (d *Directory) MembersOf(roomID int) []string {
	members := d.Members(roomID)
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Username
	}
	return names
}

// Members returns a snapshot of roomID's members in entry order.
func (d *Directory) Members(roomID int) []Member {
	sh := d.shard(roomID)
	sh.mu.Lock()
	out := make([]Member, 0, len(sh.members))
	for _, m := range sh.members {
		out = append(out, *m)
	}
	sh.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (d *Directory) newMember(s *Session, username string) *Member {
	return &Member{
		ConnectionID: s.ID(),
		Username:     username,
		conn:         s.conn,
		seq:          d.seq.Add(1),
	}
}

// move puts s in room to, leaving its current room under both room locks.
// Locks are taken in ascending room id order. Moving into the current room
// refreshes the member's username and keeps its position.
func (d *Directory) move(s *Session, to int) (int, error) {
	if to <= 0 {
		return 0, validationError("join", "room id must be positive")
	}

	for {
		from := s.RoomID()
		unlock := d.lockRooms(from, to)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			unlock()
			return 0, newError(ErrNotOpen, "join", "connection is not open", nil)
		}
		if s.roomID != from {
			// raced with another move; take the right locks and retry
			s.mu.Unlock()
			unlock()
			continue
		}

		dst := d.shard(to)
		if from == to {
			if m, ok := dst.members[s.ID()]; ok {
				m.Username = s.username
			} else {
				dst.members[s.ID()] = d.newMember(s, s.username)
			}
		} else {
			if from != 0 {
				delete(d.shard(from).members, s.ID())
			}
			dst.members[s.ID()] = d.newMember(s, s.username)
		}
		s.roomID = to
		s.mu.Unlock()
		unlock()
		return from, nil
	}
}

func (d *Directory) lockRooms(a, b int) func() {
	if a == b || a == 0 {
		sh := d.shard(b)
		sh.mu.Lock()
		return sh.mu.Unlock
	}
	if a > b {
		a, b = b, a
	}
	first, second := d.shard(a), d.shard(b)
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}
