package realtime

import (
	"sync"
)

// Conn is the engine's view of a client connection. Send must not block; it
// reports false when the frame could not be queued.
type Conn interface {
	ID() string
	Send(data []byte) bool
}

// Session is the server-side state of one connection. RoomID 0 means the
// session has not joined a room.
type Session struct {
	conn Conn

	// opMu serialises engine operations for this connection.
	opMu sync.Mutex

	mu        sync.RWMutex
	username  string
	userID    int
	roomID    int
	closed    bool
	tokenUser *Identity
}

// Identity is a user proven by the transport, typically from a token.
type Identity struct {
	UserID   int
	Username string
}

func (s *Session) ID() string { return s.conn.ID() }

func (s *Session) Conn() Conn { return s.conn }

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) UserID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) RoomID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenUser
}

// Registry maps connection ids to sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dir      *Directory
}

func NewRegistry(dir *Directory) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		dir:      dir,
	}
}

// Open registers conn and returns its session. Opening an id twice returns
// the existing session.
func (r *Registry) Open(conn Conn) *Session {
	s, _ := r.open(conn)
	return s
}

func (r *Registry) open(conn Conn) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[conn.ID()]; ok {
		return s, false
	}
	s := &Session{conn: conn}
	r.sessions[conn.ID()] = s
	return s, true
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, newError(ErrNotOpen, "lookup", "connection is not open", nil)
	}
	return s, nil
}

// Identify binds a username and user id to the session without touching
// room membership.
func (r *Registry) Identify(id, username string, userID int) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError(ErrNotOpen, "identify", "connection is not open", nil)
	}
	s.username = username
	s.userID = userID
	return nil
}

// Authenticate records a transport-proven identity; later joins must use it.
func (r *Registry) Authenticate(id string, ident Identity) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError(ErrNotOpen, "authenticate", "connection is not open", nil)
	}
	s.tokenUser = &ident
	return nil
}

// Join moves the session into roomID and returns the room it left (0 if
// none). The move is atomic with respect to membership readers.
func (r *Registry) Join(id string, roomID int) (int, error) {
	s, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	return r.dir.move(s, roomID)
}

// Close forgets the session and removes it from its room. It returns the
// closed session, or nil when id was not open.
func (r *Registry) Close(id string) *Session {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.closed = true
	roomID := s.roomID
	s.mu.Unlock()

	if roomID != 0 {
		r.dir.RemoveMember(roomID, id)
	}
	return s
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of every open session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
