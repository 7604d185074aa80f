// Package realtime holds the room messaging engine: sessions, room
// membership, fan-out, persistence and presence. It knows nothing about the
// transport; connections reach it through the Conn interface.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/pkg/logger"
)

const maxUsernameLength = 30

// UserResolver maps a display name to a durable user id.
type UserResolver interface {
	FindOrCreateUser(ctx context.Context, username string) (*models.User, error)
}

type Options struct {
	HistoryLimit     int
	MaxMessageLength int
	StoreTimeout     time.Duration
	TypingWindow     time.Duration
	Metrics          *metrics.Metrics
}

type Engine struct {
	registry *Registry
	dir      *Directory
	dispatch *Dispatcher
	gateway  *Gateway
	presence *Presence
	users    UserResolver
	opts     Options
	metrics  *metrics.Metrics
}

func NewEngine(rooms RoomLookup, users UserResolver, store MessageStore, opts Options) *Engine {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 2000
	}
	if opts.TypingWindow <= 0 {
		opts.TypingWindow = TypingDisplayWindow
	}

	dir := NewDirectory(rooms)
	dispatch := NewDispatcher(dir, opts.Metrics)
	return &Engine{
		registry: NewRegistry(dir),
		dir:      dir,
		dispatch: dispatch,
		gateway:  NewGateway(store, opts.StoreTimeout, opts.Metrics),
		presence: NewPresence(dir, dispatch),
		users:    users,
		opts:     opts,
		metrics:  opts.Metrics,
	}
}

// Connect opens a session for conn and greets it.
func (e *Engine) Connect(conn Conn) *Session {
	s, created := e.registry.open(conn)
	if !created {
		return s
	}
	e.metrics.SessionOpened()

	e.dispatch.SendTo(conn, &models.Event{
		Type:           models.EventWelcome,
		ConnectionID:   conn.ID(),
		TypingWindowMS: e.opts.TypingWindow.Milliseconds(),
	})
	logger.Debug("session opened", "connection_id", conn.ID())
	return s
}

// Authenticate pins the session to a verified user. Subsequent joins must
// use that username or none.
func (e *Engine) Authenticate(connID string, ident Identity) error {
	return e.registry.Authenticate(connID, ident)
}

// Join places the connection in roomID under username. Joining another room
// leaves the current one atomically. Rejoining the same room with the same
// name only replays presence and history to the caller.
func (e *Engine) Join(ctx context.Context, connID, username string, roomID int) error {
	s, err := e.registry.Get(connID)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	username = strings.TrimSpace(username)
	ident := s.identity()
	if ident != nil {
		if username == "" {
			username = ident.Username
		} else if username != ident.Username {
			return validationError("join", "username does not match your login")
		}
	}
	if username == "" {
		return validationError("join", "username is required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return validationError("join", "username must be at most %d characters", maxUsernameLength)
	}
	if roomID <= 0 {
		return validationError("join", "room id is required")
	}

	exists, err := e.dir.RoomExists(ctx, roomID)
	if err != nil {
		e.metrics.PersistenceError("room_lookup")
		return newError(ErrPersistence, "join", "failed to look up room", err)
	}
	if !exists {
		return newError(ErrRoomNotFound, "join", fmt.Sprintf("room %d does not exist", roomID), nil)
	}

	userID := 0
	if ident != nil {
		userID = ident.UserID
	} else {
		user, err := e.users.FindOrCreateUser(ctx, username)
		if err != nil {
			e.metrics.PersistenceError("resolve_user")
			return newError(ErrPersistence, "join", "failed to resolve user", err)
		}
		userID = user.ID
	}

	prevRoom, prevName, prevUser := s.RoomID(), s.Username(), s.UserID()
	if prevRoom == roomID && prevUser == userID && prevName == username {
		e.dispatch.SendTo(s.conn, e.presence.membersEvent(roomID))
		e.sendHistory(ctx, s, roomID)
		return nil
	}

	if err := e.gateway.RecordConnect(ctx, userID, connID, roomID); err != nil {
		return err
	}

	if err := e.registry.Identify(connID, username, userID); err != nil {
		e.compensateConnect(ctx, connID)
		return err
	}
	if _, err := e.registry.Join(connID, roomID); err != nil {
		e.compensateConnect(ctx, connID)
		return err
	}

	if prevRoom != 0 && prevRoom != roomID {
		e.presence.Left(prevRoom, prevName)
	}
	e.presence.Joined(roomID, username)
	e.sendHistory(ctx, s, roomID)

	logger.Info("user joined room", "connection_id", connID, "username", username, "room_id", roomID, "previous_room_id", prevRoom)
	return nil
}

// compensateConnect closes the ConnectionEvent of a join that could not be
// applied in memory.
func (e *Engine) compensateConnect(ctx context.Context, connID string) {
	if err := e.gateway.RecordDisconnect(context.WithoutCancel(ctx), connID); err != nil {
		logger.Error("failed to close connection event after aborted join", "connection_id", connID, "error", err)
	}
}

func (e *Engine) sendHistory(ctx context.Context, s *Session, roomID int) {
	msgs, err := e.gateway.History(ctx, roomID, e.opts.HistoryLimit)
	if err != nil {
		logger.Error("failed to load history", "connection_id", s.ID(), "room_id", roomID, "error", err)
		e.sendError(s.conn, err)
		return
	}
	e.dispatch.SendTo(s.conn, &models.Event{
		Type:     models.EventMessageHistory,
		Messages: msgs,
		RoomID:   roomID,
	})
}

// SendMessage persists text in the sender's room and delivers it to every
// member, the sender included. roomID 0 means the sender's current room.
func (e *Engine) SendMessage(ctx context.Context, connID string, roomID int, text string) error {
	s, err := e.registry.Get(connID)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	current := s.RoomID()
	if current == 0 {
		return newError(ErrNotIdentified, "message", "join a room before sending messages", nil)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return validationError("message", "message cannot be empty")
	}
	if utf8.RuneCountInString(text) > e.opts.MaxMessageLength {
		return validationError("message", "message must be at most %d characters", e.opts.MaxMessageLength)
	}
	if roomID != 0 && roomID != current {
		return validationError("message", "you are not in room %d", roomID)
	}

	msg, err := e.gateway.AppendMessage(ctx, current, s.UserID(), text)
	if err != nil {
		return err
	}

	e.dispatch.Broadcast(current, &models.Event{
		Type:      models.EventMessageReceived,
		ID:        msg.ID,
		Username:  s.Username(),
		Message:   msg.Text,
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
		RoomID:    current,
	}, "")
	return nil
}

// Typing relays a typing signal to the rest of the sender's room.
func (e *Engine) Typing(connID string, roomID int) error {
	s, err := e.registry.Get(connID)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	current := s.RoomID()
	if current == 0 {
		return newError(ErrNotIdentified, "typing", "join a room first", nil)
	}
	if roomID != 0 && roomID != current {
		return validationError("typing", "you are not in room %d", roomID)
	}
	e.presence.Typing(s)
	return nil
}

// Disconnect closes the session. Calling it for an unknown or already
// closed connection is a no-op. A storage failure is logged and does not stop
// the in-memory cleanup.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	s, err := e.registry.Get(connID)
	if err != nil {
		return
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	roomID, username := s.RoomID(), s.Username()
	if roomID != 0 {
		if err := e.gateway.RecordDisconnect(ctx, connID); err != nil {
			logger.Error("failed to record disconnect", "connection_id", connID, "error", err)
		}
	}

	if e.registry.Close(connID) == nil {
		return
	}
	e.metrics.SessionClosed()

	if roomID != 0 {
		e.presence.Left(roomID, username)
		logger.Info("user left room", "connection_id", connID, "username", username, "room_id", roomID)
	}
}

// HandleEvent dispatches one inbound frame. Any error is also reported to
// the originating connection as an error event.
func (e *Engine) HandleEvent(ctx context.Context, connID string, ev models.InboundEvent) error {
	e.metrics.EventReceived(string(ev.Type))

	var err error
	switch ev.Type {
	case models.EventJoin:
		err = e.Join(ctx, connID, ev.Username, ev.RoomID)
	case models.EventMessage:
		err = e.SendMessage(ctx, connID, ev.RoomID, ev.Message)
	case models.EventTyping:
		err = e.Typing(connID, ev.RoomID)
	default:
		err = validationError("event", "unknown event type %q", ev.Type)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrPersistence) {
		logger.Error("event failed", "connection_id", connID, "type", ev.Type, "error", err)
	} else {
		logger.Debug("event rejected", "connection_id", connID, "type", ev.Type, "error", err)
	}
	if s, getErr := e.registry.Get(connID); getErr == nil {
		e.sendError(s.conn, err)
	}
	return err
}

func (e *Engine) sendError(conn Conn, err error) {
	e.dispatch.SendTo(conn, &models.Event{
		Type:    models.EventError,
		Message: Reason(err),
	})
}

// History returns recent messages for the HTTP API.
func (e *Engine) History(ctx context.Context, roomID, limit int) ([]*models.Message, error) {
	return e.gateway.History(ctx, roomID, limit)
}

func (e *Engine) MembersOf(roomID int) []string {
	return e.dir.MembersOf(roomID)
}

func (e *Engine) SessionCount() int {
	return e.registry.Count()
}

// Shutdown disconnects every open session so no connection event stays
// open after the process exits.
func (e *Engine) Shutdown(ctx context.Context) error {
	sessions := e.registry.Sessions()
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.Disconnect(ctx, s.ID())
	}
	logger.Info("engine stopped", "sessions_closed", len(sessions))
	return nil
}
