package realtime

import (
	"fmt"
	"time"

	"roomchat/internal/models"
)

// TypingDisplayWindow is how long clients show a typing indicator. The
// server never expires typing state; it only advertises the window.
const TypingDisplayWindow = 3 * time.Second

// Presence turns membership changes into room notices.
type Presence struct {
	dir      *Directory
	dispatch *Dispatcher
	now      func() time.Time
}

func NewPresence(dir *Directory, dispatch *Dispatcher) *Presence {
	return &Presence{dir: dir, dispatch: dispatch, now: time.Now}
}

func (p *Presence) Joined(roomID int, username string) {
	p.dispatch.Broadcast(roomID, &models.Event{
		Type:      models.EventUserJoined,
		Username:  username,
		Message:   fmt.Sprintf("%s joined the room", username),
		Timestamp: p.now().UTC().Format(time.RFC3339),
		RoomID:    roomID,
	}, "")
	p.MembersList(roomID)
}

func (p *Presence) Left(roomID int, username string) {
	p.dispatch.Broadcast(roomID, &models.Event{
		Type:      models.EventUserLeft,
		Username:  username,
		Message:   fmt.Sprintf("%s left the room", username),
		Timestamp: p.now().UTC().Format(time.RFC3339),
		RoomID:    roomID,
	}, "")
	p.MembersList(roomID)
}

// MembersList broadcasts the full member list of roomID.
func (p *Presence) MembersList(roomID int) {
	p.dispatch.Broadcast(roomID, p.membersEvent(roomID), "")
}

func (p *Presence) membersEvent(roomID int) *models.Event {
	return &models.Event{
		Type:   models.EventMembersList,
		Users:  p.dir.MembersOf(roomID),
		RoomID: roomID,
	}
}

// Typing tells everyone else in the sender's room that they are typing.
func (p *Presence) Typing(s *Session) int {
	roomID := s.RoomID()
	return p.dispatch.Broadcast(roomID, &models.Event{
		Type:     models.EventUserTyping,
		Username: s.Username(),
		RoomID:   roomID,
	}, s.ID())
}
