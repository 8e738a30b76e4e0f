package core

import "github.com/dkeye/Huddle/internal/domain"

type ConnState int

const (
	Unjoined ConnState = iota
	Joined
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Unjoined:
		return "unjoined"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// SessionContext is the room association a connection acquires on join.
// It is a value: replacing it is the only way to change it.
type SessionContext struct {
	RoomID        domain.RoomID
	ParticipantID domain.ParticipantID
	DisplayName   string
}

func (c SessionContext) Identity() domain.Identity {
	return domain.Identity{ParticipantID: c.ParticipantID, DisplayName: c.DisplayName}
}

// Session binds a connection id, its transport endpoint and its presence state.
type Session struct {
	ID     domain.ConnID
	Signal SignalConnection

	state ConnState
	ctx   SessionContext
}

func NewSession(id domain.ConnID, sig SignalConnection) *Session {
	return &Session{ID: id, Signal: sig}
}

func (s *Session) State() ConnState { return s.state }

// Context returns the recorded association; ok is false unless the session is joined.
func (s *Session) Context() (SessionContext, bool) {
	if s.state != Joined {
		return SessionContext{}, false
	}
	return s.ctx, true
}

// Bind records ctx and moves the session to Joined. A closed session stays closed.
func (s *Session) Bind(ctx SessionContext) bool {
	if s.state == Closed {
		return false
	}
	s.ctx = ctx
	s.state = Joined
	return true
}

// Close moves the session to Closed and returns the association it held, if any.
func (s *Session) Close() (SessionContext, bool) {
	prev, ok := s.Context()
	s.state = Closed
	s.ctx = SessionContext{}
	return prev, ok
}
